package matchmaking

import (
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/zulandar/pitchside/internal/challenge"
	"github.com/zulandar/pitchside/internal/draft"
	"github.com/zulandar/pitchside/internal/lineup"
	"github.com/zulandar/pitchside/internal/match"
	"github.com/zulandar/pitchside/internal/queue"
	"github.com/zulandar/pitchside/internal/stats"
	"github.com/zulandar/pitchside/internal/telegraph"
)

// Stack is a fully wired set of services.
type Stack struct {
	Coordinator *Coordinator
	Registry    *queue.Registry
	Negotiator  *challenge.Negotiator
	Drafts      *draft.Engine
	Stats       *stats.Store
}

// StackOpts holds parameters for Build.
type StackOpts struct {
	DB          *gorm.DB
	Notifier    telegraph.Notifier
	DraftStore  draft.Store // defaults to an in-memory store
	IdleTimeout time.Duration
	Seed        int64 // captain sampling seed; 0 uses the clock
	Log         *zap.Logger
	Now         func() time.Time
}

// Build wires every service over one database and notifier.
func Build(opts StackOpts) (*Stack, error) {
	reg, err := queue.NewRegistry(queue.RegistryOpts{DB: opts.DB, Notifier: opts.Notifier, Log: opts.Log})
	if err != nil {
		return nil, err
	}
	fin, err := match.NewFinalizer(match.FinalizerOpts{DB: opts.DB, Notifier: opts.Notifier, Registry: reg, Log: opts.Log})
	if err != nil {
		return nil, err
	}
	neg, err := challenge.NewNegotiator(challenge.NegotiatorOpts{
		DB: opts.DB, Notifier: opts.Notifier, Registry: reg, Finalizer: fin, Log: opts.Log, Now: opts.Now,
	})
	if err != nil {
		return nil, err
	}
	st := stats.NewStore(opts.DB)
	store := opts.DraftStore
	if store == nil {
		store = draft.NewMemoryStore()
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	drafts, err := draft.NewEngine(draft.EngineOpts{
		DB:          opts.DB,
		Store:       store,
		Picker:      draft.NewPicker(st, seed),
		Finalizer:   fin,
		Notifier:    opts.Notifier,
		Log:         opts.Log,
		IdleTimeout: opts.IdleTimeout,
		Now:         opts.Now,
	})
	if err != nil {
		return nil, err
	}
	coord, err := New(Opts{
		DB:         opts.DB,
		Slots:      lineup.NewSlots(opts.DB, opts.Log),
		Registry:   reg,
		Negotiator: neg,
		Drafts:     drafts,
		Log:        opts.Log,
		Now:        opts.Now,
	})
	if err != nil {
		return nil, err
	}
	return &Stack{Coordinator: coord, Registry: reg, Negotiator: neg, Drafts: drafts, Stats: st}, nil
}
