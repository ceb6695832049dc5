package draft

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/zulandar/pitchside/internal/lineup"
	"github.com/zulandar/pitchside/internal/logging"
	"github.com/zulandar/pitchside/internal/match"
	"github.com/zulandar/pitchside/internal/models"
	"github.com/zulandar/pitchside/internal/telegraph"
)

// DefaultIdleTimeout is how long a captain has to pick.
const DefaultIdleTimeout = 138 * time.Second

const maxStartAttempts = 3

var errRosterChanged = errors.New("draft: roster changed")

// Engine starts drafts, applies picks and expires idle sessions.
type Engine struct {
	db        *gorm.DB
	store     Store
	picker    *Picker
	finalizer *match.Finalizer
	notifier  telegraph.Notifier
	log       *zap.Logger
	idle      time.Duration
	now       func() time.Time

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

// EngineOpts holds parameters for creating an Engine.
type EngineOpts struct {
	DB          *gorm.DB
	Store       Store
	Picker      *Picker
	Finalizer   *match.Finalizer
	Notifier    telegraph.Notifier
	Log         *zap.Logger
	IdleTimeout time.Duration    // defaults to DefaultIdleTimeout
	Now         func() time.Time // defaults to time.Now
}

// NewEngine creates an Engine.
func NewEngine(opts EngineOpts) (*Engine, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("draft: db is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("draft: store is required")
	}
	if opts.Finalizer == nil || opts.Notifier == nil {
		return nil, fmt.Errorf("draft: finalizer and notifier are required")
	}
	picker := opts.Picker
	if picker == nil {
		picker = NewPicker(nil, time.Now().UnixNano())
	}
	idle := opts.IdleTimeout
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		db:        opts.DB,
		store:     opts.Store,
		picker:    picker,
		finalizer: opts.Finalizer,
		notifier:  opts.Notifier,
		log:       logging.OrNop(opts.Log),
		idle:      idle,
		now:       now,
		timers:    make(map[string]*time.Timer),
	}, nil
}

// Result is the outcome of a draft step. Match is set once the draft is
// complete.
type Result struct {
	Session *Session
	Match   *match.Match
}

// Session returns the running draft of a context.
func (e *Engine) Session(ctx context.Context, contextID string) (*Session, error) {
	s, err := e.store.Get(ctx, contextID)
	if errors.Is(err, ErrSessionNotFound) {
		return nil, fmt.Errorf("draft: %s: %w", contextID, models.ErrDraftExpired)
	}
	return s, err
}

// Start begins the draft of a full pool lineup. Only one Start per lineup
// can succeed; the flag isDrafting is the lock.
func (e *Engine) Start(ctx context.Context, contextID string) (*Result, error) {
	db := e.db.WithContext(ctx)
	var sess *Session
	for attempt := 0; attempt < maxStartAttempts; attempt++ {
		l, err := lineup.Get(db, contextID)
		if err != nil {
			return nil, err
		}
		if l.IsDrafting {
			return nil, fmt.Errorf("draft: start %s: %w", contextID, models.ErrDraftInProgress)
		}
		if !l.IsPool() || !l.IsEligible() {
			return nil, fmt.Errorf("draft: start %s: %w", contextID, models.ErrNotEligible)
		}
		capA, capB, err := e.picker.Choose(ctx, l.AllUsers())
		if err != nil {
			return nil, fmt.Errorf("draft: captains for %s: %w", contextID, err)
		}
		sess, err = Start(contextID, l.Size, RosterOf(l), capA, capB, e.now().Add(e.idle))
		if err != nil {
			return nil, err
		}
		_, err = lineup.Mutate(db, contextID, func(cur *models.Lineup) error {
			if cur.IsDrafting {
				return models.ErrDraftInProgress
			}
			if cur.Version != l.Version {
				return errRosterChanged
			}
			cur.ClearAll()
			cur.IsDrafting = true
			return nil
		})
		if errors.Is(err, errRosterChanged) {
			sess = nil
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("draft: start %s: %w", contextID, err)
		}
		break
	}
	if sess == nil {
		return nil, fmt.Errorf("draft: start %s: %w", contextID, lineup.ErrConflict)
	}

	e.log.Info("draft started", zap.String("context", contextID),
		zap.String("captain_a", sess.CaptainA.ID), zap.String("captain_b", sess.CaptainB.ID))

	// Nothing left to pick: the session is never stored and no timer runs.
	if sess.Done {
		return e.complete(ctx, sess)
	}
	if err := e.store.Create(ctx, sess); err != nil {
		e.restore(ctx, contextID, sess.Roster)
		return nil, fmt.Errorf("draft: start %s: %w", contextID, err)
	}
	e.arm(contextID, e.idle)
	e.show(ctx, sess)
	return &Result{Session: sess}, nil
}

// Pick applies a captain's choice. A pick after the deadline or after the
// session expired fails with models.ErrDraftExpired.
func (e *Engine) Pick(ctx context.Context, contextID, byUserID, targetUserID string) (*Result, error) {
	for {
		sess, err := e.Session(ctx, contextID)
		if err != nil {
			return nil, err
		}
		if !e.now().Before(sess.Deadline) {
			return nil, fmt.Errorf("draft: pick in %s: %w", contextID, models.ErrDraftExpired)
		}
		done, err := sess.Pick(byUserID, targetUserID)
		if err != nil {
			return nil, err
		}
		if done {
			if err := e.store.Delete(ctx, contextID, sess.Version); err != nil {
				if errors.Is(err, ErrStaleSession) {
					continue
				}
				return nil, e.lost(contextID, err)
			}
			e.disarm(contextID)
			return e.complete(ctx, sess)
		}
		sess.Deadline = e.now().Add(e.idle)
		if err := e.store.Update(ctx, sess); err != nil {
			if errors.Is(err, ErrStaleSession) {
				continue
			}
			return nil, e.lost(contextID, err)
		}
		e.arm(contextID, e.idle)
		e.show(ctx, sess)
		return &Result{Session: sess}, nil
	}
}

func (e *Engine) lost(contextID string, err error) error {
	if errors.Is(err, ErrSessionNotFound) {
		return fmt.Errorf("draft: pick in %s: %w", contextID, models.ErrDraftExpired)
	}
	return fmt.Errorf("draft: pick in %s: %w", contextID, err)
}

// complete hands the finished sides to match finalization. A rejected
// match restores the pre-draft roster.
func (e *Engine) complete(ctx context.Context, sess *Session) (*Result, error) {
	m, err := e.finalizer.FinalizeDraft(ctx, sess.ContextID, sess.Users(models.SideA), sess.Users(models.SideB), sess.CaptainA)
	if err != nil {
		e.restore(ctx, sess.ContextID, sess.Roster)
		return nil, err
	}
	e.log.Info("draft complete", zap.String("context", sess.ContextID))
	return &Result{Session: sess, Match: m}, nil
}

// Expire cancels the draft of a context if its deadline has passed. The
// captain on the clock is dropped and everyone else returns to the role
// they held before the draft. It reports whether the draft was cancelled.
func (e *Engine) Expire(ctx context.Context, contextID string) (bool, error) {
	sess, err := e.store.Get(ctx, contextID)
	if errors.Is(err, ErrSessionNotFound) {
		e.disarm(contextID)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if left := sess.Deadline.Sub(e.now()); left > 0 {
		e.arm(contextID, left)
		return false, nil
	}
	if err := e.store.Delete(ctx, contextID, sess.Version); err != nil {
		if errors.Is(err, ErrStaleSession) || errors.Is(err, ErrSessionNotFound) {
			return false, nil
		}
		return false, err
	}
	e.disarm(contextID)

	idle := sess.TurnCaptain()
	if err := e.restore(ctx, contextID, sess.Restored(idle.ID)); err != nil {
		return true, err
	}
	e.log.Info("draft expired", zap.String("context", contextID), zap.String("captain", idle.ID))
	e.notify(ctx, contextID, telegraph.FormatText("The draft was cancelled: %s did not pick in time and was removed from the lineup.", idle.Name))
	return true, nil
}

// ExpireStale expires every session whose deadline has passed, including
// sessions left behind by a restarted process.
func (e *Engine) ExpireStale(ctx context.Context) (int, error) {
	sessions, err := e.store.List(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, s := range sessions {
		if e.now().Before(s.Deadline) {
			continue
		}
		ok, err := e.Expire(ctx, s.ContextID)
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// Abort drops the draft of a context without touching its lineup, for
// lineups being deleted.
func (e *Engine) Abort(ctx context.Context, contextID string) error {
	e.disarm(contextID)
	for {
		sess, err := e.store.Get(ctx, contextID)
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		err = e.store.Delete(ctx, contextID, sess.Version)
		if errors.Is(err, ErrStaleSession) {
			continue
		}
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		return err
	}
}

// Close stops every idle timer.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	for id, t := range e.timers {
		t.Stop()
		delete(e.timers, id)
	}
}

// restore writes roster back into the lineup and ends drafting.
func (e *Engine) restore(ctx context.Context, contextID string, roster []Pair) error {
	_, err := lineup.Mutate(e.db.WithContext(ctx), contextID, func(l *models.Lineup) error {
		l.ClearAll()
		for _, p := range roster {
			if r := l.FindRole(p.Role, p.Side); r != nil {
				r.Assign(p.User)
			}
		}
		l.IsDrafting = false
		return nil
	})
	if err != nil {
		e.log.Error("restore lineup after draft", zap.String("context", contextID), zap.Error(err))
		return fmt.Errorf("draft: restore %s: %w", contextID, err)
	}
	return nil
}

func (e *Engine) arm(contextID string, d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	if t, ok := e.timers[contextID]; ok {
		t.Stop()
	}
	e.timers[contextID] = time.AfterFunc(d, func() {
		if _, err := e.Expire(context.Background(), contextID); err != nil {
			e.log.Error("expire draft", zap.String("context", contextID), zap.Error(err))
		}
	})
}

func (e *Engine) disarm(contextID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.timers[contextID]; ok {
		t.Stop()
		delete(e.timers, contextID)
	}
}

func (e *Engine) show(ctx context.Context, sess *Session) {
	msg := telegraph.FormatDraft(sess.TurnCaptain(), slotViews(sess.SideA), slotViews(sess.SideB), sess.PoolUsers(), true)
	e.notify(ctx, sess.ContextID, msg)
}

func (e *Engine) notify(ctx context.Context, contextID string, msg telegraph.Message) {
	if _, err := e.notifier.Notify(ctx, contextID, msg); err != nil {
		e.log.Warn("notify draft", zap.String("context", contextID), zap.Error(err))
	}
}

func slotViews(slots []Slot) []telegraph.SlotView {
	out := make([]telegraph.SlotView, len(slots))
	for i, s := range slots {
		out[i] = telegraph.SlotView{Role: s.Role, User: s.User}
	}
	return out
}
