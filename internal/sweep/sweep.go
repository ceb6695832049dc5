// Package sweep periodically expires draft sessions and challenges that
// outlived their deadline, for example across a process restart.
package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/zulandar/pitchside/internal/logging"
)

// cronParser accepts standard 5-field expressions (minute, hour, dom, month,
// dow) and descriptors such as "@every 30s".
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// DraftExpirer expires draft sessions past their deadline.
type DraftExpirer interface {
	ExpireStale(ctx context.Context) (int, error)
}

// ChallengeExpirer cancels challenges created before a cutoff.
type ChallengeExpirer interface {
	ExpireBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// Sweeper runs the expiry jobs on a cron schedule.
type Sweeper struct {
	drafts     DraftExpirer
	challenges ChallengeExpirer
	ttl        time.Duration
	schedule   cron.Schedule
	spec       string
	log        *zap.Logger
	now        func() time.Time
}

// Opts holds parameters for creating a Sweeper.
type Opts struct {
	Drafts       DraftExpirer
	Challenges   ChallengeExpirer
	ChallengeTTL time.Duration // 0 keeps challenges until answered
	Schedule     string        // cron expression, defaults to every minute
	Log          *zap.Logger
	Now          func() time.Time
}

// Result counts what one sweep expired.
type Result struct {
	Drafts     int
	Challenges int
}

// New creates a Sweeper.
func New(opts Opts) (*Sweeper, error) {
	if opts.Drafts == nil {
		return nil, fmt.Errorf("sweep: drafts are required")
	}
	if opts.ChallengeTTL > 0 && opts.Challenges == nil {
		return nil, fmt.Errorf("sweep: challenges are required when a challenge TTL is set")
	}
	spec := opts.Schedule
	if spec == "" {
		spec = "* * * * *"
	}
	sched, err := cronParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("sweep: schedule %q: %w", spec, err)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Sweeper{
		drafts:     opts.Drafts,
		challenges: opts.Challenges,
		ttl:        opts.ChallengeTTL,
		schedule:   sched,
		spec:       spec,
		log:        logging.OrNop(opts.Log).Named("sweep"),
		now:        now,
	}, nil
}

// Next returns the next time the sweep fires after t.
func (s *Sweeper) Next(t time.Time) time.Time {
	return s.schedule.Next(t)
}

// Sweep runs every expiry job once. A failing job does not stop the others;
// the first error is returned.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	var (
		res      Result
		firstErr error
	)
	n, err := s.drafts.ExpireStale(ctx)
	res.Drafts = n
	if err != nil {
		firstErr = fmt.Errorf("sweep: drafts: %w", err)
	}
	if s.ttl > 0 {
		n, err := s.challenges.ExpireBefore(ctx, s.now().Add(-s.ttl))
		res.Challenges = n
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("sweep: challenges: %w", err)
		}
	}
	return res, firstErr
}

// Run sweeps on schedule until ctx is cancelled, then waits for a running
// sweep to finish.
func (s *Sweeper) Run(ctx context.Context) error {
	c := cron.New(cron.WithParser(cronParser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(s.schedule, cron.FuncJob(func() { s.runOnce(ctx) }))
	c.Start()
	s.log.Info("sweeper started", zap.String("schedule", s.spec), zap.Duration("challenge_ttl", s.ttl))

	<-ctx.Done()
	<-c.Stop().Done()
	s.log.Info("sweeper stopped")
	return nil
}

func (s *Sweeper) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	res, err := s.Sweep(ctx)
	if err != nil {
		s.log.Error("sweep failed", zap.Error(err))
	}
	if res.Drafts > 0 || res.Challenges > 0 {
		s.log.Info("sweep expired stale state", zap.Int("drafts", res.Drafts), zap.Int("challenges", res.Challenges))
	}
}
