package draft

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/zulandar/pitchside/internal/db/dbtest"
	"github.com/zulandar/pitchside/internal/lineup"
	"github.com/zulandar/pitchside/internal/match"
	"github.com/zulandar/pitchside/internal/models"
	"github.com/zulandar/pitchside/internal/pitchtest"
	"github.com/zulandar/pitchside/internal/queue"
	"github.com/zulandar/pitchside/internal/stats"
	"github.com/zulandar/pitchside/internal/telegraph"
)

type engineFixture struct {
	db      *gorm.DB
	adapter *telegraph.MockAdapter
	store   *MemoryStore
	engine  *Engine

	mu    sync.Mutex
	clock time.Time
}

func (f *engineFixture) now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clock
}

func (f *engineFixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clock = f.clock.Add(d)
}

func newEngineFixture(t *testing.T, idle time.Duration, useClock bool, captains ...string) *engineFixture {
	t.Helper()
	f := &engineFixture{
		db:      dbtest.Open(t),
		adapter: telegraph.NewMockAdapter(),
		store:   NewMemoryStore(),
		clock:   deadline,
	}
	reg, err := queue.NewRegistry(queue.RegistryOpts{DB: f.db, Notifier: f.adapter})
	require.NoError(t, err)
	fin, err := match.NewFinalizer(match.FinalizerOpts{DB: f.db, Notifier: f.adapter, Registry: reg})
	require.NoError(t, err)
	opts := EngineOpts{
		DB: f.db, Store: f.store, Finalizer: fin, Notifier: f.adapter,
		Picker:      NewPicker(&fixedRanker{top: captains}, 1),
		IdleTimeout: idle,
	}
	if useClock {
		opts.Now = f.now
	}
	f.engine, err = NewEngine(opts)
	require.NoError(t, err)
	t.Cleanup(f.engine.Close)
	return f
}

// captainsPool is a full size-3 captains lineup. Roles in order:
// A: LW p0, RW p1, GK p2; B: LW p3, RW p4, GK p5.
func (f *engineFixture) captainsPool(t *testing.T) {
	t.Helper()
	pitchtest.Lineup(t, f.db, "pool", "g1", "eu", 3, 6, pitchtest.Kind(models.KindCaptains))
}

func (f *engineFixture) lineup(t *testing.T) *models.Lineup {
	t.Helper()
	l, err := lineup.Get(f.db, "pool")
	require.NoError(t, err)
	return l
}

func TestNewEngine_Validation(t *testing.T) {
	_, err := NewEngine(EngineOpts{})
	assert.Error(t, err)
}

func TestEngineStart(t *testing.T) {
	f := newEngineFixture(t, 0, true, "pool-p0", "pool-p3")
	f.captainsPool(t)
	ctx := context.Background()

	res, err := f.engine.Start(ctx, "pool")
	require.NoError(t, err)
	require.Nil(t, res.Match)
	s := res.Session
	assert.ElementsMatch(t, []string{"pool-p0", "pool-p3"}, []string{s.CaptainA.ID, s.CaptainB.ID})
	assert.Equal(t, deadline.Add(DefaultIdleTimeout), s.Deadline)
	assert.Len(t, s.Pool, 4)

	l := f.lineup(t)
	assert.True(t, l.IsDrafting)
	assert.Zero(t, l.OccupiedCount())

	msgs := f.adapter.NotificationsTo("pool")
	require.NotEmpty(t, msgs)
	assert.Len(t, msgs[len(msgs)-1].Message.Buttons, 4)

	_, err = f.engine.Start(ctx, "pool")
	assert.ErrorIs(t, err, models.ErrDraftInProgress)

	stored, err := f.engine.Session(ctx, "pool")
	require.NoError(t, err)
	assert.Equal(t, s.CaptainA, stored.CaptainA)
}

func TestEngineStart_RequiresFullPool(t *testing.T) {
	f := newEngineFixture(t, 0, true)
	pitchtest.Lineup(t, f.db, "pool", "g1", "eu", 3, 5, pitchtest.Kind(models.KindCaptains))
	_, err := f.engine.Start(context.Background(), "pool")
	assert.ErrorIs(t, err, models.ErrNotEligible)

	pitchtest.Lineup(t, f.db, "team", "g1", "eu", 2, 2)
	_, err = f.engine.Start(context.Background(), "team")
	assert.ErrorIs(t, err, models.ErrNotEligible)
}

func TestEngine_FullDraftProducesMatch(t *testing.T) {
	f := newEngineFixture(t, 0, true, "pool-p0", "pool-p3")
	f.captainsPool(t)
	ctx := context.Background()

	res, err := f.engine.Start(ctx, "pool")
	require.NoError(t, err)
	capA, capB := res.Session.CaptainA, res.Session.CaptainB

	_, err = f.engine.Pick(ctx, "pool", capB.ID, "pool-p1")
	assert.ErrorIs(t, err, models.ErrPickOutOfTurn)

	res, err = f.engine.Pick(ctx, "pool", capA.ID, "pool-p2")
	require.NoError(t, err)
	require.Nil(t, res.Match)
	assert.Equal(t, models.SideB, res.Session.Turn)

	res, err = f.engine.Pick(ctx, "pool", capB.ID, "pool-p1")
	require.NoError(t, err)
	require.NotNil(t, res.Match)
	assert.Len(t, res.Match.SideA, 3)
	assert.Len(t, res.Match.SideB, 3)

	l := f.lineup(t)
	assert.False(t, l.IsDrafting)
	assert.Zero(t, l.OccupiedCount())

	_, err = f.engine.Session(ctx, "pool")
	assert.ErrorIs(t, err, models.ErrDraftExpired)
	n, err := stats.NewStore(f.db).CountPlayers(ctx, stats.Filter{})
	require.NoError(t, err)
	assert.EqualValues(t, 6, n)

	_, err = f.engine.Pick(ctx, "pool", capA.ID, "pool-p4")
	assert.ErrorIs(t, err, models.ErrDraftExpired)
}

func TestEngineStart_ImmediateFinishLeavesNoSession(t *testing.T) {
	f := newEngineFixture(t, 0, true, "pool-p0", "pool-p1")
	pitchtest.Lineup(t, f.db, "pool", "g1", "eu", 1, 2, pitchtest.Kind(models.KindCaptains))
	ctx := context.Background()

	res, err := f.engine.Start(ctx, "pool")
	require.NoError(t, err)
	require.NotNil(t, res.Match)
	_, err = f.engine.Session(ctx, "pool")
	assert.ErrorIs(t, err, models.ErrDraftExpired)
	stored, err := f.store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, stored)

	pitchtest.Sign(t, f.db, "pool", 2, func(i int) models.UserRef {
		return models.UserRef{ID: fmt.Sprintf("next-%d", i), Name: fmt.Sprintf("Next %d", i)}
	})
	f.advance(2 * DefaultIdleTimeout)
	n, err := f.engine.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	l := f.lineup(t)
	assert.False(t, l.IsDrafting)
	assert.True(t, l.HasUser("next-0"))
	assert.True(t, l.HasUser("next-1"))
	assert.False(t, l.HasUser("pool-p0"))

	res, err = f.engine.Start(ctx, "pool")
	require.NoError(t, err)
	require.NotNil(t, res.Match)
	assert.ElementsMatch(t, []string{"next-0", "next-1"}, []string{res.Match.SideA[0].ID, res.Match.SideB[0].ID})
}

func TestEngine_IdleTimeoutRestoresRosterWithoutCaptain(t *testing.T) {
	f := newEngineFixture(t, 0, true, "pool-p0", "pool-p3")
	f.captainsPool(t)
	ctx := context.Background()
	before := f.lineup(t)

	res, err := f.engine.Start(ctx, "pool")
	require.NoError(t, err)
	capA, capB := res.Session.CaptainA, res.Session.CaptainB
	_, err = f.engine.Pick(ctx, "pool", capA.ID, "pool-p2")
	require.NoError(t, err)

	n, err := f.engine.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "deadline not reached")

	f.advance(DefaultIdleTimeout)
	_, err = f.engine.Pick(ctx, "pool", capB.ID, "pool-p1")
	assert.ErrorIs(t, err, models.ErrDraftExpired, "late pick")

	n, err = f.engine.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	l := f.lineup(t)
	assert.False(t, l.IsDrafting)
	assert.False(t, l.HasUser(capB.ID))
	assert.Equal(t, 5, l.OccupiedCount())
	for _, r := range before.Roles {
		if u := r.Occupant(); u != nil && u.ID != capB.ID {
			after := l.FindRole(r.Name, r.Side)
			require.NotNil(t, after.Occupant())
			assert.Equal(t, u.ID, after.Occupant().ID, "role %s/%d", r.Name, r.Side)
		}
	}

	_, err = f.engine.Pick(ctx, "pool", capB.ID, "pool-p1")
	assert.ErrorIs(t, err, models.ErrDraftExpired)
	ok, err := f.engine.Expire(ctx, "pool")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEngine_TimerExpiresIdleDraft(t *testing.T) {
	f := newEngineFixture(t, 50*time.Millisecond, false, "pool-p0", "pool-p3")
	f.captainsPool(t)

	_, err := f.engine.Start(context.Background(), "pool")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		l, err := lineup.Get(f.db, "pool")
		return err == nil && !l.IsDrafting
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, 5, f.lineup(t).OccupiedCount())
}

func TestEngine_Abort(t *testing.T) {
	f := newEngineFixture(t, 0, true, "pool-p0", "pool-p3")
	f.captainsPool(t)
	ctx := context.Background()
	_, err := f.engine.Start(ctx, "pool")
	require.NoError(t, err)

	require.NoError(t, f.engine.Abort(ctx, "pool"))
	require.NoError(t, f.engine.Abort(ctx, "pool"))
	_, err = f.engine.Session(ctx, "pool")
	assert.ErrorIs(t, err, models.ErrDraftExpired)
}
