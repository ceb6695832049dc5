package match

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/zulandar/pitchside/internal/db/dbtest"
	"github.com/zulandar/pitchside/internal/lineup"
	"github.com/zulandar/pitchside/internal/models"
	"github.com/zulandar/pitchside/internal/pitchtest"
	"github.com/zulandar/pitchside/internal/queue"
	"github.com/zulandar/pitchside/internal/stats"
	"github.com/zulandar/pitchside/internal/telegraph"
)

type fixture struct {
	db        *gorm.DB
	adapter   *telegraph.MockAdapter
	registry  *queue.Registry
	finalizer *Finalizer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gdb := dbtest.Open(t)
	adapter := telegraph.NewMockAdapter()
	reg, err := queue.NewRegistry(queue.RegistryOpts{DB: gdb, Notifier: adapter})
	require.NoError(t, err)
	fin, err := NewFinalizer(FinalizerOpts{
		DB: gdb, Notifier: adapter, Registry: reg,
		Password: func() string { return "ab12" },
	})
	require.NoError(t, err)
	return &fixture{db: gdb, adapter: adapter, registry: reg, finalizer: fin}
}

// challenge queues both contexts and reserves them under a new challenge.
func (f *fixture) challenge(t *testing.T, from, to string) *models.Challenge {
	t.Helper()
	ctx := context.Background()
	_, err := f.registry.Join(ctx, from)
	require.NoError(t, err)
	_, err = f.registry.Join(ctx, to)
	require.NoError(t, err)
	a, err := queue.GetByContext(f.db, from)
	require.NoError(t, err)
	b, err := queue.GetByContext(f.db, to)
	require.NoError(t, err)
	ch := &models.Challenge{
		ID:                  "ch-1",
		InitiatingUserID:    pitchtest.User(from, 0).ID,
		InitiatingUserName:  pitchtest.User(from, 0).Name,
		InitiatingEntryID:   a.ID,
		InitiatingContextID: from,
		InitiatingGuildID:   a.GuildID,
		ChallengedEntryID:   b.ID,
		ChallengedContextID: to,
		ChallengedGuildID:   b.GuildID,
		InitiatingMessage:   models.MessageRef{ContextID: from, MessageID: "m-from"},
		ChallengedMessage:   models.MessageRef{ContextID: to, MessageID: "m-to"},
	}
	require.NoError(t, f.db.Transaction(func(tx *gorm.DB) error {
		if err := queue.Reserve(tx, []string{a.ID, b.ID}, ch.ID); err != nil {
			return err
		}
		return tx.Create(ch).Error
	}))
	f.adapter.Reset()
	return ch
}

func TestNewFinalizer_Validation(t *testing.T) {
	_, err := NewFinalizer(FinalizerOpts{})
	assert.Error(t, err)
}

func TestPassword(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		p := Password()
		require.Len(t, p, 4)
		for _, c := range p {
			assert.Contains(t, passwordAlphabet, string(c))
		}
		seen[p] = true
	}
	assert.Greater(t, len(seen), 1)
}

func TestFinalizeChallenge_TeamVsTeam(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pitchtest.Lineup(t, f.db, "c1", "g1", "eu", 3, 3)
	pitchtest.Lineup(t, f.db, "c2", "g2", "eu", 3, 3)
	ch := f.challenge(t, "c1", "c2")

	m, err := f.finalizer.FinalizeChallenge(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, "Team g1 vs. Team g2", m.LobbyName)
	assert.Equal(t, "ab12", m.Password)
	assert.Equal(t, "c1-p0", m.Host.ID)
	assert.Len(t, m.SideA, 3)
	assert.Len(t, m.SideB, 3)

	for _, c := range []string{"c1", "c2"} {
		l, err := lineup.Get(f.db, c)
		require.NoError(t, err)
		assert.Zero(t, l.OccupiedCount(), c)
		_, err = queue.GetByContext(f.db, c)
		assert.ErrorIs(t, err, models.ErrNotQueued, c)
		assert.Len(t, f.adapter.NotificationsTo(c), 1, c)
	}
	var n int64
	f.db.Model(&models.Challenge{}).Count(&n)
	assert.Zero(t, n)

	_, ok := f.adapter.Edited(ch.ChallengedMessage)
	assert.True(t, ok)

	st := stats.NewStore(f.db)
	top, err := st.TopPlayers(ctx, []string{"c1-p0", "c2-p2"}, 10)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, 1, top[0].Games)
}

func TestFinalizeChallenge_OnlyOnce(t *testing.T) {
	f := newFixture(t)
	pitchtest.Lineup(t, f.db, "c1", "g1", "eu", 2, 2)
	pitchtest.Lineup(t, f.db, "c2", "g2", "eu", 2, 2)
	ch := f.challenge(t, "c1", "c2")

	_, err := f.finalizer.FinalizeChallenge(context.Background(), ch.ID)
	require.NoError(t, err)
	_, err = f.finalizer.FinalizeChallenge(context.Background(), ch.ID)
	assert.ErrorIs(t, err, models.ErrChallengeExpired)
}

func TestFinalizeChallenge_DuplicatePlayersRollsBack(t *testing.T) {
	f := newFixture(t)
	pitchtest.Lineup(t, f.db, "c1", "g1", "eu", 2, 2)
	pitchtest.Lineup(t, f.db, "c2", "g2", "eu", 2, 1)
	pitchtest.Assign(t, f.db, "c2", "GK", models.SideA, pitchtest.User("c1", 0))
	ch := f.challenge(t, "c1", "c2")

	_, err := f.finalizer.FinalizeChallenge(context.Background(), ch.ID)
	var dup *models.DuplicatePlayersError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "c1-p0", dup.Users[0].ID)

	var n int64
	f.db.Model(&models.Challenge{}).Count(&n)
	assert.EqualValues(t, 1, n)
	l, err := lineup.Get(f.db, "c1")
	require.NoError(t, err)
	assert.Equal(t, 2, l.OccupiedCount())
}

func TestFinalizeChallenge_MixPromotesSecondSide(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pitchtest.Lineup(t, f.db, "c1", "g1", "eu", 2, 2)
	pitchtest.Lineup(t, f.db, "mix", "g2", "eu", 2, 0, pitchtest.Kind(models.KindMix))
	pitchtest.Assign(t, f.db, "mix", "CF", models.SideA, models.UserRef{ID: "a1", Name: "A1"})
	pitchtest.Assign(t, f.db, "mix", "GK", models.SideA, models.UserRef{ID: "a2", Name: "A2"})
	pitchtest.Assign(t, f.db, "mix", "CF", models.SideB, models.UserRef{ID: "b1", Name: "B1"})
	ch := f.challenge(t, "c1", "mix")

	m, err := f.finalizer.FinalizeChallenge(ctx, ch.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a1", "a2"}, []string{m.SideB[0].ID, m.SideB[1].ID})

	l, err := lineup.Get(f.db, "mix")
	require.NoError(t, err)
	assert.Equal(t, "b1", l.FindRole("CF", models.SideA).Occupant().ID)
	assert.True(t, l.FindRole("GK", models.SideA).IsOpen())
	assert.Empty(t, l.Users(models.SideB))

	e, err := queue.GetByContext(f.db, "mix")
	require.NoError(t, err)
	assert.False(t, e.IsReserved())
	_, err = queue.GetByContext(f.db, "c1")
	assert.ErrorIs(t, err, models.ErrNotQueued)
}

func TestFinalizeDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pitchtest.Lineup(t, f.db, "pool", "g1", "eu", 2, 4, pitchtest.Kind(models.KindCaptains))
	_, err := lineup.Mutate(f.db, "pool", func(l *models.Lineup) error {
		l.IsDrafting = true
		return nil
	})
	require.NoError(t, err)

	a := []models.UserRef{pitchtest.User("pool", 0), pitchtest.User("pool", 1)}
	b := []models.UserRef{pitchtest.User("pool", 2), {ID: models.GuestUserID, Name: "merc"}}
	m, err := f.finalizer.FinalizeDraft(ctx, "pool", a, b, a[0])
	require.NoError(t, err)
	assert.Equal(t, "pool", m.LobbyName)
	assert.Len(t, f.adapter.NotificationsTo("pool"), 1)

	l, err := lineup.Get(f.db, "pool")
	require.NoError(t, err)
	assert.False(t, l.IsDrafting)
	assert.Zero(t, l.OccupiedCount())

	n, err := stats.NewStore(f.db).CountPlayers(ctx, stats.Filter{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestFinalizeDraft_RejectsDuplicates(t *testing.T) {
	f := newFixture(t)
	pitchtest.Lineup(t, f.db, "pool", "g1", "eu", 1, 0, pitchtest.Kind(models.KindCaptains))
	u := models.UserRef{ID: "u1", Name: "U1"}
	_, err := f.finalizer.FinalizeDraft(context.Background(), "pool", []models.UserRef{u}, []models.UserRef{u}, u)
	assert.ErrorIs(t, err, models.ErrDuplicatePlayers)
}
