package lineup

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/zulandar/pitchside/internal/db/dbtest"
	"github.com/zulandar/pitchside/internal/models"
)

var (
	ann = models.UserRef{ID: "u1", Name: "Ann"}
	bob = models.UserRef{ID: "u2", Name: "Bob"}
)

func newSlots(t *testing.T) (*Slots, *gorm.DB) {
	gdb := dbtest.Open(t)
	return NewSlots(gdb, nil), gdb
}

func TestClaim_AssignsRole(t *testing.T) {
	s, gdb := newSlots(t)
	setupTeam(t, gdb, "c1", 3)

	l, err := s.Claim(context.Background(), "c1", "LW", models.SideA, ann)
	require.NoError(t, err)
	assert.Equal(t, "LW", l.RoleOf("u1").Name)
	assert.Equal(t, 1, l.OccupiedCount())
}

func TestClaim_Occupied(t *testing.T) {
	s, gdb := newSlots(t)
	setupTeam(t, gdb, "c1", 3)
	ctx := context.Background()

	_, err := s.Claim(ctx, "c1", "LW", models.SideA, ann)
	require.NoError(t, err)
	_, err = s.Claim(ctx, "c1", "LW", models.SideA, bob)
	assert.ErrorIs(t, err, models.ErrRoleOccupied)
}

func TestClaim_OwnRoleIsNoop(t *testing.T) {
	s, gdb := newSlots(t)
	setupTeam(t, gdb, "c1", 3)
	ctx := context.Background()

	_, err := s.Claim(ctx, "c1", "LW", models.SideA, ann)
	require.NoError(t, err)
	l, err := s.Claim(ctx, "c1", "LW", models.SideA, ann)
	require.NoError(t, err)
	assert.Equal(t, 1, l.OccupiedCount())
}

func TestClaim_SwapMovesUser(t *testing.T) {
	s, gdb := newSlots(t)
	setupTeam(t, gdb, "c1", 3)
	ctx := context.Background()

	_, err := s.Claim(ctx, "c1", "LW", models.SideA, ann)
	require.NoError(t, err)
	l, err := s.Claim(ctx, "c1", "GK", models.SideA, ann)
	require.NoError(t, err)

	assert.Equal(t, "GK", l.RoleOf("u1").Name)
	assert.Equal(t, 1, l.OccupiedCount())
	assert.True(t, l.FindRole("LW", models.SideA).IsOpen())
}

func TestClaim_SwapToOccupiedKeepsOldRole(t *testing.T) {
	s, gdb := newSlots(t)
	setupTeam(t, gdb, "c1", 3)
	ctx := context.Background()

	_, err := s.Claim(ctx, "c1", "LW", models.SideA, ann)
	require.NoError(t, err)
	_, err = s.Claim(ctx, "c1", "RW", models.SideA, bob)
	require.NoError(t, err)
	_, err = s.Claim(ctx, "c1", "RW", models.SideA, ann)
	require.ErrorIs(t, err, models.ErrRoleOccupied)

	l, err := Get(gdb, "c1")
	require.NoError(t, err)
	assert.Equal(t, "LW", l.RoleOf("u1").Name, "failed swap must not drop the user")
}

func TestClaim_Errors(t *testing.T) {
	s, gdb := newSlots(t)
	setupTeam(t, gdb, "c1", 3)
	ctx := context.Background()

	_, err := s.Claim(ctx, "missing", "LW", models.SideA, ann)
	assert.ErrorIs(t, err, models.ErrLineupNotFound)

	_, err = s.Claim(ctx, "c1", "ST", models.SideA, ann)
	assert.ErrorIs(t, err, models.ErrRoleNotFound)

	_, err = s.Claim(ctx, "c1", "LW", models.SideB, ann)
	assert.ErrorIs(t, err, models.ErrRoleNotFound, "team lineups have a single side")

	require.NoError(t, gdb.Model(&models.Lineup{}).Where("context_id = ?", "c1").Update("is_drafting", true).Error)
	_, err = s.Claim(ctx, "c1", "LW", models.SideA, ann)
	assert.ErrorIs(t, err, models.ErrDraftInProgress)
}

func TestClaim_RaceHasExactlyOneWinner(t *testing.T) {
	s, gdb := newSlots(t)
	setupTeam(t, gdb, "c1", 5)

	const contenders = 8
	var wg sync.WaitGroup
	errs := make([]error, contenders)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u := models.UserRef{ID: fmt.Sprintf("u%d", i), Name: fmt.Sprintf("P%d", i)}
			_, errs[i] = s.Claim(context.Background(), "c1", "CM", models.SideA, u)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, models.ErrRoleOccupied):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, winners)

	l, err := Get(gdb, "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, l.OccupiedCount())
}

func TestRelease(t *testing.T) {
	s, gdb := newSlots(t)
	setupTeam(t, gdb, "c1", 3)
	ctx := context.Background()

	_, err := s.Claim(ctx, "c1", "LW", models.SideA, ann)
	require.NoError(t, err)

	l, err := s.Release(ctx, "c1", "u1")
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.Zero(t, l.OccupiedCount())

	l, err = s.Release(ctx, "c1", "u1")
	require.NoError(t, err)
	assert.Nil(t, l, "releasing an absent user returns nil")
}

func TestSignGuest(t *testing.T) {
	s, gdb := newSlots(t)
	setupTeam(t, gdb, "c1", 3)
	ctx := context.Background()
	guest := models.UserRef{ID: models.GuestUserID, Name: "Merc"}

	_, err := s.SignGuest(ctx, "c1", "LW", models.SideA, guest)
	require.NoError(t, err)
	l, err := s.SignGuest(ctx, "c1", "RW", models.SideA, guest)
	require.NoError(t, err, "guests may occupy several roles")
	assert.Equal(t, 2, l.OccupiedCount())

	_, err = s.SignGuest(ctx, "c1", "LW", models.SideA, ann)
	assert.ErrorIs(t, err, models.ErrRoleOccupied)

	_, err = s.SignGuest(ctx, "c1", "GK", models.SideA, ann)
	require.NoError(t, err)
	_, err = s.Release(ctx, "c1", "u1")
	require.NoError(t, err)
	_, err = s.Claim(ctx, "c1", "GK", models.SideA, ann)
	require.NoError(t, err)
	_, err = s.ClearRole(ctx, "c1", "LW", models.SideA)
	require.NoError(t, err)
	_, err = s.SignGuest(ctx, "c1", "LW", models.SideA, ann)
	assert.ErrorIs(t, err, models.ErrAlreadyInLineup)
}

func TestClearRole(t *testing.T) {
	s, gdb := newSlots(t)
	setupTeam(t, gdb, "c1", 3)
	ctx := context.Background()

	_, err := s.ClearRole(ctx, "c1", "LW", models.SideA)
	assert.ErrorIs(t, err, models.ErrRoleEmpty)

	_, err = s.Claim(ctx, "c1", "LW", models.SideA, ann)
	require.NoError(t, err)
	l, err := s.ClearRole(ctx, "c1", "LW", models.SideA)
	require.NoError(t, err)
	assert.False(t, l.HasUser("u1"))

	_, err = s.ClearRole(ctx, "c1", "XX", models.SideA)
	assert.ErrorIs(t, err, models.ErrRoleNotFound)
}

func TestJoinPool(t *testing.T) {
	s, gdb := newSlots(t)
	_, err := Setup(gdb, SetupOpts{ContextID: "c1", GuildID: "g1", Size: 2, Kind: models.KindCaptains})
	require.NoError(t, err)
	ctx := context.Background()

	l, err := s.JoinPool(ctx, "c1", ann, true)
	require.NoError(t, err)
	r := l.RoleOf("u1")
	assert.True(t, r.IsGoalkeeper)
	assert.Equal(t, models.SideA, r.Side)

	_, err = s.JoinPool(ctx, "c1", ann, true)
	assert.ErrorIs(t, err, models.ErrAlreadyInLineup)

	l, err = s.JoinPool(ctx, "c1", ann, false)
	require.NoError(t, err)
	assert.False(t, l.RoleOf("u1").IsGoalkeeper, "switching kind moves the user")
	assert.Equal(t, 1, l.OccupiedCount())

	_, err = s.JoinPool(ctx, "c1", bob, false)
	require.NoError(t, err)
	_, err = s.JoinPool(ctx, "c1", models.UserRef{ID: "u3"}, false)
	assert.ErrorIs(t, err, models.ErrRoleOccupied, "both outfield roles taken")

	setupTeam(t, gdb, "team", 3)
	_, err = s.JoinPool(ctx, "team", ann, false)
	assert.ErrorIs(t, err, models.ErrPermissionDenied)
}

func TestSetAutoSearch(t *testing.T) {
	s, gdb := newSlots(t)
	setupTeam(t, gdb, "c1", 3)
	l, err := s.SetAutoSearch(context.Background(), "c1", true)
	require.NoError(t, err)
	assert.True(t, l.AutoSearch)

	_, err = Setup(gdb, SetupOpts{ContextID: "mix", GuildID: "g1", Size: 3, Kind: models.KindMix})
	require.NoError(t, err)
	_, err = s.SetAutoSearch(context.Background(), "mix", true)
	assert.ErrorIs(t, err, models.ErrPermissionDenied)
}

// TestSingleOccupancy drives a random sequence of operations and checks that
// no registered user ever holds two roles.
func TestSingleOccupancy(t *testing.T) {
	s, gdb := newSlots(t)
	_, err := Setup(gdb, SetupOpts{ContextID: "c1", GuildID: "g1", Size: 4, Kind: models.KindMix})
	require.NoError(t, err)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))
	names := []string{"LW", "CF", "RW", "GK"}

	for i := 0; i < 200; i++ {
		u := models.UserRef{ID: fmt.Sprintf("u%d", rng.Intn(10))}
		switch rng.Intn(3) {
		case 0, 1:
			_, _ = s.Claim(ctx, "c1", names[rng.Intn(len(names))], 1+rng.Intn(2), u)
		case 2:
			_, _ = s.Release(ctx, "c1", u.ID)
		}

		l, err := Get(gdb, "c1")
		require.NoError(t, err)
		seen := map[string]bool{}
		for _, u := range l.AllUsers() {
			require.False(t, seen[u.ID], "user %s holds two roles after step %d", u.ID, i)
			seen[u.ID] = true
		}
	}
}
