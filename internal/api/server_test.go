package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/zulandar/pitchside/internal/db/dbtest"
	"github.com/zulandar/pitchside/internal/draft"
	"github.com/zulandar/pitchside/internal/matchmaking"
	"github.com/zulandar/pitchside/internal/models"
	"github.com/zulandar/pitchside/internal/pitchtest"
	"github.com/zulandar/pitchside/internal/stats"
	"github.com/zulandar/pitchside/internal/telegraph"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	db     *gorm.DB
	stack  *matchmaking.Stack
	router *gin.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gdb := dbtest.Open(t)
	stack, err := matchmaking.Build(matchmaking.StackOpts{DB: gdb, Notifier: telegraph.NewMockAdapter(), Seed: 1})
	require.NoError(t, err)
	t.Cleanup(stack.Drafts.Close)
	srv, err := New(Opts{DB: gdb, Stack: stack})
	require.NoError(t, err)
	return &fixture{db: gdb, stack: stack, router: srv.Router()}
}

func (f *fixture) get(t *testing.T, path string, out any) int {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	f.router.ServeHTTP(rec, req)
	if out != nil && rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Opts{})
	assert.ErrorContains(t, err, "db is required")
	_, err = New(Opts{DB: dbtest.Open(t)})
	assert.ErrorContains(t, err, "stack is required")
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	var body map[string]string
	require.Equal(t, http.StatusOK, f.get(t, "/healthz", &body))
	assert.Equal(t, "ok", body["status"])
}

func TestLineup(t *testing.T) {
	f := newFixture(t)
	pitchtest.Lineup(t, f.db, "c1", "g1", "eu", 2, 1)

	var view LineupView
	require.Equal(t, http.StatusOK, f.get(t, "/lineups/c1", &view))
	assert.Equal(t, "c1", view.ContextID)
	assert.Equal(t, models.KindTeam, view.Kind)
	assert.Equal(t, 1, view.Signed)
	assert.Equal(t, 2, view.Required)
	assert.False(t, view.Searching)
	require.Len(t, view.Roles, 2)
	assert.Equal(t, "CF", view.Roles[0].Name)
	require.NotNil(t, view.Roles[0].User)
	assert.Equal(t, pitchtest.User("c1", 0).ID, view.Roles[0].User.ID)
	assert.Nil(t, view.Roles[1].User)
	assert.True(t, view.Roles[1].Goalkeeper)
}

func TestLineup_NotFound(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusNotFound, f.get(t, "/lineups/missing", nil))
}

func TestQueue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pitchtest.Lineup(t, f.db, "c1", "g1", "eu", 2, 2)
	pitchtest.Lineup(t, f.db, "c2", "g2", "eu", 2, 2, pitchtest.TeamOnly())
	_, err := f.stack.Coordinator.StartSearch(ctx, "c1")
	require.NoError(t, err)
	_, err = f.stack.Coordinator.StartSearch(ctx, "c2")
	require.NoError(t, err)

	var entries []EntryView
	require.Equal(t, http.StatusOK, f.get(t, "/queue?region=EU&size=2&guild=g9", &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "c1", entries[0].ContextID)
	assert.Len(t, entries[0].Lineup.Roles, 2)

	require.Equal(t, http.StatusOK, f.get(t, "/queue?region=eu&size=2&guild=g2", &entries))
	assert.Len(t, entries, 2)

	require.Equal(t, http.StatusOK, f.get(t, "/queue?region=eu&size=2&guild=g2&exclude=c2", &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "c1", entries[0].ContextID)

	var view LineupView
	require.Equal(t, http.StatusOK, f.get(t, "/lineups/c1", &view))
	assert.True(t, view.Searching)
}

func TestQueue_BadRequest(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusBadRequest, f.get(t, "/queue?region=eu", nil))
	assert.Equal(t, http.StatusBadRequest, f.get(t, "/queue?region=eu&size=zero", nil))
	assert.Equal(t, http.StatusBadRequest, f.get(t, "/queue?size=2", nil))
}

func TestDraft(t *testing.T) {
	f := newFixture(t)
	pitchtest.Lineup(t, f.db, "pool", "g1", "eu", 3, 6, pitchtest.Kind(models.KindCaptains))
	assert.Equal(t, http.StatusNotFound, f.get(t, "/drafts/pool", nil))

	_, err := f.stack.Drafts.Start(context.Background(), "pool")
	require.NoError(t, err)

	var sess draft.Session
	require.Equal(t, http.StatusOK, f.get(t, "/drafts/pool", &sess))
	assert.Equal(t, "pool", sess.ContextID)
	assert.Len(t, sess.Pool, 4)
	assert.NotEmpty(t, sess.CaptainA.ID)
}

func TestLeaderboard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := models.UserRef{ID: "a", Name: "A"}
	b := models.UserRef{ID: "b", Name: "B"}
	require.NoError(t, f.stack.Stats.Record(ctx, "eu", "g1", 2, []models.UserRef{a, b}))
	require.NoError(t, f.stack.Stats.Record(ctx, "eu", "g1", 2, []models.UserRef{b}))
	require.NoError(t, f.stack.Stats.Record(ctx, "na", "g2", 5, []models.UserRef{a}))

	var board LeaderboardView
	require.Equal(t, http.StatusOK, f.get(t, "/leaderboard", &board))
	assert.Equal(t, 1, board.Page)
	assert.Equal(t, 1, board.Pages)
	assert.Equal(t, []stats.Ranked{{UserID: "a", Games: 2}, {UserID: "b", Games: 2}}, board.Players)

	require.Equal(t, http.StatusOK, f.get(t, "/leaderboard?region=eu&sizes=2", &board))
	assert.Equal(t, []stats.Ranked{{UserID: "b", Games: 2}, {UserID: "a", Games: 1}}, board.Players)

	require.Equal(t, http.StatusOK, f.get(t, "/leaderboard?page=3", &board))
	assert.Equal(t, 3, board.Page)
	assert.Empty(t, board.Players)

	assert.Equal(t, http.StatusBadRequest, f.get(t, "/leaderboard?page=0", nil))
	assert.Equal(t, http.StatusBadRequest, f.get(t, "/leaderboard?sizes=2,x", nil))
}
