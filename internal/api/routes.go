package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/zulandar/pitchside/internal/models"
	"github.com/zulandar/pitchside/internal/queue"
	"github.com/zulandar/pitchside/internal/stats"
)

// registerRoutes sets up all API routes on the gin router.
func registerRoutes(router *gin.Engine, s *Server) {
	router.GET("/healthz", s.handleHealth)
	router.GET("/lineups/:context", s.handleLineup)
	router.GET("/queue", s.handleQueue)
	router.GET("/drafts/:context", s.handleDraft)
	router.GET("/leaderboard", s.handleLeaderboard)
}

// RoleView is one role of a lineup.
type RoleView struct {
	Name       string          `json:"name"`
	Side       int             `json:"side"`
	Goalkeeper bool            `json:"goalkeeper"`
	User       *models.UserRef `json:"user,omitempty"`
}

// LineupView is the JSON shape of a lineup.
type LineupView struct {
	ContextID  string     `json:"context_id"`
	GuildID    string     `json:"guild_id"`
	Name       string     `json:"name"`
	Size       int        `json:"size"`
	Kind       string     `json:"kind"`
	Visibility string     `json:"visibility"`
	AutoSearch bool       `json:"auto_search"`
	Drafting   bool       `json:"drafting"`
	Searching  bool       `json:"searching"`
	Signed     int        `json:"signed"`
	Required   int        `json:"required"`
	Roles      []RoleView `json:"roles"`
}

// EntryView is the JSON shape of a queue entry.
type EntryView struct {
	ID         string                `json:"id"`
	ContextID  string                `json:"context_id"`
	GuildID    string                `json:"guild_id"`
	Region     string                `json:"region"`
	Size       int                   `json:"size"`
	Kind       string                `json:"kind"`
	Visibility string                `json:"visibility"`
	Lineup     models.LineupSnapshot `json:"lineup"`
	QueuedAt   time.Time             `json:"queued_at"`
}

// LeaderboardView is one page of the leaderboard.
type LeaderboardView struct {
	Page    int            `json:"page"`
	Pages   int            `json:"pages"`
	Players []stats.Ranked `json:"players"`
}

func (s *Server) handleHealth(c *gin.Context) {
	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		s.log.Warn("health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleLineup(c *gin.Context) {
	l, searching, err := s.stack.Coordinator.Lineup(c.Request.Context(), c.Param("context"))
	if err != nil {
		s.fail(c, err)
		return
	}
	view := LineupView{
		ContextID:  l.ContextID,
		GuildID:    l.GuildID,
		Name:       l.Name,
		Size:       l.Size,
		Kind:       l.Kind,
		Visibility: l.Visibility,
		AutoSearch: l.AutoSearch,
		Drafting:   l.IsDrafting,
		Searching:  searching,
		Signed:     l.OccupiedCount(),
		Required:   l.RequiredPlayers(),
		Roles:      make([]RoleView, 0, len(l.Roles)),
	}
	for _, r := range l.Roles {
		view.Roles = append(view.Roles, RoleView{Name: r.Name, Side: r.Side, Goalkeeper: r.IsGoalkeeper, User: r.Occupant()})
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleQueue(c *gin.Context) {
	size, err := strconv.Atoi(c.Query("size"))
	if err != nil || size <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "size must be a positive integer"})
		return
	}
	region := strings.ToLower(c.Query("region"))
	if region == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "region is required"})
		return
	}
	entries, err := s.stack.Registry.Discover(c.Request.Context(), queue.DiscoverQuery{
		Region:           region,
		Size:             size,
		GuildID:          c.Query("guild"),
		ExcludeContextID: c.Query("exclude"),
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	out := make([]EntryView, 0, len(entries))
	for _, e := range entries {
		out = append(out, EntryView{
			ID:         e.ID,
			ContextID:  e.ContextID,
			GuildID:    e.GuildID,
			Region:     e.Region,
			Size:       e.Size,
			Kind:       e.Kind,
			Visibility: e.Visibility,
			Lineup:     e.Snapshot,
			QueuedAt:   e.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleDraft(c *gin.Context) {
	sess, err := s.stack.Drafts.Session(c.Request.Context(), c.Param("context"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (s *Server) handleLeaderboard(c *gin.Context) {
	f := stats.Filter{Region: strings.ToLower(c.Query("region")), GuildID: c.Query("guild")}
	if raw := c.Query("sizes"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil || n <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "sizes must be a comma separated list of positive integers"})
				return
			}
			f.Sizes = append(f.Sizes, n)
		}
	}
	page := 1
	if raw := c.Query("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "page must be a positive integer"})
			return
		}
		page = n
	}

	ctx := c.Request.Context()
	pages, err := s.stack.Stats.Pages(ctx, f, stats.DefaultPageSize)
	if err != nil {
		s.fail(c, err)
		return
	}
	players, err := s.stack.Stats.Leaderboard(ctx, f, page-1, stats.DefaultPageSize)
	if err != nil {
		s.fail(c, err)
		return
	}
	if players == nil {
		players = []stats.Ranked{}
	}
	c.JSON(http.StatusOK, LeaderboardView{Page: page, Pages: pages, Players: players})
}

// fail maps domain errors to 404 and everything else to a logged 500.
func (s *Server) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrLineupNotFound), errors.Is(err, models.ErrDraftExpired):
		c.JSON(http.StatusNotFound, gin.H{"error": models.Explain(err)})
	default:
		s.log.Error("request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
