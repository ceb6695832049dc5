// Package stats counts games played per user. It is a plain counter fed by
// finished matches and read to rank captains and build leaderboards.
package stats

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/zulandar/pitchside/internal/models"
)

// DefaultPageSize is the number of leaderboard rows per page.
const DefaultPageSize = 10

// Ranked is a user's total game count.
type Ranked struct {
	UserID string `json:"user_id"`
	Games  int    `json:"games"`
}

// Filter narrows counting and leaderboards. Empty fields match everything.
type Filter struct {
	Region  string
	GuildID string
	Sizes   []int
}

// Store reads and writes game counters.
type Store struct {
	db *gorm.DB
}

// NewStore creates a Store over db.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Record adds one game for every registered user in users.
func (s *Store) Record(ctx context.Context, region, guildID string, size int, users []models.UserRef) error {
	return Record(s.db.WithContext(ctx), region, guildID, size, users)
}

// Record adds one game for every registered user in users, using db (which
// may be a transaction).
func Record(db *gorm.DB, region, guildID string, size int, users []models.UserRef) error {
	now := time.Now()
	for _, u := range users {
		if u.IsGuest() || u.ID == "" {
			continue
		}
		row := models.Stats{
			UserID:        u.ID,
			GuildID:       guildID,
			Region:        region,
			LineupSize:    size,
			NumberOfGames: 1,
			UpdatedAt:     now,
		}
		err := db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "guild_id"}, {Name: "region"}, {Name: "lineup_size"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"number_of_games": gorm.Expr("number_of_games + ?", 1),
				"updated_at":      now,
			}),
		}).Create(&row).Error
		if err != nil {
			return fmt.Errorf("stats: record %s: %w", u.ID, err)
		}
	}
	return nil
}

// TopPlayers ranks userIDs by total games across every guild and size,
// most games first, returning at most limit users that have played.
func (s *Store) TopPlayers(ctx context.Context, userIDs []string, limit int) ([]Ranked, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	var out []Ranked
	err := s.db.WithContext(ctx).Model(&models.Stats{}).
		Select("user_id, SUM(number_of_games) AS games").
		Where("user_id IN ?", userIDs).
		Group("user_id").
		Order("games DESC, user_id ASC").
		Limit(limit).
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("stats: top players: %w", err)
	}
	return out, nil
}

// CountPlayers returns the number of distinct users matching f.
func (s *Store) CountPlayers(ctx context.Context, f Filter) (int64, error) {
	var n int64
	err := s.filtered(ctx, f).Distinct("user_id").Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("stats: count players: %w", err)
	}
	return n, nil
}

// Leaderboard returns one page (0-based) of users matching f by total games.
func (s *Store) Leaderboard(ctx context.Context, f Filter, page, pageSize int) ([]Ranked, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if page < 0 {
		page = 0
	}
	var out []Ranked
	err := s.filtered(ctx, f).
		Select("user_id, SUM(number_of_games) AS games").
		Group("user_id").
		Order("games DESC, user_id ASC").
		Offset(page * pageSize).
		Limit(pageSize).
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("stats: leaderboard: %w", err)
	}
	return out, nil
}

// Pages returns how many pages of pageSize the players matching f fill.
func (s *Store) Pages(ctx context.Context, f Filter, pageSize int) (int, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	n, err := s.CountPlayers(ctx, f)
	if err != nil {
		return 0, err
	}
	return int((n + int64(pageSize) - 1) / int64(pageSize)), nil
}

func (s *Store) filtered(ctx context.Context, f Filter) *gorm.DB {
	q := s.db.WithContext(ctx).Model(&models.Stats{})
	if f.Region != "" {
		q = q.Where("region = ?", f.Region)
	}
	if f.GuildID != "" {
		q = q.Where("guild_id = ?", f.GuildID)
	}
	if len(f.Sizes) > 0 {
		q = q.Where("lineup_size IN ?", f.Sizes)
	}
	return q
}

// TopUserIDs is TopPlayers reduced to user ids.
func (s *Store) TopUserIDs(ctx context.Context, userIDs []string, limit int) ([]string, error) {
	ranked, err := s.TopPlayers(ctx, userIDs, limit)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(ranked))
	for i, r := range ranked {
		out[i] = r.UserID
	}
	return out, nil
}
