// Package team registers the team of each guild and manages bans.
package team

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/zulandar/pitchside/internal/models"
)

// Regions accepted at registration.
var Regions = []string{"eu", "na", "sa", "as", "oc", "af"}

// ValidRegion reports whether region is one of Regions.
func ValidRegion(region string) bool {
	for _, r := range Regions {
		if r == region {
			return true
		}
	}
	return false
}

// Register creates or updates the team of a guild.
func Register(db *gorm.DB, guildID, name, region string) (*models.Team, error) {
	name = strings.TrimSpace(name)
	region = strings.ToLower(strings.TrimSpace(region))
	if name == "" {
		return nil, fmt.Errorf("team: register %s: name is required", guildID)
	}
	if !ValidRegion(region) {
		return nil, fmt.Errorf("team: register %s: unknown region %q", guildID, region)
	}
	t := models.Team{GuildID: guildID, Name: name, Region: region}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "guild_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "region", "updated_at"}),
	}).Create(&t).Error
	if err != nil {
		return nil, fmt.Errorf("team: register %s: %w", guildID, err)
	}
	return &t, nil
}

// Get returns the team of a guild.
func Get(db *gorm.DB, guildID string) (*models.Team, error) {
	var t models.Team
	err := db.Where("guild_id = ?", guildID).Take(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("team: get %s: %w", guildID, models.ErrTeamNotRegistered)
	}
	if err != nil {
		return nil, fmt.Errorf("team: get %s: %w", guildID, err)
	}
	return &t, nil
}

// Region returns the region of a guild's team, or "" if none is registered.
func Region(db *gorm.DB, guildID string) (string, error) {
	t, err := Get(db, guildID)
	if errors.Is(err, models.ErrTeamNotRegistered) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return t.Region, nil
}

// Delete removes the team row and every ban of the guild. Lineups, queue
// entries and challenges are torn down by the caller first.
func Delete(db *gorm.DB, guildID string) error {
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("guild_id = ?", guildID).Delete(&models.Ban{}).Error; err != nil {
			return err
		}
		res := tx.Where("guild_id = ?", guildID).Delete(&models.Team{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return models.ErrTeamNotRegistered
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("team: delete %s: %w", guildID, err)
	}
	return nil
}

// Ban bars userID from the guild's lineups until expireAt, or forever when
// expireAt is nil.
func Ban(db *gorm.DB, guildID, userID, reason string, expireAt *time.Time) error {
	b := models.Ban{GuildID: guildID, UserID: userID, Reason: reason, ExpireAt: expireAt}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "guild_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"reason", "expire_at"}),
	}).Create(&b).Error
	if err != nil {
		return fmt.Errorf("team: ban %s in %s: %w", userID, guildID, err)
	}
	return nil
}

// Unban lifts a ban. Lifting a missing ban is not an error.
func Unban(db *gorm.DB, guildID, userID string) error {
	err := db.Where("guild_id = ? AND user_id = ?", guildID, userID).Delete(&models.Ban{}).Error
	if err != nil {
		return fmt.Errorf("team: unban %s in %s: %w", userID, guildID, err)
	}
	return nil
}

// CheckBan returns models.ErrBanned when userID has an active ban in the
// guild at now. Expired bans are removed.
func CheckBan(db *gorm.DB, guildID, userID string, now time.Time) error {
	var b models.Ban
	err := db.Where("guild_id = ? AND user_id = ?", guildID, userID).Take(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("team: check ban %s: %w", userID, err)
	}
	if b.Active(now) {
		return fmt.Errorf("team: %s: %w", userID, models.ErrBanned)
	}
	if err := Unban(db, guildID, userID); err != nil {
		return err
	}
	return nil
}

// ListBans returns the guild's bans ordered by creation.
func ListBans(db *gorm.DB, guildID string) ([]models.Ban, error) {
	var out []models.Ban
	if err := db.Where("guild_id = ?", guildID).Order("created_at").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("team: list bans %s: %w", guildID, err)
	}
	return out, nil
}
