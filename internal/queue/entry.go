// Package queue tracks lineups seeking an opponent and the reservations
// that make a challenge exclusive.
package queue

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/zulandar/pitchside/internal/models"
)

// Get returns the entry with id.
func Get(db *gorm.DB, id string) (*models.QueueEntry, error) {
	var e models.QueueEntry
	err := db.Where("id = ?", id).Take(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("queue: entry %s: %w", id, models.ErrTargetExpired)
	}
	if err != nil {
		return nil, fmt.Errorf("queue: entry %s: %w", id, err)
	}
	return &e, nil
}

// GetByContext returns the entry of a context, or models.ErrNotQueued.
func GetByContext(db *gorm.DB, contextID string) (*models.QueueEntry, error) {
	var e models.QueueEntry
	err := db.Where("context_id = ?", contextID).Take(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("queue: context %s: %w", contextID, models.ErrNotQueued)
	}
	if err != nil {
		return nil, fmt.Errorf("queue: context %s: %w", contextID, err)
	}
	return &e, nil
}

// newEntry builds an entry for l in region.
func newEntry(l *models.Lineup, region string, ephemeral bool) *models.QueueEntry {
	return &models.QueueEntry{
		ID:         uuid.NewString(),
		ContextID:  l.ContextID,
		GuildID:    l.GuildID,
		Region:     region,
		Size:       l.Size,
		Kind:       l.Kind,
		Visibility: l.Visibility,
		Ephemeral:  ephemeral,
		Snapshot:   l.Snapshot(region),
	}
}

// create inserts e, mapping a duplicate context to models.ErrAlreadyQueued.
func create(tx *gorm.DB, e *models.QueueEntry) error {
	var n int64
	if err := tx.Model(&models.QueueEntry{}).Where("context_id = ?", e.ContextID).Count(&n).Error; err != nil {
		return fmt.Errorf("queue: create %s: %w", e.ContextID, err)
	}
	if n > 0 {
		return fmt.Errorf("queue: create %s: %w", e.ContextID, models.ErrAlreadyQueued)
	}
	if err := tx.Create(e).Error; err != nil {
		return fmt.Errorf("queue: create %s: %w", e.ContextID, err)
	}
	return nil
}

// EnsureEphemeral returns the entry of l's context, creating a hidden one
// when the lineup is not searching so a challenge can reserve it.
func EnsureEphemeral(tx *gorm.DB, l *models.Lineup, region string) (*models.QueueEntry, error) {
	e, err := GetByContext(tx, l.ContextID)
	if err == nil {
		return e, nil
	}
	if !errors.Is(err, models.ErrNotQueued) {
		return nil, err
	}
	e = newEntry(l, region, true)
	if err := create(tx, e); err != nil {
		if errors.Is(err, models.ErrAlreadyQueued) {
			return nil, fmt.Errorf("queue: ephemeral %s: %w", l.ContextID, models.ErrAlreadyChallenging)
		}
		return nil, err
	}
	return e, nil
}

// Reserve marks every entry in ids as held by challengeID. It only commits
// if none of them was already reserved; otherwise it fails with
// models.ErrTargetBusy and the caller's transaction must roll back.
func Reserve(tx *gorm.DB, ids []string, challengeID string) error {
	unique := make(map[string]bool, len(ids))
	for _, id := range ids {
		unique[id] = true
	}
	res := tx.Model(&models.QueueEntry{}).
		Where("id IN ? AND reserved_by IS NULL", ids).
		Update("reserved_by", challengeID)
	if res.Error != nil {
		return fmt.Errorf("queue: reserve: %w", res.Error)
	}
	if res.RowsAffected != int64(len(unique)) {
		return fmt.Errorf("queue: reserve %d of %d entries: %w", res.RowsAffected, len(unique), models.ErrTargetBusy)
	}
	return nil
}

// ReleaseChallenge clears every reservation held by challengeID and deletes
// the ephemeral entries it created.
func ReleaseChallenge(tx *gorm.DB, challengeID string) error {
	if err := tx.Where("reserved_by = ? AND ephemeral = ?", challengeID, true).
		Delete(&models.QueueEntry{}).Error; err != nil {
		return fmt.Errorf("queue: release %s: %w", challengeID, err)
	}
	if err := tx.Model(&models.QueueEntry{}).
		Where("reserved_by = ?", challengeID).
		Update("reserved_by", nil).Error; err != nil {
		return fmt.Errorf("queue: release %s: %w", challengeID, err)
	}
	return nil
}

// Remove deletes the entry of a context and returns it, or nil when the
// context has none.
func Remove(tx *gorm.DB, contextID string) (*models.QueueEntry, error) {
	e, err := GetByContext(tx, contextID)
	if errors.Is(err, models.ErrNotQueued) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := tx.Where("id = ?", e.ID).Delete(&models.QueueEntry{}).Error; err != nil {
		return nil, fmt.Errorf("queue: remove %s: %w", contextID, err)
	}
	return e, nil
}

// RemoveByGuild deletes every entry owned by a guild and returns them.
func RemoveByGuild(tx *gorm.DB, guildID string) ([]models.QueueEntry, error) {
	var entries []models.QueueEntry
	if err := tx.Where("guild_id = ?", guildID).Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("queue: remove guild %s: %w", guildID, err)
	}
	if len(entries) == 0 {
		return nil, nil
	}
	if err := tx.Where("guild_id = ?", guildID).Delete(&models.QueueEntry{}).Error; err != nil {
		return nil, fmt.Errorf("queue: remove guild %s: %w", guildID, err)
	}
	return entries, nil
}
