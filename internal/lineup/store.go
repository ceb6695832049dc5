// Package lineup owns the roster of each chat-room context and the atomic
// slot-assignment primitives that mutate it.
package lineup

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/zulandar/pitchside/internal/models"
)

// ErrConflict is returned when a lineup kept changing under a mutation for
// every retry attempt.
var ErrConflict = errors.New("lineup: concurrent modification")

// errConflict aborts a single attempt so Mutate can retry on fresh state.
var errConflict = errors.New("lineup: stale read")

// errUnchanged lets a mutation finish without writing anything.
var errUnchanged = errors.New("lineup: unchanged")

const maxAttempts = 5

// SetupOpts describes a lineup to create.
type SetupOpts struct {
	ContextID  string
	GuildID    string
	Name       string
	Size       int
	Kind       string
	Visibility string
	AutoSearch bool
}

// Setup creates the lineup of a context, replacing any previous one.
func Setup(db *gorm.DB, opts SetupOpts) (*models.Lineup, error) {
	if opts.ContextID == "" || opts.GuildID == "" {
		return nil, fmt.Errorf("lineup: setup: context and guild are required")
	}
	if opts.Kind == "" {
		opts.Kind = models.KindTeam
	}
	switch opts.Kind {
	case models.KindTeam, models.KindMix, models.KindCaptains:
	default:
		return nil, fmt.Errorf("lineup: setup: unknown kind %q", opts.Kind)
	}
	if opts.Visibility == "" {
		opts.Visibility = models.VisibilityPublic
	}
	if opts.Kind != models.KindTeam {
		opts.AutoSearch = false
	}
	roles, err := buildRoles(opts.ContextID, opts.Size, opts.Kind)
	if err != nil {
		return nil, err
	}

	l := &models.Lineup{
		ContextID:  opts.ContextID,
		GuildID:    opts.GuildID,
		Name:       opts.Name,
		Size:       opts.Size,
		Kind:       opts.Kind,
		Visibility: opts.Visibility,
		AutoSearch: opts.AutoSearch,
		Roles:      roles,
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := deleteTx(tx, opts.ContextID); err != nil {
			return err
		}
		return tx.Create(l).Error
	})
	if err != nil {
		return nil, fmt.Errorf("lineup: setup %s: %w", opts.ContextID, err)
	}
	return l, nil
}

// Get loads the lineup of a context with its roles in side and position
// order.
func Get(db *gorm.DB, contextID string) (*models.Lineup, error) {
	var l models.Lineup
	err := db.Preload("Roles", func(db *gorm.DB) *gorm.DB {
		return db.Order("side ASC, position ASC")
	}).Where("context_id = ?", contextID).Take(&l).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("lineup: get %s: %w", contextID, models.ErrLineupNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("lineup: get %s: %w", contextID, err)
	}
	return &l, nil
}

// ListByGuild returns every lineup of a guild.
func ListByGuild(db *gorm.DB, guildID string) ([]models.Lineup, error) {
	var out []models.Lineup
	err := db.Preload("Roles", func(db *gorm.DB) *gorm.DB {
		return db.Order("side ASC, position ASC")
	}).Where("guild_id = ?", guildID).Order("context_id").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("lineup: list guild %s: %w", guildID, err)
	}
	return out, nil
}

// Delete removes the lineup of a context and its roles.
func Delete(db *gorm.DB, contextID string) error {
	if err := db.Transaction(func(tx *gorm.DB) error {
		return deleteTx(tx, contextID)
	}); err != nil {
		return fmt.Errorf("lineup: delete %s: %w", contextID, err)
	}
	return nil
}

// DeleteByGuild removes every lineup of a guild.
func DeleteByGuild(db *gorm.DB, guildID string) error {
	err := db.Transaction(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Model(&models.Lineup{}).Where("guild_id = ?", guildID).Pluck("context_id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Where("context_id IN ?", ids).Delete(&models.LineupRole{}).Error; err != nil {
			return err
		}
		return tx.Where("context_id IN ?", ids).Delete(&models.Lineup{}).Error
	})
	if err != nil {
		return fmt.Errorf("lineup: delete guild %s: %w", guildID, err)
	}
	return nil
}

func deleteTx(tx *gorm.DB, contextID string) error {
	if err := tx.Where("context_id = ?", contextID).Delete(&models.LineupRole{}).Error; err != nil {
		return err
	}
	return tx.Where("context_id = ?", contextID).Delete(&models.Lineup{}).Error
}

// Mutate applies fn to the current lineup and commits the result with
// check-and-set semantics: every changed role is updated only if its
// occupant is still the one fn observed, and the lineup version must be
// unchanged. On a lost race the whole attempt rolls back and fn runs again
// on fresh state, so a failure returned by fn on the retry (for example
// models.ErrRoleOccupied) is what the caller sees.
//
// fn may change occupants and lineup flags but must not add, remove or
// reorder roles.
func Mutate(db *gorm.DB, contextID string, fn func(*models.Lineup) error) (*models.Lineup, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		var out *models.Lineup
		err := db.Transaction(func(tx *gorm.DB) error {
			l, err := MutateTx(tx, contextID, fn)
			out = l
			return err
		})
		if errors.Is(err, errConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, fmt.Errorf("lineup: mutate %s: %w", contextID, ErrConflict)
}

// MutateTx is a single Mutate attempt inside an existing transaction. A lost
// race surfaces as an error wrapping ErrConflict and should roll back tx.
func MutateTx(tx *gorm.DB, contextID string, fn func(*models.Lineup) error) (*models.Lineup, error) {
	cur, err := Get(tx, contextID)
	if err != nil {
		return nil, err
	}
	next := clone(cur)
	if err := fn(next); err != nil {
		if errors.Is(err, errUnchanged) {
			return cur, nil
		}
		return nil, err
	}
	if len(next.Roles) != len(cur.Roles) {
		return nil, fmt.Errorf("lineup: mutate %s: roles added or removed", contextID)
	}
	if err := writeRoles(tx, cur, next); err != nil {
		return nil, err
	}

	res := tx.Model(&models.Lineup{}).
		Where("context_id = ? AND version = ?", contextID, cur.Version).
		Updates(map[string]interface{}{
			"version":     cur.Version + 1,
			"name":        next.Name,
			"visibility":  next.Visibility,
			"auto_search": next.AutoSearch,
			"is_drafting": next.IsDrafting,
			"updated_at":  time.Now(),
		})
	if res.Error != nil {
		return nil, fmt.Errorf("lineup: mutate %s: %w", contextID, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("lineup: mutate %s: version %d: %w", contextID, cur.Version, errConflict)
	}
	next.Version = cur.Version + 1

	if err := mirrorSnapshot(tx, next); err != nil {
		return nil, err
	}
	return next, nil
}

// writeRoles persists occupant changes, each conditional on the occupant
// observed when the lineup was read.
func writeRoles(tx *gorm.DB, cur, next *models.Lineup) error {
	for i := range next.Roles {
		before, after := cur.Roles[i], next.Roles[i]
		if sameOccupant(before, after) {
			continue
		}
		q := tx.Model(&models.LineupRole{}).Where("id = ?", before.ID)
		if before.UserID == nil {
			q = q.Where("user_id IS NULL")
		} else {
			q = q.Where("user_id = ?", *before.UserID)
		}
		var userID interface{}
		if after.UserID != nil {
			userID = *after.UserID
		}
		res := q.Updates(map[string]interface{}{
			"user_id":   userID,
			"user_name": after.UserName,
		})
		if res.Error != nil {
			return fmt.Errorf("lineup: write role %s/%d: %w", after.Name, after.Side, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("lineup: write role %s/%d: %w", after.Name, after.Side, errConflict)
		}
	}
	return nil
}

// mirrorSnapshot copies the lineup into its queue entry, if it has one.
func mirrorSnapshot(tx *gorm.DB, l *models.Lineup) error {
	var entry models.QueueEntry
	err := tx.Where("context_id = ?", l.ContextID).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lineup: mirror %s: %w", l.ContextID, err)
	}
	entry.Snapshot = l.Snapshot(entry.Region)
	if err := tx.Model(&entry).Select("snapshot").Updates(&entry).Error; err != nil {
		return fmt.Errorf("lineup: mirror %s: %w", l.ContextID, err)
	}
	return nil
}

func sameOccupant(a, b models.LineupRole) bool {
	if a.UserID == nil || b.UserID == nil {
		return a.UserID == nil && b.UserID == nil
	}
	return *a.UserID == *b.UserID && a.UserName == b.UserName
}

func clone(l *models.Lineup) *models.Lineup {
	c := *l
	c.Roles = make([]models.LineupRole, len(l.Roles))
	for i, r := range l.Roles {
		c.Roles[i] = r
		if r.UserID != nil {
			id := *r.UserID
			c.Roles[i].UserID = &id
		}
	}
	return &c
}

// IsConflict reports whether err is a lost check-and-set race, either a
// single MutateTx attempt or an exhausted Mutate.
func IsConflict(err error) bool {
	return errors.Is(err, errConflict) || errors.Is(err, ErrConflict)
}
