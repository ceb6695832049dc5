// Package pitchtest builds registered teams and populated lineups for tests
// of the packages above lineup.
package pitchtest

import (
	"fmt"
	"testing"

	"gorm.io/gorm"

	"github.com/zulandar/pitchside/internal/lineup"
	"github.com/zulandar/pitchside/internal/models"
	"github.com/zulandar/pitchside/internal/team"
)

// Option adjusts a lineup before it is created.
type Option func(*lineup.SetupOpts)

// Kind sets the lineup kind.
func Kind(kind string) Option {
	return func(o *lineup.SetupOpts) { o.Kind = kind }
}

// TeamOnly hides the lineup's queue entry from other guilds.
func TeamOnly() Option {
	return func(o *lineup.SetupOpts) { o.Visibility = models.VisibilityTeam }
}

// AutoSearch enables auto-search.
func AutoSearch() Option {
	return func(o *lineup.SetupOpts) { o.AutoSearch = true }
}

// User returns the deterministic user signed into slot i of contextID.
func User(contextID string, i int) models.UserRef {
	return models.UserRef{ID: fmt.Sprintf("%s-p%d", contextID, i), Name: fmt.Sprintf("%s %d", contextID, i)}
}

// Team registers guildID in region.
func Team(t testing.TB, db *gorm.DB, guildID, region string) {
	t.Helper()
	if _, err := team.Register(db, guildID, "Team "+guildID, region); err != nil {
		t.Fatalf("register team %s: %v", guildID, err)
	}
}

// Lineup registers the guild's team and creates a lineup whose first
// `signed` roles hold User(contextID, i).
func Lineup(t testing.TB, db *gorm.DB, contextID, guildID, region string, size, signed int, opts ...Option) *models.Lineup {
	t.Helper()
	Team(t, db, guildID, region)
	so := lineup.SetupOpts{ContextID: contextID, GuildID: guildID, Name: contextID, Size: size}
	for _, o := range opts {
		o(&so)
	}
	if _, err := lineup.Setup(db, so); err != nil {
		t.Fatalf("setup lineup %s: %v", contextID, err)
	}
	return Sign(t, db, contextID, signed, func(i int) models.UserRef { return User(contextID, i) })
}

// Sign fills the first n roles of a lineup with users produced by user.
func Sign(t testing.TB, db *gorm.DB, contextID string, n int, user func(i int) models.UserRef) *models.Lineup {
	t.Helper()
	l, err := lineup.Mutate(db, contextID, func(l *models.Lineup) error {
		for i := 0; i < n && i < len(l.Roles); i++ {
			l.Roles[i].Assign(user(i))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("sign %s: %v", contextID, err)
	}
	return l
}

// Assign puts user in a specific role.
func Assign(t testing.TB, db *gorm.DB, contextID, role string, side int, user models.UserRef) *models.Lineup {
	t.Helper()
	l, err := lineup.Mutate(db, contextID, func(l *models.Lineup) error {
		r := l.FindRole(role, side)
		if r == nil {
			return models.ErrRoleNotFound
		}
		r.Assign(user)
		return nil
	})
	if err != nil {
		t.Fatalf("assign %s %s/%d: %v", contextID, role, side, err)
	}
	return l
}
