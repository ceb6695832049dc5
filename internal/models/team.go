package models

import "time"

// Team is the registered team of a guild. Its region scopes discovery and
// statistics for every lineup in the guild.
type Team struct {
	GuildID   string `gorm:"primaryKey;size:64"`
	Name      string `gorm:"size:128;not null"`
	Region    string `gorm:"size:16;not null;index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Ban prevents a user from interacting with lineups of a guild.
// A nil ExpireAt means the ban is permanent.
type Ban struct {
	UserID    string `gorm:"primaryKey;size:64"`
	GuildID   string `gorm:"primaryKey;size:64"`
	Reason    string `gorm:"size:256"`
	ExpireAt  *time.Time
	CreatedAt time.Time
}

// Active reports whether the ban still applies at now.
func (b Ban) Active(now time.Time) bool {
	return b.ExpireAt == nil || b.ExpireAt.After(now)
}
