package models

import "time"

// MessageRef identifies a message posted through a gateway so it can be
// edited or deleted later.
type MessageRef struct {
	ContextID string `json:"context_id"`
	MessageID string `json:"message_id"`
}

// QueueEntry is a lineup actively seeking an opponent.
type QueueEntry struct {
	ID            string         `gorm:"primaryKey;size:36"`
	ContextID     string         `gorm:"size:64;not null;uniqueIndex"`
	GuildID       string         `gorm:"size:64;not null;index"`
	Region        string         `gorm:"size:16;index"`
	Size          int            `gorm:"not null;index"`
	Kind          string         `gorm:"size:16;default:team"`
	Visibility    string         `gorm:"size:16;default:public"`
	ReservedBy    *string        `gorm:"size:36;index"`
	Ephemeral     bool           `gorm:"default:false"`
	Snapshot      LineupSnapshot `gorm:"serializer:json;type:text"`
	Notifications []MessageRef   `gorm:"serializer:json;type:text"`
	CreatedAt     time.Time
}

// IsReserved reports whether an active challenge holds the entry.
func (e QueueEntry) IsReserved() bool {
	return e.ReservedBy != nil
}

// Challenge is a pending proposal between two queue entries.
type Challenge struct {
	ID                  string     `gorm:"primaryKey;size:36"`
	InitiatingUserID    string     `gorm:"size:64;not null"`
	InitiatingUserName  string     `gorm:"size:128"`
	InitiatingEntryID   string     `gorm:"size:36;not null"`
	InitiatingContextID string     `gorm:"size:64;not null;index"`
	InitiatingGuildID   string     `gorm:"size:64;not null;index"`
	ChallengedEntryID   string     `gorm:"size:36;not null"`
	ChallengedContextID string     `gorm:"size:64;not null;index"`
	ChallengedGuildID   string     `gorm:"size:64;not null;index"`
	InitiatingMessage   MessageRef `gorm:"serializer:json;type:text"`
	ChallengedMessage   MessageRef `gorm:"serializer:json;type:text"`
	CreatedAt           time.Time
}

// Involves reports whether contextID is either side of the challenge.
func (c Challenge) Involves(contextID string) bool {
	return c.InitiatingContextID == contextID || c.ChallengedContextID == contextID
}

// Stats counts games played per user, guild, region and lineup size.
type Stats struct {
	ID            uint   `gorm:"primaryKey;autoIncrement"`
	UserID        string `gorm:"size:64;not null;uniqueIndex:idx_stats_key"`
	GuildID       string `gorm:"size:64;not null;uniqueIndex:idx_stats_key"`
	Region        string `gorm:"size:16;not null;uniqueIndex:idx_stats_key"`
	LineupSize    int    `gorm:"not null;uniqueIndex:idx_stats_key"`
	NumberOfGames int    `gorm:"not null;default:0"`
	UpdatedAt     time.Time
}
