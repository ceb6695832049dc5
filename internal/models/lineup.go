package models

import "time"

// GuestUserID is the reserved user id of an unregistered guest ("merc").
// Guests are exempt from duplicate checks and statistics.
const GuestUserID = "merc"

// Lineup kinds.
const (
	KindTeam     = "team"
	KindMix      = "mix"
	KindCaptains = "captains"
)

// Lineup visibility.
const (
	VisibilityPublic = "public"
	VisibilityTeam   = "team"
)

// Side tags. FixedTeam lineups only use SideA.
const (
	SideA = 1
	SideB = 2
)

// UserRef identifies a chat user.
type UserRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// IsGuest reports whether u is an unregistered guest.
func (u UserRef) IsGuest() bool {
	return u.ID == GuestUserID
}

// Lineup is the roster of one chat-room context.
type Lineup struct {
	ContextID  string       `gorm:"primaryKey;size:64"`
	GuildID    string       `gorm:"size:64;not null;index"`
	Name       string       `gorm:"size:128"`
	Size       int          `gorm:"not null"`
	Kind       string       `gorm:"size:16;default:team"`
	Visibility string       `gorm:"size:16;default:public"`
	AutoSearch bool         `gorm:"default:false"`
	IsDrafting bool         `gorm:"default:false"`
	Version    int64        `gorm:"not null;default:0"`
	Roles      []LineupRole `gorm:"foreignKey:ContextID;references:ContextID"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// LineupRole is a named slot on one side of a lineup.
type LineupRole struct {
	ID           uint    `gorm:"primaryKey;autoIncrement"`
	ContextID    string  `gorm:"size:64;not null;uniqueIndex:idx_role_slot"`
	Side         int     `gorm:"not null;uniqueIndex:idx_role_slot"`
	Name         string  `gorm:"size:32;not null;uniqueIndex:idx_role_slot"`
	Position     int     `gorm:"not null"`
	IsGoalkeeper bool    `gorm:"default:false"`
	UserID       *string `gorm:"size:64;index"`
	UserName     string  `gorm:"size:128"`
}

// Occupant returns the user holding the role, or nil.
func (r LineupRole) Occupant() *UserRef {
	if r.UserID == nil {
		return nil
	}
	return &UserRef{ID: *r.UserID, Name: r.UserName}
}

// IsOpen reports whether the role has no occupant.
func (r LineupRole) IsOpen() bool {
	return r.UserID == nil
}

// Assign places u in the role.
func (r *LineupRole) Assign(u UserRef) {
	id := u.ID
	r.UserID = &id
	r.UserName = u.Name
}

// Clear empties the role.
func (r *LineupRole) Clear() {
	r.UserID = nil
	r.UserName = ""
}

// IsPool reports whether the lineup is a merged or captains pool.
func (l *Lineup) IsPool() bool {
	return l.Kind == KindMix || l.Kind == KindCaptains
}

// RequiredPlayers is the number of occupied roles that makes the lineup
// eligible: size for a team, both sides for a pool.
func (l *Lineup) RequiredPlayers() int {
	if l.IsPool() {
		return 2 * l.Size
	}
	return l.Size
}

// OccupiedCount returns the number of roles with an occupant.
func (l *Lineup) OccupiedCount() int {
	n := 0
	for _, r := range l.Roles {
		if !r.IsOpen() {
			n++
		}
	}
	return n
}

// IsEligible reports whether every required role is occupied.
func (l *Lineup) IsEligible() bool {
	return l.OccupiedCount() == l.RequiredPlayers()
}

// FindRole returns the role with the given name on side, or nil.
func (l *Lineup) FindRole(name string, side int) *LineupRole {
	for i := range l.Roles {
		if l.Roles[i].Name == name && l.Roles[i].Side == side {
			return &l.Roles[i]
		}
	}
	return nil
}

// RoleOf returns the role occupied by the non-guest user id, or nil.
func (l *Lineup) RoleOf(userID string) *LineupRole {
	if userID == "" || userID == GuestUserID {
		return nil
	}
	for i := range l.Roles {
		if r := l.Roles[i]; r.UserID != nil && *r.UserID == userID {
			return &l.Roles[i]
		}
	}
	return nil
}

// HasUser reports whether the non-guest user occupies any role.
func (l *Lineup) HasUser(userID string) bool {
	return l.RoleOf(userID) != nil
}

// RolesOnSide returns the roles tagged with side, in position order.
func (l *Lineup) RolesOnSide(side int) []LineupRole {
	var out []LineupRole
	for _, r := range l.Roles {
		if r.Side == side {
			out = append(out, r)
		}
	}
	return out
}

// Users returns the occupants of the given side in role order.
func (l *Lineup) Users(side int) []UserRef {
	var out []UserRef
	for _, r := range l.Roles {
		if r.Side == side && r.UserID != nil {
			out = append(out, *r.Occupant())
		}
	}
	return out
}

// AllUsers returns every occupant across both sides.
func (l *Lineup) AllUsers() []UserRef {
	var out []UserRef
	for _, r := range l.Roles {
		if r.UserID != nil {
			out = append(out, *r.Occupant())
		}
	}
	return out
}

// IsSideFull reports whether every role on side is occupied.
func (l *Lineup) IsSideFull(side int) bool {
	for _, r := range l.Roles {
		if r.Side == side && r.IsOpen() {
			return false
		}
	}
	return true
}

// ClearAll empties every role.
func (l *Lineup) ClearAll() {
	for i := range l.Roles {
		l.Roles[i].Clear()
	}
}

// Snapshot returns a serializable copy of the lineup for queue entries.
func (l *Lineup) Snapshot(region string) LineupSnapshot {
	s := LineupSnapshot{
		ContextID:  l.ContextID,
		GuildID:    l.GuildID,
		Name:       l.Name,
		Region:     region,
		Size:       l.Size,
		Kind:       l.Kind,
		Visibility: l.Visibility,
	}
	for _, r := range l.Roles {
		s.Roles = append(s.Roles, RoleSnapshot{
			Name:         r.Name,
			Side:         r.Side,
			IsGoalkeeper: r.IsGoalkeeper,
			User:         r.Occupant(),
		})
	}
	return s
}

// LineupSnapshot is the copy of a lineup carried by a queue entry.
type LineupSnapshot struct {
	ContextID  string         `json:"context_id"`
	GuildID    string         `json:"guild_id"`
	Name       string         `json:"name"`
	Region     string         `json:"region"`
	Size       int            `json:"size"`
	Kind       string         `json:"kind"`
	Visibility string         `json:"visibility"`
	Roles      []RoleSnapshot `json:"roles"`
}

// RoleSnapshot is one role inside a LineupSnapshot.
type RoleSnapshot struct {
	Name         string   `json:"name"`
	Side         int      `json:"side"`
	IsGoalkeeper bool     `json:"is_goalkeeper"`
	User         *UserRef `json:"user,omitempty"`
}

// Users returns the occupants of side in the snapshot.
func (s LineupSnapshot) Users(side int) []UserRef {
	var out []UserRef
	for _, r := range s.Roles {
		if r.Side == side && r.User != nil {
			out = append(out, *r.User)
		}
	}
	return out
}
