// Package draft runs the captains' draft that splits a full pool lineup
// into two sides. The turn logic lives in Session, a plain value that the
// Engine loads from a Store, mutates and writes back with check-and-set.
package draft

import (
	"fmt"
	"time"

	"github.com/zulandar/pitchside/internal/lineup"
	"github.com/zulandar/pitchside/internal/models"
)

// Pair is a signed user with the role they held before the draft.
type Pair struct {
	Role       string         `json:"role"`
	Side       int            `json:"side"`
	Goalkeeper bool           `json:"goalkeeper"`
	User       models.UserRef `json:"user"`
}

// Slot is one position of a drafted side.
type Slot struct {
	Role       string          `json:"role"`
	Goalkeeper bool            `json:"goalkeeper"`
	User       *models.UserRef `json:"user,omitempty"`
}

// Session is the state of one context's draft.
type Session struct {
	ContextID string         `json:"context_id"`
	Version   int64          `json:"version"`
	Size      int            `json:"size"`
	CaptainA  models.UserRef `json:"captain_a"`
	CaptainB  models.UserRef `json:"captain_b"`
	Turn      int            `json:"turn"`
	SideA     []Slot         `json:"side_a"`
	SideB     []Slot         `json:"side_b"`
	Pool      []Pair         `json:"pool"`
	Roster    []Pair         `json:"roster"`
	Deadline  time.Time      `json:"deadline"`
	Done      bool           `json:"done"`
}

// RosterOf returns the signed users of a lineup in role order.
func RosterOf(l *models.Lineup) []Pair {
	var out []Pair
	for _, r := range l.Roles {
		if u := r.Occupant(); u != nil {
			out = append(out, Pair{Role: r.Name, Side: r.Side, Goalkeeper: r.IsGoalkeeper, User: *u})
		}
	}
	return out
}

// Start builds a session from the signed roster. Captains are placed, the
// goalkeepers reconciled and, when no meaningful choice is left, the draft
// completes immediately (Done is set).
func Start(contextID string, size int, roster []Pair, captainA, captainB models.UserRef, deadline time.Time) (*Session, error) {
	tmpl, err := lineup.Template(size)
	if err != nil {
		return nil, err
	}
	if len(roster) != 2*size {
		return nil, fmt.Errorf("draft: start %s: %d signed for %d slots: %w", contextID, len(roster), 2*size, models.ErrNotEligible)
	}
	if captainA.ID == captainB.ID {
		return nil, fmt.Errorf("draft: start %s: captains must differ", contextID)
	}
	s := &Session{
		ContextID: contextID,
		Size:      size,
		CaptainA:  captainA,
		CaptainB:  captainB,
		Turn:      models.SideA,
		SideA:     emptySide(tmpl),
		SideB:     emptySide(tmpl),
		Roster:    append([]Pair(nil), roster...),
		Deadline:  deadline,
	}
	s.Pool = append([]Pair(nil), roster...)

	capA, ok := s.take(captainA.ID)
	if !ok {
		return nil, fmt.Errorf("draft: start %s: captain %s: %w", contextID, captainA.ID, models.ErrPlayerNotInPool)
	}
	capB, ok := s.take(captainB.ID)
	if !ok {
		return nil, fmt.Errorf("draft: start %s: captain %s: %w", contextID, captainB.ID, models.ErrPlayerNotInPool)
	}
	s.place(models.SideA, capA)
	s.place(models.SideB, capB)
	s.reconcileGoalkeepers(capA.Goalkeeper, capB.Goalkeeper)

	if len(s.Pool) <= 1 || s.sideFull(models.SideA) || s.sideFull(models.SideB) {
		s.finish(models.SideB)
	}
	return s, nil
}

func emptySide(tmpl []lineup.RoleTemplate) []Slot {
	out := make([]Slot, len(tmpl))
	for i, t := range tmpl {
		out[i] = Slot{Role: t.Name, Goalkeeper: t.Goalkeeper}
	}
	return out
}

// reconcileGoalkeepers fills goalkeeper slots that involve no real choice.
func (s *Session) reconcileGoalkeepers(capAGK, capBGK bool) {
	signed := 0
	for _, p := range s.Roster {
		if p.Goalkeeper {
			signed++
		}
	}
	switch {
	case signed == 2 && capAGK != capBGK:
		other := models.SideB
		if capBGK {
			other = models.SideA
		}
		if p, ok := s.takeGoalkeeper(); ok {
			s.placeGoalkeeper(other, p)
		}
	case signed == 1 && !capAGK && !capBGK:
		if p, ok := s.takeGoalkeeper(); ok {
			s.placeGoalkeeper(models.SideA, p)
		}
	}
}

// Captain returns the captain of side.
func (s *Session) Captain(side int) models.UserRef {
	if side == models.SideB {
		return s.CaptainB
	}
	return s.CaptainA
}

// TurnCaptain is the captain expected to pick next.
func (s *Session) TurnCaptain() models.UserRef {
	return s.Captain(s.Turn)
}

// Pick moves target from the pool to the side of the captain whose turn it
// is. It reports whether the draft finished with this pick.
func (s *Session) Pick(byUserID, targetUserID string) (bool, error) {
	if s.Done {
		return false, fmt.Errorf("draft: pick in %s: %w", s.ContextID, models.ErrDraftExpired)
	}
	if byUserID != s.TurnCaptain().ID {
		return false, fmt.Errorf("draft: pick by %s: %w", byUserID, models.ErrPickOutOfTurn)
	}
	p, ok := s.take(targetUserID)
	if !ok {
		return false, fmt.Errorf("draft: pick %s: %w", targetUserID, models.ErrPlayerNotInPool)
	}
	picker := s.Turn
	other := opposite(picker)
	if p.Goalkeeper {
		s.placeGoalkeeper(picker, p)
		if gk, ok := s.takeGoalkeeper(); ok {
			s.placeGoalkeeper(other, gk)
		}
	} else {
		s.place(picker, p)
	}

	if s.terminated(picker) {
		s.finish(other)
		return true, nil
	}
	s.Turn = other
	return false, nil
}

// terminated evaluates the end conditions after picker's move. A full
// opposing side also ends the draft since that captain has nothing left
// to pick for.
func (s *Session) terminated(picker int) bool {
	if len(s.Pool) <= 1 || s.sideFull(picker) || s.sideFull(opposite(picker)) {
		return true
	}
	open := s.openSlots(picker)
	return len(open) == 1 && s.slots(picker)[open[0]].Goalkeeper
}

// finish assigns every remaining pair, goalkeepers first, preferring side
// prefer and falling back to the other side when it is full.
func (s *Session) finish(prefer int) {
	var rest []Pair
	for _, p := range s.Pool {
		if !p.Goalkeeper {
			rest = append(rest, p)
			continue
		}
		if !s.fillGoalkeeper(prefer, p) && !s.fillGoalkeeper(opposite(prefer), p) {
			rest = append(rest, p)
		}
	}
	for _, p := range rest {
		if !s.fillFirst(prefer, p) {
			s.fillFirst(opposite(prefer), p)
		}
	}
	s.Pool = nil
	s.Done = true
}

// Users returns the occupants of side in slot order.
func (s *Session) Users(side int) []models.UserRef {
	var out []models.UserRef
	for _, sl := range s.slots(side) {
		if sl.User != nil {
			out = append(out, *sl.User)
		}
	}
	return out
}

// PoolUsers returns the users still available to pick.
func (s *Session) PoolUsers() []models.UserRef {
	out := make([]models.UserRef, len(s.Pool))
	for i, p := range s.Pool {
		out[i] = p.User
	}
	return out
}

// Restored returns the pre-draft roster without the user who let the clock
// run out.
func (s *Session) Restored(without string) []Pair {
	var out []Pair
	for _, p := range s.Roster {
		if p.User.ID != without {
			out = append(out, p)
		}
	}
	return out
}

func (s *Session) slots(side int) []Slot {
	if side == models.SideB {
		return s.SideB
	}
	return s.SideA
}

func (s *Session) sideFull(side int) bool {
	return len(s.openSlots(side)) == 0
}

func (s *Session) openSlots(side int) []int {
	var out []int
	for i, sl := range s.slots(side) {
		if sl.User == nil {
			out = append(out, i)
		}
	}
	return out
}

// take removes userID from the pool.
func (s *Session) take(userID string) (Pair, bool) {
	for i, p := range s.Pool {
		if p.User.ID == userID {
			s.Pool = append(s.Pool[:i:i], s.Pool[i+1:]...)
			return p, true
		}
	}
	return Pair{}, false
}

// takeGoalkeeper removes the first goalkeeper left in the pool.
func (s *Session) takeGoalkeeper() (Pair, bool) {
	for _, p := range s.Pool {
		if p.Goalkeeper {
			return s.take(p.User.ID)
		}
	}
	return Pair{}, false
}

// place seats p on side: a goalkeeper in the goalkeeper slot, anyone else
// in the first open outfield slot.
func (s *Session) place(side int, p Pair) {
	if p.Goalkeeper {
		s.placeGoalkeeper(side, p)
		return
	}
	if !s.fillOutfield(side, p) && !s.fillFirst(side, p) {
		s.fillFirst(opposite(side), p)
	}
}

func (s *Session) placeGoalkeeper(side int, p Pair) {
	if !s.fillGoalkeeper(side, p) && !s.fillFirst(side, p) {
		s.fillFirst(opposite(side), p)
	}
}

func (s *Session) fillGoalkeeper(side int, p Pair) bool {
	return s.fill(side, p, func(sl Slot) bool { return sl.Goalkeeper })
}

func (s *Session) fillOutfield(side int, p Pair) bool {
	return s.fill(side, p, func(sl Slot) bool { return !sl.Goalkeeper })
}

func (s *Session) fillFirst(side int, p Pair) bool {
	return s.fill(side, p, func(Slot) bool { return true })
}

func (s *Session) fill(side int, p Pair, match func(Slot) bool) bool {
	slots := s.slots(side)
	for i := range slots {
		if slots[i].User == nil && match(slots[i]) {
			u := p.User
			slots[i].User = &u
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	c := *s
	c.SideA = cloneSlots(s.SideA)
	c.SideB = cloneSlots(s.SideB)
	c.Pool = append([]Pair(nil), s.Pool...)
	c.Roster = append([]Pair(nil), s.Roster...)
	return &c
}

func cloneSlots(in []Slot) []Slot {
	out := make([]Slot, len(in))
	for i, sl := range in {
		out[i] = sl
		if sl.User != nil {
			u := *sl.User
			out[i].User = &u
		}
	}
	return out
}

func opposite(side int) int {
	if side == models.SideA {
		return models.SideB
	}
	return models.SideA
}
