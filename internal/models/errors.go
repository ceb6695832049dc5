package models

import (
	"errors"
	"fmt"
	"strings"
)

// Named failures returned by the matchmaking core. Callers test them with
// errors.Is; state is unchanged whenever one is returned.
var (
	ErrRoleOccupied       = errors.New("role occupied")
	ErrRoleNotFound       = errors.New("role not found")
	ErrRoleEmpty          = errors.New("role empty")
	ErrLineupNotFound     = errors.New("lineup not found")
	ErrNotInLineup        = errors.New("not in lineup")
	ErrAlreadyInLineup    = errors.New("already in lineup")
	ErrNotEligible        = errors.New("lineup not eligible")
	ErrAlreadyQueued      = errors.New("already queued")
	ErrNotQueued          = errors.New("not queued")
	ErrAlreadyChallenging = errors.New("already challenging")
	ErrTargetBusy         = errors.New("target busy")
	ErrTargetExpired      = errors.New("target expired")
	ErrChallengeExpired   = errors.New("challenge expired")
	ErrSizeMismatch       = errors.New("size mismatch")
	ErrDuplicatePlayers   = errors.New("duplicate players")
	ErrSelfAccept         = errors.New("self accept")
	ErrPickOutOfTurn      = errors.New("pick out of turn")
	ErrPlayerNotInPool    = errors.New("player not in pool")
	ErrDraftExpired       = errors.New("draft expired")
	ErrDraftInProgress    = errors.New("draft in progress")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrTeamNotRegistered  = errors.New("team not registered")
	ErrBanned             = errors.New("banned")
	ErrInvalidSize        = errors.New("invalid size")
)

// ErrNotSetup is returned when a context has no lineup.
var ErrNotSetup = ErrLineupNotFound

// DuplicatePlayersError lists the users found on both sides of a match.
type DuplicatePlayersError struct {
	Users []UserRef
}

func (e *DuplicatePlayersError) Error() string {
	names := make([]string, len(e.Users))
	for i, u := range e.Users {
		names[i] = u.Name
	}
	return fmt.Sprintf("duplicate players: %s", strings.Join(names, ", "))
}

func (e *DuplicatePlayersError) Unwrap() error {
	return ErrDuplicatePlayers
}

var explanations = []struct {
	err  error
	text string
}{
	{ErrRoleOccupied, "That position is already taken."},
	{ErrRoleNotFound, "That position does not exist in this lineup."},
	{ErrRoleEmpty, "That position is already empty."},
	{ErrLineupNotFound, "This channel has no lineup. Ask an admin to set one up."},
	{ErrNotInLineup, "You must be in the lineup to do that."},
	{ErrAlreadyInLineup, "You are already signed in this lineup."},
	{ErrNotEligible, "The lineup is not full yet."},
	{ErrAlreadyQueued, "This lineup is already searching for a team."},
	{ErrNotQueued, "This lineup is not searching for a team."},
	{ErrAlreadyChallenging, "This lineup is already negotiating a challenge."},
	{ErrTargetBusy, "That team is already negotiating a challenge."},
	{ErrTargetExpired, "That team is no longer searching."},
	{ErrChallengeExpired, "This challenge no longer exists."},
	{ErrSizeMismatch, "Both lineups must have the same size."},
	{ErrSelfAccept, "You cannot accept your own challenge."},
	{ErrPickOutOfTurn, "It is not your turn to pick."},
	{ErrPlayerNotInPool, "That player has already been picked."},
	{ErrDraftExpired, "The draft is over."},
	{ErrDraftInProgress, "Captains are currently picking. Wait for the draft to finish."},
	{ErrPermissionDenied, "You are not allowed to do that."},
	{ErrTeamNotRegistered, "This server has no registered team. Use register_team first."},
	{ErrBanned, "You are banned from this server's lineups."},
	{ErrInvalidSize, "Lineup size must be between 1 and 8."},
}

// Explain maps a core failure to a user-facing sentence. Unknown errors get
// a generic message.
func Explain(err error) string {
	var dup *DuplicatePlayersError
	if errors.As(err, &dup) {
		return fmt.Sprintf("Some players are signed on both sides: %s", joinNames(dup.Users))
	}
	for _, e := range explanations {
		if errors.Is(err, e.err) {
			return e.text
		}
	}
	return "Something went wrong. Try again in a moment."
}

func joinNames(users []UserRef) string {
	names := make([]string, len(users))
	for i, u := range users {
		names[i] = u.Name
	}
	return strings.Join(names, ", ")
}
