// Package guard rejects matches that would put one player on both sides.
package guard

import "github.com/zulandar/pitchside/internal/models"

// Duplicates returns the registered users present on both sides, in side A
// order. Guests never count.
func Duplicates(sideA, sideB []models.UserRef) []models.UserRef {
	onB := make(map[string]bool, len(sideB))
	for _, u := range sideB {
		if !u.IsGuest() {
			onB[u.ID] = true
		}
	}
	var dups []models.UserRef
	seen := make(map[string]bool)
	for _, u := range sideA {
		if u.IsGuest() || !onB[u.ID] || seen[u.ID] {
			continue
		}
		seen[u.ID] = true
		dups = append(dups, u)
	}
	return dups
}

// Check returns a *models.DuplicatePlayersError when any registered user is
// on both sides.
func Check(sideA, sideB []models.UserRef) error {
	if dups := Duplicates(sideA, sideB); len(dups) > 0 {
		return &models.DuplicatePlayersError{Users: dups}
	}
	return nil
}
