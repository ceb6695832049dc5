package guard

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zulandar/pitchside/internal/models"
)

func u(id string) models.UserRef { return models.UserRef{ID: id, Name: "n" + id} }

var merc = models.UserRef{ID: models.GuestUserID, Name: "Merc"}

func TestDuplicates(t *testing.T) {
	tests := []struct {
		name  string
		a, b  []models.UserRef
		wantN int
	}{
		{"disjoint", []models.UserRef{u("1"), u("2")}, []models.UserRef{u("3")}, 0},
		{"one shared", []models.UserRef{u("1"), u("2")}, []models.UserRef{u("2"), u("3")}, 1},
		{"guests ignored", []models.UserRef{merc, u("1")}, []models.UserRef{merc}, 0},
		{"empty", nil, nil, 0},
		{"repeated on A", []models.UserRef{u("1"), u("1")}, []models.UserRef{u("1")}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, Duplicates(tt.a, tt.b), tt.wantN)
		})
	}
}

func TestCheck(t *testing.T) {
	require.NoError(t, Check([]models.UserRef{u("1")}, []models.UserRef{u("2")}))

	err := Check([]models.UserRef{u("1"), u("2")}, []models.UserRef{u("2")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrDuplicatePlayers))

	var dup *models.DuplicatePlayersError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, []models.UserRef{u("2")}, dup.Users)
	assert.Contains(t, models.Explain(err), "n2")
}
