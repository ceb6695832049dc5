package lineup

import (
	"fmt"

	"github.com/zulandar/pitchside/internal/models"
)

// MaxSize is the largest supported number of players per side.
const MaxSize = 8

// RoleTemplate describes one slot of a side before anyone signs.
type RoleTemplate struct {
	Name       string
	Goalkeeper bool
}

var gk = RoleTemplate{Name: "GK", Goalkeeper: true}

// templates lists the positions of one side for each lineup size. The
// goalkeeper flag is explicit so the draft never guesses from role names.
var templates = map[int][]RoleTemplate{
	1: {{Name: "CF"}},
	2: {{Name: "CF"}, gk},
	3: {{Name: "LW"}, {Name: "RW"}, gk},
	4: {{Name: "LW"}, {Name: "CF"}, {Name: "RW"}, gk},
	5: {{Name: "LW"}, {Name: "RW"}, {Name: "CM"}, {Name: "CB"}, gk},
	6: {{Name: "LW"}, {Name: "RW"}, {Name: "CM"}, {Name: "LB"}, {Name: "RB"}, gk},
	7: {{Name: "LW"}, {Name: "CF"}, {Name: "RW"}, {Name: "CM"}, {Name: "LB"}, {Name: "RB"}, gk},
	8: {{Name: "LW"}, {Name: "CF"}, {Name: "RW"}, {Name: "LM"}, {Name: "RM"}, {Name: "LB"}, {Name: "RB"}, gk},
}

// Template returns the side template for size.
func Template(size int) ([]RoleTemplate, error) {
	t, ok := templates[size]
	if !ok {
		return nil, fmt.Errorf("lineup: size %d: %w", size, models.ErrInvalidSize)
	}
	out := make([]RoleTemplate, len(t))
	copy(out, t)
	return out, nil
}

// buildRoles expands the template for the lineup kind: one side for a team,
// two identical sides for a pool.
func buildRoles(contextID string, size int, kind string) ([]models.LineupRole, error) {
	tmpl, err := Template(size)
	if err != nil {
		return nil, err
	}
	sides := []int{models.SideA}
	if kind == models.KindMix || kind == models.KindCaptains {
		sides = append(sides, models.SideB)
	}
	var roles []models.LineupRole
	for _, side := range sides {
		for i, rt := range tmpl {
			roles = append(roles, models.LineupRole{
				ContextID:    contextID,
				Side:         side,
				Name:         rt.Name,
				Position:     i,
				IsGoalkeeper: rt.Goalkeeper,
			})
		}
	}
	return roles, nil
}
