package lineup

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/zulandar/pitchside/internal/logging"
	"github.com/zulandar/pitchside/internal/models"
)

// Slots is the slot assignment service: atomic claim, release and swap of
// roles plus the operator actions on a lineup.
type Slots struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewSlots creates a Slots service over db.
func NewSlots(db *gorm.DB, log *zap.Logger) *Slots {
	return &Slots{db: db, log: logging.OrNop(log)}
}

// Claim places user in the named role. A user already holding another role
// in the lineup moves in the same transaction, so they are never observed
// absent from both. Fails with models.ErrRoleOccupied when someone else
// holds the role at commit time.
func (s *Slots) Claim(ctx context.Context, contextID, roleName string, side int, user models.UserRef) (*models.Lineup, error) {
	l, err := Mutate(s.db.WithContext(ctx), contextID, func(l *models.Lineup) error {
		if l.IsDrafting {
			return models.ErrDraftInProgress
		}
		role := l.FindRole(roleName, side)
		if role == nil {
			return models.ErrRoleNotFound
		}
		if occ := role.Occupant(); occ != nil {
			if !user.IsGuest() && occ.ID == user.ID {
				return errUnchanged
			}
			return models.ErrRoleOccupied
		}
		if prev := l.RoleOf(user.ID); prev != nil {
			prev.Clear()
		}
		role.Assign(user)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("lineup: claim %s %s/%d: %w", contextID, roleName, side, err)
	}
	s.log.Debug("role claimed",
		zap.String("context", contextID), zap.String("role", roleName),
		zap.Int("side", side), zap.String("user", user.ID))
	return l, nil
}

// Release removes user from the lineup. It returns nil without error when
// the user holds no role.
func (s *Slots) Release(ctx context.Context, contextID, userID string) (*models.Lineup, error) {
	found := false
	l, err := Mutate(s.db.WithContext(ctx), contextID, func(l *models.Lineup) error {
		if l.IsDrafting {
			return models.ErrDraftInProgress
		}
		role := l.RoleOf(userID)
		if role == nil {
			found = false
			return errUnchanged
		}
		found = true
		role.Clear()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("lineup: release %s %s: %w", contextID, userID, err)
	}
	if !found {
		return nil, nil
	}
	s.log.Debug("role released", zap.String("context", contextID), zap.String("user", userID))
	return l, nil
}

// SignGuest lets an operator sign someone into a role: a guest placeholder
// or a registered user who is not already in the lineup.
func (s *Slots) SignGuest(ctx context.Context, contextID, roleName string, side int, user models.UserRef) (*models.Lineup, error) {
	l, err := Mutate(s.db.WithContext(ctx), contextID, func(l *models.Lineup) error {
		if l.IsDrafting {
			return models.ErrDraftInProgress
		}
		role := l.FindRole(roleName, side)
		if role == nil {
			return models.ErrRoleNotFound
		}
		if !role.IsOpen() {
			return models.ErrRoleOccupied
		}
		if l.HasUser(user.ID) {
			return models.ErrAlreadyInLineup
		}
		role.Assign(user)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("lineup: sign %s %s/%d: %w", contextID, roleName, side, err)
	}
	s.log.Info("guest signed",
		zap.String("context", contextID), zap.String("role", roleName),
		zap.Int("side", side), zap.String("name", user.Name))
	return l, nil
}

// ClearRole empties a role on behalf of an operator.
func (s *Slots) ClearRole(ctx context.Context, contextID, roleName string, side int) (*models.Lineup, error) {
	l, err := Mutate(s.db.WithContext(ctx), contextID, func(l *models.Lineup) error {
		if l.IsDrafting {
			return models.ErrDraftInProgress
		}
		role := l.FindRole(roleName, side)
		if role == nil {
			return models.ErrRoleNotFound
		}
		if role.IsOpen() {
			return models.ErrRoleEmpty
		}
		role.Clear()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("lineup: clear %s %s/%d: %w", contextID, roleName, side, err)
	}
	return l, nil
}

// JoinPool signs user into the first open goalkeeper or outfield role of a
// pool lineup, side A first. A user already signed for the other kind of
// role moves.
func (s *Slots) JoinPool(ctx context.Context, contextID string, user models.UserRef, goalkeeper bool) (*models.Lineup, error) {
	l, err := Mutate(s.db.WithContext(ctx), contextID, func(l *models.Lineup) error {
		if !l.IsPool() {
			return models.ErrPermissionDenied
		}
		if l.IsDrafting {
			return models.ErrDraftInProgress
		}
		prev := l.RoleOf(user.ID)
		if prev != nil && prev.IsGoalkeeper == goalkeeper {
			return models.ErrAlreadyInLineup
		}
		for i := range l.Roles {
			r := &l.Roles[i]
			if r.IsOpen() && r.IsGoalkeeper == goalkeeper {
				if prev != nil {
					prev.Clear()
				}
				r.Assign(user)
				return nil
			}
		}
		return models.ErrRoleOccupied
	})
	if err != nil {
		return nil, fmt.Errorf("lineup: join pool %s: %w", contextID, err)
	}
	return l, nil
}

// SetAutoSearch toggles automatic queueing of a full team lineup.
func (s *Slots) SetAutoSearch(ctx context.Context, contextID string, on bool) (*models.Lineup, error) {
	l, err := Mutate(s.db.WithContext(ctx), contextID, func(l *models.Lineup) error {
		if l.IsPool() && on {
			return models.ErrPermissionDenied
		}
		l.AutoSearch = on
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("lineup: auto-search %s: %w", contextID, err)
	}
	return l, nil
}
