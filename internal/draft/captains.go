package draft

import (
	"context"
	"math/rand"
	"sync"

	"github.com/zulandar/pitchside/internal/models"
)

// relevantPool is how many of the most experienced players are considered
// for captaincy.
const relevantPool = 4

// Ranker orders users by games played.
type Ranker interface {
	TopUserIDs(ctx context.Context, userIDs []string, limit int) ([]string, error)
}

// Picker chooses two captains among the signed users.
type Picker struct {
	ranker Ranker

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewPicker creates a Picker. A nil ranker always falls back to random
// captains.
func NewPicker(ranker Ranker, seed int64) *Picker {
	return &Picker{ranker: ranker, rnd: rand.New(rand.NewSource(seed))}
}

// Choose returns two distinct captains. Up to four of the most experienced
// registered users are candidates and two are sampled at random; with fewer
// than two candidates both captains are drawn from every registered user.
// Guests never captain, so fewer than two registered users is
// models.ErrNotEligible.
func (p *Picker) Choose(ctx context.Context, signed []models.UserRef) (models.UserRef, models.UserRef, error) {
	byID := make(map[string]models.UserRef, len(signed))
	var ids []string
	for _, u := range signed {
		if u.IsGuest() {
			continue
		}
		if _, dup := byID[u.ID]; !dup {
			byID[u.ID] = u
			ids = append(ids, u.ID)
		}
	}

	var candidates []models.UserRef
	if p.ranker != nil && len(ids) > 0 {
		top, err := p.ranker.TopUserIDs(ctx, ids, relevantPool)
		if err != nil {
			return models.UserRef{}, models.UserRef{}, err
		}
		for _, id := range top {
			if u, ok := byID[id]; ok {
				candidates = append(candidates, u)
			}
		}
	}
	if len(candidates) < 2 {
		candidates = eligibleCaptains(signed)
	}
	if len(candidates) < 2 {
		return models.UserRef{}, models.UserRef{}, models.ErrNotEligible
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.rnd.Intn(len(candidates))
	j := p.rnd.Intn(len(candidates) - 1)
	if j >= i {
		j++
	}
	return candidates[i], candidates[j], nil
}

// eligibleCaptains is every distinct registered user.
func eligibleCaptains(signed []models.UserRef) []models.UserRef {
	seen := make(map[string]bool, len(signed))
	var out []models.UserRef
	for _, u := range signed {
		if u.IsGuest() || seen[u.ID] {
			continue
		}
		seen[u.ID] = true
		out = append(out, u)
	}
	return out
}
