// Package match turns a resolved challenge or a finished draft into a
// playable match: lineups are cleared, statistics recorded and a lobby
// announced.
package match

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/zulandar/pitchside/internal/guard"
	"github.com/zulandar/pitchside/internal/lineup"
	"github.com/zulandar/pitchside/internal/logging"
	"github.com/zulandar/pitchside/internal/models"
	"github.com/zulandar/pitchside/internal/queue"
	"github.com/zulandar/pitchside/internal/stats"
	"github.com/zulandar/pitchside/internal/team"
	"github.com/zulandar/pitchside/internal/telegraph"
)

// Match is a game ready to be played.
type Match struct {
	LobbyName string           `json:"lobby_name"`
	Password  string           `json:"password"`
	Size      int              `json:"size"`
	SideA     []models.UserRef `json:"side_a"`
	SideB     []models.UserRef `json:"side_b"`
	Host      models.UserRef   `json:"host"`
	Contexts  []string         `json:"contexts"`
}

// Finalizer converges both match paths.
type Finalizer struct {
	db       *gorm.DB
	notifier telegraph.Notifier
	registry *queue.Registry
	log      *zap.Logger
	password func() string
}

// FinalizerOpts holds parameters for creating a Finalizer.
type FinalizerOpts struct {
	DB       *gorm.DB
	Notifier telegraph.Notifier
	Registry *queue.Registry
	Log      *zap.Logger
	Password func() string // defaults to Password
}

// NewFinalizer creates a Finalizer.
func NewFinalizer(opts FinalizerOpts) (*Finalizer, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("match: db is required")
	}
	if opts.Notifier == nil {
		return nil, fmt.Errorf("match: notifier is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("match: registry is required")
	}
	pw := opts.Password
	if pw == nil {
		pw = Password
	}
	return &Finalizer{
		db:       opts.DB,
		notifier: opts.Notifier,
		registry: opts.Registry,
		log:      logging.OrNop(opts.Log),
		password: pw,
	}, nil
}

const maxAttempts = 3

const passwordAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// Password returns a random 4-character lobby password.
func Password() string {
	b := make([]byte, 4)
	for i := range b {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(passwordAlphabet))))
		if err != nil {
			panic(fmt.Sprintf("match: crypto/rand: %v", err))
		}
		b[i] = passwordAlphabet[n.Int64()]
	}
	return string(b)
}

// FinalizeChallenge consumes a challenge: the challenge and both queue
// entries are removed, both lineups cleared and every registered player
// credited with a game. A mix target keeps its entry and promotes its
// second side. Exactly one caller can finalize a given challenge; the
// others get models.ErrChallengeExpired.
func (f *Finalizer) FinalizeChallenge(ctx context.Context, challengeID string) (*Match, error) {
	var (
		out *consumed
		err error
	)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = f.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var cerr error
			out, cerr = f.consume(tx, challengeID)
			return cerr
		})
		if !lineup.IsConflict(err) {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("match: finalize challenge %s: %w", challengeID, err)
	}

	for _, e := range out.entries {
		f.registry.DeleteNotifications(ctx, e.Notifications)
	}
	f.stripButtons(ctx, out.challenge.InitiatingMessage, out.challenge.ChallengedMessage)
	f.announce(ctx, out.match)
	f.log.Info("match ready", zap.String("challenge", challengeID), zap.String("lobby", out.match.LobbyName))
	return out.match, nil
}

// consumed is what one successful FinalizeChallenge transaction removed.
type consumed struct {
	challenge models.Challenge
	entries   []models.QueueEntry
	match     *Match
}

func (f *Finalizer) consume(tx *gorm.DB, challengeID string) (*consumed, error) {
	out := &consumed{}
	ch := &out.challenge
	if err := tx.Where("id = ?", challengeID).Take(ch).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrChallengeExpired
		}
		return nil, err
	}
	res := tx.Where("id = ?", challengeID).Delete(&models.Challenge{})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, models.ErrChallengeExpired
	}
	if err := queue.ReleaseChallenge(tx, challengeID); err != nil {
		return nil, err
	}

	home, err := lineup.Get(tx, ch.InitiatingContextID)
	if err != nil {
		return nil, err
	}
	away, err := lineup.Get(tx, ch.ChallengedContextID)
	if err != nil {
		return nil, err
	}
	sideA := home.Users(models.SideA)
	sideB := away.Users(models.SideA)
	if err := guard.Check(sideA, sideB); err != nil {
		return nil, err
	}

	if err := out.retire(tx, home.ContextID); err != nil {
		return nil, err
	}
	if _, err := lineup.MutateTx(tx, home.ContextID, clearAll); err != nil {
		return nil, err
	}
	if away.Kind == models.KindMix {
		if _, err := lineup.MutateTx(tx, away.ContextID, promoteSecondSide); err != nil {
			return nil, err
		}
	} else {
		if err := out.retire(tx, away.ContextID); err != nil {
			return nil, err
		}
		if _, err := lineup.MutateTx(tx, away.ContextID, clearAll); err != nil {
			return nil, err
		}
	}

	if err := recordSide(tx, home.GuildID, home.Size, sideA); err != nil {
		return nil, err
	}
	if err := recordSide(tx, away.GuildID, away.Size, sideB); err != nil {
		return nil, err
	}

	out.match = &Match{
		LobbyName: fmt.Sprintf("%s vs. %s", teamName(tx, home), teamName(tx, away)),
		Password:  f.password(),
		Size:      home.Size,
		SideA:     sideA,
		SideB:     sideB,
		Host:      models.UserRef{ID: ch.InitiatingUserID, Name: ch.InitiatingUserName},
		Contexts:  []string{home.ContextID, away.ContextID},
	}
	return out, nil
}

func (c *consumed) retire(tx *gorm.DB, contextID string) error {
	e, err := queue.Remove(tx, contextID)
	if err != nil {
		return err
	}
	if e != nil {
		c.entries = append(c.entries, *e)
	}
	return nil
}

func clearAll(l *models.Lineup) error {
	l.ClearAll()
	return nil
}

// FinalizeDraft turns the two drafted sides of a pool lineup into a match
// and regenerates the pool empty.
func (f *Finalizer) FinalizeDraft(ctx context.Context, contextID string, sideA, sideB []models.UserRef, host models.UserRef) (*Match, error) {
	var m *Match
	err := f.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := guard.Check(sideA, sideB); err != nil {
			return err
		}
		l, err := lineup.MutateTx(tx, contextID, func(l *models.Lineup) error {
			l.IsDrafting = false
			return clearAll(l)
		})
		if err != nil {
			return err
		}
		all := append(append([]models.UserRef(nil), sideA...), sideB...)
		if err := recordSide(tx, l.GuildID, l.Size, all); err != nil {
			return err
		}
		m = &Match{
			LobbyName: lobbyBase(l),
			Password:  f.password(),
			Size:      l.Size,
			SideA:     sideA,
			SideB:     sideB,
			Host:      host,
			Contexts:  []string{contextID},
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("match: finalize draft %s: %w", contextID, err)
	}
	f.announce(ctx, m)
	f.log.Info("match ready", zap.String("context", contextID), zap.String("lobby", m.LobbyName))
	return m, nil
}

// promoteSecondSide moves the waiting second side of a mix into the first
// and empties the second.
func promoteSecondSide(l *models.Lineup) error {
	for i := range l.Roles {
		r := &l.Roles[i]
		if r.Side != models.SideA {
			continue
		}
		r.Clear()
		if waiting := l.FindRole(r.Name, models.SideB); waiting != nil && !waiting.IsOpen() {
			r.Assign(*waiting.Occupant())
			waiting.Clear()
		}
	}
	return nil
}

func recordSide(tx *gorm.DB, guildID string, size int, users []models.UserRef) error {
	region, err := team.Region(tx, guildID)
	if err != nil {
		return err
	}
	return stats.Record(tx, region, guildID, size, users)
}

func teamName(tx *gorm.DB, l *models.Lineup) string {
	if l.Kind == models.KindTeam {
		if t, err := team.Get(tx, l.GuildID); err == nil {
			return t.Name
		}
	}
	return lobbyBase(l)
}

func lobbyBase(l *models.Lineup) string {
	if l.Name != "" {
		return l.Name
	}
	return "Mix"
}

func (f *Finalizer) stripButtons(ctx context.Context, refs ...models.MessageRef) {
	for _, ref := range refs {
		if ref.MessageID == "" {
			continue
		}
		if err := f.notifier.EditComponents(ctx, ref, nil); err != nil {
			f.log.Warn("strip buttons", zap.String("message", ref.MessageID), zap.Error(err))
		}
	}
}

func (f *Finalizer) announce(ctx context.Context, m *Match) {
	msg := telegraph.FormatMatchReady(m.LobbyName, m.Password, m.SideA, m.SideB, m.Host)
	for _, c := range m.Contexts {
		if _, err := f.notifier.Notify(ctx, c, msg); err != nil {
			f.log.Warn("announce match", zap.String("context", c), zap.Error(err))
		}
	}
}
