// Package bot turns chat commands and button clicks into matchmaking
// operations and renders the replies.
package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/zulandar/pitchside/internal/logging"
	"github.com/zulandar/pitchside/internal/matchmaking"
	"github.com/zulandar/pitchside/internal/models"
	"github.com/zulandar/pitchside/internal/stats"
	"github.com/zulandar/pitchside/internal/team"
	"github.com/zulandar/pitchside/internal/telegraph"
)

// maxListed caps the entries shown by the challenges command.
const maxListed = 10

var (
	errUnknownCommand = errors.New("unknown command")
	errBadOption      = errors.New("invalid option")
)

// Handler implements telegraph.Handler over a Coordinator.
type Handler struct {
	db     *gorm.DB
	coord  *matchmaking.Coordinator
	stats  *stats.Store
	log    *zap.Logger
	now    func() time.Time
	admins map[string]bool
}

// Opts holds parameters for creating a Handler.
type Opts struct {
	DB          *gorm.DB
	Coordinator *matchmaking.Coordinator
	Stats       *stats.Store
	Log         *zap.Logger
	Now         func() time.Time // defaults to time.Now
}

// New creates a Handler.
func New(opts Opts) (*Handler, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("bot: db is required")
	}
	if opts.Coordinator == nil {
		return nil, fmt.Errorf("bot: coordinator is required")
	}
	st := opts.Stats
	if st == nil {
		st = stats.NewStore(opts.DB)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	admins := make(map[string]bool)
	for _, c := range Commands() {
		if c.AdminOnly {
			admins[c.Name] = true
		}
	}
	return &Handler{
		db:     opts.DB,
		coord:  opts.Coordinator,
		stats:  st,
		log:    logging.OrNop(opts.Log),
		now:    now,
		admins: admins,
	}, nil
}

// Handle processes one event. Failures become an ephemeral explanation.
func (h *Handler) Handle(ctx context.Context, ev telegraph.Event) telegraph.Reply {
	var (
		reply telegraph.Reply
		err   error
	)
	switch ev.Kind {
	case telegraph.EventCommand:
		reply, err = h.command(ctx, ev)
	case telegraph.EventComponent:
		reply, err = h.component(ctx, ev)
	default:
		err = errUnknownCommand
	}
	if err != nil {
		return h.fail(ev, err)
	}
	return reply
}

func (h *Handler) fail(ev telegraph.Event, err error) telegraph.Reply {
	fields := []zap.Field{
		zap.String("platform", ev.Platform), zap.String("event", ev.Name),
		zap.String("context", ev.ContextID), zap.String("user", ev.User.ID), zap.Error(err),
	}
	text := models.Explain(err)
	switch {
	case errors.Is(err, errUnknownCommand):
		text = "Unknown command. Use /help to list commands."
		h.log.Debug("unknown event", fields...)
	case errors.Is(err, errBadOption):
		text = "One of the options has an invalid value."
		h.log.Debug("event rejected", fields...)
	case text == models.Explain(nil):
		h.log.Error("event failed", fields...)
	default:
		h.log.Debug("event rejected", fields...)
	}
	return ephemeral(telegraph.FormatText("%s", text))
}

func ephemeral(msg telegraph.Message) telegraph.Reply {
	return telegraph.Reply{Message: msg, Ephemeral: true}
}

func public(msg telegraph.Message) telegraph.Reply {
	return telegraph.Reply{Message: msg}
}

// screen rejects banned users and non-admins running admin commands.
func (h *Handler) screen(ev telegraph.Event, name string) error {
	if h.admins[name] && !ev.IsAdmin {
		return models.ErrPermissionDenied
	}
	if ev.IsAdmin || ev.GuildID == "" {
		return nil
	}
	return team.CheckBan(h.db, ev.GuildID, ev.User.ID, h.now())
}

func (h *Handler) command(ctx context.Context, ev telegraph.Event) (telegraph.Reply, error) {
	switch ev.Name {
	case CmdHelp:
		return ephemeral(telegraph.FormatText("%s", helpText(ev.IsAdmin))), nil
	case CmdLeaderboard:
		return h.cmdLeaderboard(ctx, ev)
	case CmdStatus:
		return h.cmdStatus(ctx, ev)
	}
	if err := h.screen(ev, ev.Name); err != nil {
		return telegraph.Reply{}, err
	}
	switch ev.Name {
	case CmdRegisterTeam:
		return h.cmdRegisterTeam(ctx, ev)
	case CmdDeleteTeam:
		if err := h.coord.DeleteTeam(ctx, ev.GuildID); err != nil {
			return telegraph.Reply{}, err
		}
		return public(telegraph.FormatText("The team of this server and all its lineups were deleted.")), nil
	case CmdSetupLineup:
		return h.cmdSetup(ctx, ev, models.KindTeam)
	case CmdSetupMix:
		return h.cmdSetup(ctx, ev, models.KindMix)
	case CmdSetupCaptains:
		return h.cmdSetup(ctx, ev, models.KindCaptains)
	case CmdDeleteLineup:
		if err := h.coord.DeleteLineup(ctx, ev.ContextID); err != nil {
			return telegraph.Reply{}, err
		}
		return public(telegraph.FormatText("The lineup of this channel was deleted.")), nil
	case CmdSearch:
		return h.startSearch(ctx, ev)
	case CmdStopSearch:
		return h.stopSearch(ctx, ev)
	case CmdAutoSearch:
		on, err := boolOption(ev, "enabled", false)
		if err != nil {
			return telegraph.Reply{}, err
		}
		return outcomeReply(h.coord.SetAutoSearch(ctx, ev.ContextID, on))
	case CmdChallenges:
		return h.cmdChallenges(ctx, ev)
	case CmdLeave:
		return outcomeReply(h.coord.Release(ctx, ev.ContextID, ev.User))
	case CmdSignGuest:
		return h.cmdSignGuest(ctx, ev)
	case CmdClearRole:
		side, err := sideOption(ev)
		if err != nil {
			return telegraph.Reply{}, err
		}
		return outcomeReply(h.coord.ClearRole(ctx, ev.ContextID, ev.Option("role"), side))
	case CmdBan:
		return h.cmdBan(ev)
	case CmdUnban:
		user := ev.Option("user")
		if err := team.Unban(h.db.WithContext(ctx), ev.GuildID, user); err != nil {
			return telegraph.Reply{}, err
		}
		return ephemeral(telegraph.FormatText("<@%s> is no longer banned.", user)), nil
	default:
		return telegraph.Reply{}, errUnknownCommand
	}
}

func (h *Handler) component(ctx context.Context, ev telegraph.Event) (telegraph.Reply, error) {
	action, arg := telegraph.ParseCustomID(ev.Name)
	if action == "" {
		return telegraph.Reply{}, errUnknownCommand
	}
	if err := h.screen(ev, action); err != nil {
		return telegraph.Reply{}, err
	}
	switch action {
	case telegraph.ActionRole:
		name, side, err := telegraph.ParseRoleArg(arg)
		if err != nil {
			return telegraph.Reply{}, fmt.Errorf("bot: %v: %w", err, models.ErrRoleNotFound)
		}
		return outcomeReply(h.coord.Claim(ctx, ev.ContextID, name, side, ev.User))
	case telegraph.ActionJoinGK, telegraph.ActionJoinOutfield:
		return outcomeReply(h.coord.JoinPool(ctx, ev.ContextID, ev.User, action == telegraph.ActionJoinGK))
	case telegraph.ActionLeave:
		return outcomeReply(h.coord.Release(ctx, ev.ContextID, ev.User))
	case telegraph.ActionStartSearch:
		return h.startSearch(ctx, ev)
	case telegraph.ActionStopSearch:
		return h.stopSearch(ctx, ev)
	case telegraph.ActionChallenge:
		out, err := h.coord.Propose(ctx, ev.ContextID, arg, ev.User)
		if err != nil {
			return telegraph.Reply{}, err
		}
		if out.Match != nil {
			return ephemeral(telegraph.FormatText("Match found: %s", out.Match.LobbyName)), nil
		}
		return ephemeral(telegraph.FormatText("Challenge sent.")), nil
	case telegraph.ActionAccept:
		m, err := h.coord.Accept(ctx, arg, ev.ContextID, ev.User)
		if err != nil {
			return telegraph.Reply{}, err
		}
		return ephemeral(telegraph.FormatText("Challenge accepted: %s", m.LobbyName)), nil
	case telegraph.ActionRefuse:
		if err := h.coord.Refuse(ctx, arg, ev.ContextID, ev.User); err != nil {
			return telegraph.Reply{}, err
		}
		return ephemeral(telegraph.FormatText("Challenge refused.")), nil
	case telegraph.ActionCancel:
		if err := h.coord.Cancel(ctx, arg, ev.User, ev.IsAdmin); err != nil {
			return telegraph.Reply{}, err
		}
		return ephemeral(telegraph.FormatText("Challenge cancelled.")), nil
	case telegraph.ActionPick:
		res, err := h.coord.Pick(ctx, ev.ContextID, ev.User.ID, arg)
		if err != nil {
			return telegraph.Reply{}, err
		}
		if res.Match != nil {
			return ephemeral(telegraph.FormatText("Draft complete.")), nil
		}
		return ephemeral(telegraph.FormatText("Pick registered.")), nil
	default:
		return telegraph.Reply{}, errUnknownCommand
	}
}

func outcomeReply(out *matchmaking.Outcome, err error) (telegraph.Reply, error) {
	if err != nil {
		return telegraph.Reply{}, err
	}
	return public(telegraph.FormatLineup(out.Lineup, out.Queued)), nil
}

func (h *Handler) cmdStatus(ctx context.Context, ev telegraph.Event) (telegraph.Reply, error) {
	l, queued, err := h.coord.Lineup(ctx, ev.ContextID)
	if err != nil {
		return telegraph.Reply{}, err
	}
	return public(telegraph.FormatLineup(l, queued)), nil
}

func (h *Handler) cmdRegisterTeam(ctx context.Context, ev telegraph.Event) (telegraph.Reply, error) {
	region := strings.ToLower(ev.Option("region"))
	if !team.ValidRegion(region) {
		return ephemeral(telegraph.FormatText("Unknown region %q. Choose one of: %s.",
			ev.Option("region"), strings.Join(team.Regions, ", "))), nil
	}
	name := strings.TrimSpace(ev.Option("name"))
	if name == "" {
		return ephemeral(telegraph.FormatText("A team name is required.")), nil
	}
	t, err := h.coord.RegisterTeam(ctx, ev.GuildID, name, region)
	if err != nil {
		return telegraph.Reply{}, err
	}
	h.log.Info("team registered", zap.String("guild", ev.GuildID), zap.String("name", t.Name), zap.String("region", t.Region))
	return public(telegraph.FormatText("Team %s registered in %s.", t.Name, strings.ToUpper(t.Region))), nil
}

func (h *Handler) cmdSetup(ctx context.Context, ev telegraph.Event, kind string) (telegraph.Reply, error) {
	size, err := intOption(ev, "size", 0)
	if err != nil {
		return telegraph.Reply{}, fmt.Errorf("bot: size: %w", models.ErrInvalidSize)
	}
	auto, err := boolOption(ev, "auto_search", false)
	if err != nil {
		return telegraph.Reply{}, err
	}
	visibility := ev.Option("visibility")
	if visibility == "" {
		visibility = models.VisibilityPublic
	}
	l, err := h.coord.Setup(ctx, matchmaking.SetupRequest{
		ContextID:  ev.ContextID,
		GuildID:    ev.GuildID,
		Name:       ev.Option("name"),
		Size:       size,
		Kind:       kind,
		Visibility: visibility,
		AutoSearch: auto,
	})
	if err != nil {
		return telegraph.Reply{}, err
	}
	return public(telegraph.FormatLineup(l, false)), nil
}

func (h *Handler) startSearch(ctx context.Context, ev telegraph.Event) (telegraph.Reply, error) {
	if _, err := h.coord.StartSearch(ctx, ev.ContextID); err != nil {
		return telegraph.Reply{}, err
	}
	return h.cmdStatus(ctx, ev)
}

func (h *Handler) stopSearch(ctx context.Context, ev telegraph.Event) (telegraph.Reply, error) {
	if err := h.coord.StopSearch(ctx, ev.ContextID); err != nil {
		return telegraph.Reply{}, err
	}
	return h.cmdStatus(ctx, ev)
}

func (h *Handler) cmdChallenges(ctx context.Context, ev telegraph.Event) (telegraph.Reply, error) {
	entries, err := h.coord.Discover(ctx, ev.ContextID)
	if err != nil {
		return telegraph.Reply{}, err
	}
	if len(entries) == 0 {
		return ephemeral(telegraph.FormatText("No team is searching right now.")), nil
	}
	if len(entries) > maxListed {
		entries = entries[:maxListed]
	}
	var msg telegraph.Message
	for _, e := range entries {
		name := ""
		if t, err := team.Get(h.db.WithContext(ctx), e.GuildID); err == nil {
			name = t.Name
		}
		card := telegraph.FormatSearch(e, name)
		if name == "" {
			name = e.Snapshot.Name
		}
		msg.Embeds = append(msg.Embeds, card.Embeds...)
		for _, b := range card.Buttons {
			b.Label = "Challenge " + name
			msg.Buttons = append(msg.Buttons, b)
		}
	}
	return ephemeral(msg), nil
}

func (h *Handler) cmdSignGuest(ctx context.Context, ev telegraph.Event) (telegraph.Reply, error) {
	side, err := sideOption(ev)
	if err != nil {
		return telegraph.Reply{}, err
	}
	user := models.UserRef{ID: models.GuestUserID, Name: ev.Option("name")}
	if id := ev.Option("user"); id != "" {
		user = models.UserRef{ID: id, Name: ev.Option("user_name")}
		if user.Name == "" {
			user.Name = id
		}
	}
	if user.Name == "" {
		user.Name = "Guest"
	}
	return outcomeReply(h.coord.SignGuest(ctx, ev.ContextID, ev.Option("role"), side, user, ev.GuildID))
}

func (h *Handler) cmdBan(ev telegraph.Event) (telegraph.Reply, error) {
	user := ev.Option("user")
	hours, err := intOption(ev, "hours", 0)
	if err != nil || hours < 0 {
		return ephemeral(telegraph.FormatText("Hours must be a positive number.")), nil
	}
	var until *time.Time
	if hours > 0 {
		t := h.now().Add(time.Duration(hours) * time.Hour)
		until = &t
	}
	if err := team.Ban(h.db, ev.GuildID, user, ev.Option("reason"), until); err != nil {
		return telegraph.Reply{}, err
	}
	h.log.Info("user banned", zap.String("guild", ev.GuildID), zap.String("user", user), zap.Int("hours", hours))
	if until == nil {
		return ephemeral(telegraph.FormatText("<@%s> is banned.", user)), nil
	}
	return ephemeral(telegraph.FormatText("<@%s> is banned until %s.", user, until.UTC().Format(time.RFC1123))), nil
}

func (h *Handler) cmdLeaderboard(ctx context.Context, ev telegraph.Event) (telegraph.Reply, error) {
	page, err := intOption(ev, "page", 1)
	if err != nil || page < 1 {
		page = 1
	}
	f := stats.Filter{Region: strings.ToLower(ev.Option("region"))}
	if size, err := intOption(ev, "size", 0); err == nil && size > 0 {
		f.Sizes = []int{size}
	}
	if server, _ := boolOption(ev, "server", false); server {
		f.GuildID = ev.GuildID
	}
	pages, err := h.stats.Pages(ctx, f, stats.DefaultPageSize)
	if err != nil {
		return telegraph.Reply{}, err
	}
	if pages == 0 {
		return ephemeral(telegraph.FormatText("Nobody has played yet.")), nil
	}
	if page > pages {
		page = pages
	}
	rows, err := h.stats.Leaderboard(ctx, f, page-1, stats.DefaultPageSize)
	if err != nil {
		return telegraph.Reply{}, err
	}
	return public(formatLeaderboard(rows, page, pages)), nil
}

func formatLeaderboard(rows []stats.Ranked, page, pages int) telegraph.Message {
	offset := (page - 1) * stats.DefaultPageSize
	lines := make([]string, len(rows))
	for i, r := range rows {
		lines[i] = fmt.Sprintf("%d. <@%s> (%d games)", offset+i+1, r.UserID, r.Games)
	}
	return telegraph.Message{Embeds: []telegraph.Embed{{
		Title: "Leaderboard",
		Body:  strings.Join(lines, "\n"),
		Color: telegraph.ColorInfo,
		Fields: []telegraph.Field{
			{Name: "Page", Value: fmt.Sprintf("%d/%d", page, pages)},
		},
	}}}
}

func helpText(admin bool) string {
	specs := Commands()
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	var b strings.Builder
	b.WriteString("**Commands**\n")
	for _, s := range specs {
		if s.AdminOnly && !admin {
			continue
		}
		fmt.Fprintf(&b, "`/%s` %s\n", s.Name, s.Description)
	}
	return strings.TrimSpace(b.String())
}

func intOption(ev telegraph.Event, name string, def int) (int, error) {
	v := strings.TrimSpace(ev.Option(name))
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func boolOption(ev telegraph.Event, name string, def bool) (bool, error) {
	v := strings.TrimSpace(strings.ToLower(ev.Option(name)))
	switch v {
	case "":
		return def, nil
	case "on", "yes":
		return true, nil
	case "off", "no":
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("bot: option %s: %q: %w", name, v, errBadOption)
	}
	return b, nil
}

func sideOption(ev telegraph.Event) (int, error) {
	side, err := intOption(ev, "side", models.SideA)
	if err != nil || (side != models.SideA && side != models.SideB) {
		return 0, fmt.Errorf("bot: side %q: %w", ev.Option("side"), models.ErrRoleNotFound)
	}
	return side, nil
}
