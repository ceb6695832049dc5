// Package discord implements the telegraph Adapter for Discord using the
// Gateway WebSocket and application command interactions.
package discord

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/zulandar/pitchside/internal/logging"
	"github.com/zulandar/pitchside/internal/models"
	"github.com/zulandar/pitchside/internal/telegraph"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff duration for rate-limit retries.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff.
	maxBackoff = 2 * time.Minute
	// Discord allows five buttons per row and five rows per message.
	buttonsPerRow = 5
	maxRows       = 5
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	Open() error
	Close() error
	AddHandler(handler interface{}) func()
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	ApplicationCommandBulkOverwrite(appID, guildID string, commands []*discordgo.ApplicationCommand, options ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error)
}

// Adapter implements telegraph.Adapter for Discord.
type Adapter struct {
	sess          session
	botToken      string
	guildID       string // registers commands on one guild instead of globally
	appID         string
	log           *zap.Logger
	mu            sync.Mutex
	connected     bool
	closed        bool
	inbound       chan telegraph.Event
	removeHandler func()
	baseBackoff   time.Duration
	maxBackoff    time.Duration
}

// AdapterOpts holds parameters for creating a Discord Adapter.
type AdapterOpts struct {
	BotToken string // Discord bot token
	AppID    string // application id; learned from the Ready event when empty
	GuildID  string // optional guild for command registration
	Log      *zap.Logger
	// For testing: inject a mock session instead of real Discord API.
	Session session
}

// New creates a Discord Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	return &Adapter{
		sess:        opts.Session,
		botToken:    opts.BotToken,
		guildID:     opts.GuildID,
		appID:       opts.AppID,
		log:         logging.OrNop(opts.Log).Named("discord"),
		inbound:     make(chan telegraph.Event, 100),
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
	}, nil
}

// Connect establishes the Discord Gateway WebSocket connection.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("discord: adapter already closed")
	}
	if a.connected {
		return nil
	}

	if a.sess == nil {
		dg, err := discordgo.New("Bot " + a.botToken)
		if err != nil {
			return fmt.Errorf("discord: create session: %w", err)
		}
		dg.Identify.Intents = discordgo.IntentsGuilds
		a.sess = dg
	}

	a.sess.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		a.onReady(r)
	})
	a.sess.AddHandler(func(_ *discordgo.Session, _ *discordgo.Disconnect) {
		a.log.Warn("gateway disconnected, discordgo will auto-reconnect")
	})

	if err := a.sess.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}
	a.connected = true
	return nil
}

func (a *Adapter) onReady(r *discordgo.Ready) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.appID == "" {
		switch {
		case r.Application != nil && r.Application.ID != "":
			a.appID = r.Application.ID
		case r.User != nil:
			a.appID = r.User.ID
		}
	}
	if r.User != nil {
		a.log.Info("connected", zap.String("user", r.User.Username), zap.String("id", r.User.ID))
	}
}

// Listen returns the channel of inbound interactions. Must be called after
// Connect.
func (a *Adapter) Listen(ctx context.Context) (<-chan telegraph.Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil, fmt.Errorf("discord: not connected")
	}
	a.removeHandler = a.sess.AddHandler(func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
		a.handleInteraction(ctx, i)
	})
	return a.inbound, nil
}

// handleInteraction converts an interaction into an Event.
func (a *Adapter) handleInteraction(ctx context.Context, i *discordgo.InteractionCreate) {
	ev, ok := toEvent(i.Interaction)
	if !ok {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	select {
	case a.inbound <- ev:
	case <-ctx.Done():
	default:
		a.log.Warn("inbound queue full, dropping interaction", zap.String("event", ev.Name))
	}
}

// toEvent normalizes slash commands and button clicks. Other interaction
// types are ignored.
func toEvent(i *discordgo.Interaction) (telegraph.Event, bool) {
	if i == nil {
		return telegraph.Event{}, false
	}
	ev := telegraph.Event{
		Platform:  "discord",
		ContextID: i.ChannelID,
		GuildID:   i.GuildID,
		Handle:    i,
	}
	if ts, err := discordgo.SnowflakeTimestamp(i.ID); err == nil {
		ev.Timestamp = ts
	}
	var user *discordgo.User
	if i.Member != nil {
		user = i.Member.User
		ev.IsAdmin = i.Member.Permissions&discordgo.PermissionAdministrator != 0 ||
			i.Member.Permissions&discordgo.PermissionManageServer != 0
	} else {
		user = i.User
	}
	if user == nil {
		return telegraph.Event{}, false
	}
	ev.User = models.UserRef{ID: user.ID, Name: displayName(user)}

	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		data := i.ApplicationCommandData()
		ev.Kind = telegraph.EventCommand
		ev.Name = data.Name
		ev.Options = make(map[string]string, len(data.Options))
		for _, o := range data.Options {
			ev.Options[o.Name] = optionValue(o)
			if o.Type == discordgo.ApplicationCommandOptionUser && data.Resolved != nil {
				if u, ok := data.Resolved.Users[ev.Options[o.Name]]; ok {
					ev.Options[o.Name+"_name"] = displayName(u)
				}
			}
		}
	case discordgo.InteractionMessageComponent:
		ev.Kind = telegraph.EventComponent
		ev.Name = i.MessageComponentData().CustomID
	default:
		return telegraph.Event{}, false
	}
	return ev, true
}

func displayName(u *discordgo.User) string {
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

func optionValue(o *discordgo.ApplicationCommandInteractionDataOption) string {
	switch o.Type {
	case discordgo.ApplicationCommandOptionInteger:
		return strconv.FormatInt(o.IntValue(), 10)
	case discordgo.ApplicationCommandOptionBoolean:
		return strconv.FormatBool(o.BoolValue())
	case discordgo.ApplicationCommandOptionUser:
		return o.UserValue(nil).ID
	case discordgo.ApplicationCommandOptionString:
		return o.StringValue()
	default:
		return fmt.Sprint(o.Value)
	}
}

// Notify posts msg into a channel.
func (a *Adapter) Notify(ctx context.Context, contextID string, msg telegraph.Message) (models.MessageRef, error) {
	if err := a.ready(); err != nil {
		return models.MessageRef{}, err
	}
	data := buildMessageSend(msg)
	var sent *discordgo.Message
	err := a.retryOnRateLimit(ctx, func() error {
		var apiErr error
		sent, apiErr = a.sess.ChannelMessageSendComplex(contextID, data)
		return apiErr
	})
	if err != nil {
		return models.MessageRef{}, fmt.Errorf("discord: send message: %w", err)
	}
	return models.MessageRef{ContextID: contextID, MessageID: sent.ID}, nil
}

// EditComponents replaces the buttons of a posted message.
func (a *Adapter) EditComponents(ctx context.Context, ref models.MessageRef, buttons []telegraph.Button) error {
	if err := a.ready(); err != nil {
		return err
	}
	components := buildComponents(buttons)
	if components == nil {
		components = []discordgo.MessageComponent{}
	}
	edit := &discordgo.MessageEdit{ID: ref.MessageID, Channel: ref.ContextID, Components: &components}
	err := a.retryOnRateLimit(ctx, func() error {
		_, apiErr := a.sess.ChannelMessageEditComplex(edit)
		return apiErr
	})
	if err != nil {
		return fmt.Errorf("discord: edit message: %w", err)
	}
	return nil
}

// Delete removes a posted message. A message that is already gone is not
// an error.
func (a *Adapter) Delete(ctx context.Context, ref models.MessageRef) error {
	if err := a.ready(); err != nil {
		return err
	}
	err := a.retryOnRateLimit(ctx, func() error {
		return a.sess.ChannelMessageDelete(ref.ContextID, ref.MessageID)
	})
	if isStatus(err, http.StatusNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("discord: delete message: %w", err)
	}
	return nil
}

// Respond answers an interaction. A public answer to a button click
// updates the clicked message in place.
func (a *Adapter) Respond(ctx context.Context, ev telegraph.Event, reply telegraph.Reply) error {
	if err := a.ready(); err != nil {
		return err
	}
	i, ok := ev.Handle.(*discordgo.Interaction)
	if !ok || i == nil {
		return fmt.Errorf("discord: event has no interaction")
	}
	resp := &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: buildResponseData(reply),
	}
	if ev.Kind == telegraph.EventComponent && !reply.Ephemeral {
		resp.Type = discordgo.InteractionResponseUpdateMessage
	}
	err := a.retryOnRateLimit(ctx, func() error {
		return a.sess.InteractionRespond(i, resp)
	})
	if err != nil {
		return fmt.Errorf("discord: respond: %w", err)
	}
	return nil
}

// RegisterCommands overwrites the application commands with specs.
func (a *Adapter) RegisterCommands(ctx context.Context, specs []telegraph.CommandSpec) error {
	if err := a.ready(); err != nil {
		return err
	}
	a.mu.Lock()
	appID, guildID := a.appID, a.guildID
	a.mu.Unlock()
	if appID == "" {
		return fmt.Errorf("discord: application id unknown")
	}
	cmds := buildCommands(specs)
	err := a.retryOnRateLimit(ctx, func() error {
		_, apiErr := a.sess.ApplicationCommandBulkOverwrite(appID, guildID, cmds)
		return apiErr
	})
	if err != nil {
		return fmt.Errorf("discord: register commands: %w", err)
	}
	a.log.Info("commands registered", zap.Int("count", len(cmds)), zap.String("guild", guildID))
	return nil
}

// Close gracefully shuts down the adapter connection.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.connected = false
	if a.removeHandler != nil {
		a.removeHandler()
	}
	close(a.inbound)
	if a.sess != nil {
		return a.sess.Close()
	}
	return nil
}

func (a *Adapter) ready() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return fmt.Errorf("discord: not connected")
	}
	return nil
}

// buildMessageSend translates a Message into a Discord MessageSend.
func buildMessageSend(msg telegraph.Message) *discordgo.MessageSend {
	return &discordgo.MessageSend{
		Content:    msg.Text,
		Embeds:     buildEmbeds(msg.Embeds),
		Components: buildComponents(msg.Buttons),
	}
}

func buildResponseData(reply telegraph.Reply) *discordgo.InteractionResponseData {
	data := &discordgo.InteractionResponseData{
		Content:    reply.Text,
		Embeds:     buildEmbeds(reply.Embeds),
		Components: buildComponents(reply.Buttons),
	}
	if data.Components == nil {
		data.Components = []discordgo.MessageComponent{}
	}
	if reply.Ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	return data
}

func buildEmbeds(embeds []telegraph.Embed) []*discordgo.MessageEmbed {
	var out []*discordgo.MessageEmbed
	for _, e := range embeds {
		out = append(out, toEmbed(e))
	}
	return out
}

// toEmbed converts an Embed to a Discord embed.
func toEmbed(e telegraph.Embed) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       e.Title,
		Description: e.Body,
	}
	if e.Color != "" {
		embed.Color = parseHexColor(e.Color)
	}
	for _, f := range e.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: f.Short,
		})
	}
	return embed
}

// buildComponents lays buttons out in action rows. Buttons beyond the
// platform limit are dropped.
func buildComponents(buttons []telegraph.Button) []discordgo.MessageComponent {
	if len(buttons) > buttonsPerRow*maxRows {
		buttons = buttons[:buttonsPerRow*maxRows]
	}
	var rows []discordgo.MessageComponent
	for start := 0; start < len(buttons); start += buttonsPerRow {
		end := min(start+buttonsPerRow, len(buttons))
		row := discordgo.ActionsRow{}
		for _, b := range buttons[start:end] {
			row.Components = append(row.Components, discordgo.Button{
				Label:    b.Label,
				Style:    buttonStyle(b.Style),
				CustomID: b.CustomID,
				Disabled: b.Disabled,
			})
		}
		rows = append(rows, row)
	}
	return rows
}

func buttonStyle(s telegraph.ButtonStyle) discordgo.ButtonStyle {
	switch s {
	case telegraph.StyleSecondary:
		return discordgo.SecondaryButton
	case telegraph.StyleSuccess:
		return discordgo.SuccessButton
	case telegraph.StyleDanger:
		return discordgo.DangerButton
	default:
		return discordgo.PrimaryButton
	}
}

var adminPermissions = int64(discordgo.PermissionManageServer)

// buildCommands converts specs into application commands. Admin-only
// commands are hidden from members without Manage Server.
func buildCommands(specs []telegraph.CommandSpec) []*discordgo.ApplicationCommand {
	out := make([]*discordgo.ApplicationCommand, 0, len(specs))
	for _, s := range specs {
		cmd := &discordgo.ApplicationCommand{Name: s.Name, Description: s.Description}
		if s.AdminOnly {
			cmd.DefaultMemberPermissions = &adminPermissions
		}
		for _, o := range s.Options {
			opt := &discordgo.ApplicationCommandOption{
				Type:        optionType(o.Kind),
				Name:        o.Name,
				Description: o.Description,
				Required:    o.Required,
			}
			for _, c := range o.Choices {
				var value interface{} = c
				if o.Kind == telegraph.OptionInteger {
					if n, err := strconv.Atoi(c); err == nil {
						value = n
					}
				}
				opt.Choices = append(opt.Choices, &discordgo.ApplicationCommandOptionChoice{Name: c, Value: value})
			}
			cmd.Options = append(cmd.Options, opt)
		}
		out = append(out, cmd)
	}
	return out
}

func optionType(k telegraph.OptionKind) discordgo.ApplicationCommandOptionType {
	switch k {
	case telegraph.OptionInteger:
		return discordgo.ApplicationCommandOptionInteger
	case telegraph.OptionBoolean:
		return discordgo.ApplicationCommandOptionBoolean
	case telegraph.OptionUser:
		return discordgo.ApplicationCommandOptionUser
	default:
		return discordgo.ApplicationCommandOptionString
	}
}

// parseHexColor converts a hex color string (e.g. "#36a64f") to an int.
func parseHexColor(hex string) int {
	if len(hex) > 0 && hex[0] == '#' {
		hex = hex[1:]
	}
	n, err := strconv.ParseInt(hex, 16, 32)
	if err != nil {
		return 0
	}
	return int(n)
}

func isStatus(err error, code int) bool {
	var restErr *discordgo.RESTError
	return errors.As(err, &restErr) && restErr.Response != nil && restErr.Response.StatusCode == code
}

// retryOnRateLimit calls fn and retries with exponential backoff on Discord
// rate limit errors. It respects context cancellation.
func (a *Adapter) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !isStatus(err, http.StatusTooManyRequests) || attempt == maxRetries {
			return err
		}
		wait := time.Duration(math.Pow(2, float64(attempt))) * a.baseBackoff
		if wait > a.maxBackoff {
			wait = a.maxBackoff
		}
		a.log.Warn("rate limited", zap.Int("attempt", attempt+1), zap.Int("max", maxRetries), zap.Duration("retry_in", wait))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
