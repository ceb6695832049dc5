// Package slack implements the telegraph Adapter for Slack using Socket Mode.
package slack

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"
	"go.uber.org/zap"

	"github.com/zulandar/pitchside/internal/logging"
	"github.com/zulandar/pitchside/internal/models"
	"github.com/zulandar/pitchside/internal/telegraph"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff duration for reconnection.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff for reconnection.
	maxBackoff = 2 * time.Minute
	// maxReconnectAttempts limits reconnection retries before giving up.
	maxReconnectAttempts = 10
	// buttonsPerBlock keeps action blocks short enough to read.
	buttonsPerBlock = 5
	// DefaultRootCommand carries every command as its first argument, for
	// workspaces that register a single slash command.
	DefaultRootCommand = "pitch"
)

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	AuthTest() (*slackapi.AuthTestResponse, error)
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
	PostEphemeral(channelID, userID string, options ...slackapi.MsgOption) (string, error)
	UpdateMessage(channelID, timestamp string, options ...slackapi.MsgOption) (string, string, string, error)
	DeleteMessage(channelID, timestamp string) (string, string, error)
	GetConversationHistory(params *slackapi.GetConversationHistoryParameters) (*slackapi.GetConversationHistoryResponse, error)
	GetUserInfo(userID string) (*slackapi.User, error)
}

// socketClient abstracts the Socket Mode client methods we use.
type socketClient interface {
	Run() error
	EventsChan() chan socketmode.Event
	Ack(req socketmode.Request, payload ...interface{})
}

// realSocketClient wraps *socketmode.Client to implement socketClient.
type realSocketClient struct {
	client *socketmode.Client
}

func (r *realSocketClient) Run() error                        { return r.client.Run() }
func (r *realSocketClient) EventsChan() chan socketmode.Event { return r.client.Events }
func (r *realSocketClient) Ack(req socketmode.Request, payload ...interface{}) {
	r.client.Ack(req, payload...)
}

// responseTarget is the Event.Handle of a Slack interaction.
type responseTarget struct {
	channelID string
	userID    string
	messageTS string // set for button clicks
}

// Adapter implements telegraph.Adapter for Slack Socket Mode.
type Adapter struct {
	client       slackClient
	socket       socketClient
	botUserID    string
	appToken     string
	botToken     string
	rootCommand  string
	log          *zap.Logger
	mu           sync.Mutex
	sendMu       sync.Mutex // serializes sends on inbound with its close
	connected    bool
	closed       bool
	inbound      chan telegraph.Event
	specs        map[string]telegraph.CommandSpec
	cancelFunc   context.CancelFunc
	baseBackoff  time.Duration
	maxBackoff   time.Duration
	maxReconnect int
	now          func() time.Time
}

// AdapterOpts holds parameters for creating a Slack Adapter.
type AdapterOpts struct {
	AppToken    string // xapp-... Slack app-level token for Socket Mode
	BotToken    string // xoxb-... Slack bot token
	RootCommand string // defaults to DefaultRootCommand
	Log         *zap.Logger
	// For testing: inject mock clients instead of real Slack API.
	Client slackClient
	Socket socketClient
}

// New creates a Slack Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	if opts.Socket == nil && opts.AppToken == "" {
		return nil, fmt.Errorf("slack: app token is required for socket mode")
	}
	root := strings.TrimPrefix(opts.RootCommand, "/")
	if root == "" {
		root = DefaultRootCommand
	}
	return &Adapter{
		client:       opts.Client,
		socket:       opts.Socket,
		appToken:     opts.AppToken,
		botToken:     opts.BotToken,
		rootCommand:  root,
		log:          logging.OrNop(opts.Log).Named("slack"),
		inbound:      make(chan telegraph.Event, 100),
		specs:        make(map[string]telegraph.CommandSpec),
		baseBackoff:  baseBackoff,
		maxBackoff:   maxBackoff,
		maxReconnect: maxReconnectAttempts,
		now:          time.Now,
	}, nil
}

// Connect authenticates the bot token. The Socket Mode connection itself
// starts in Listen.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("slack: adapter already closed")
	}
	if a.connected {
		return nil
	}

	if a.client == nil {
		api := slackapi.New(a.botToken, slackapi.OptionAppLevelToken(a.appToken))
		a.client = api
		a.socket = &realSocketClient{client: socketmode.New(api)}
	}

	auth, err := a.client.AuthTest()
	if err != nil {
		return fmt.Errorf("slack: auth test: %w", err)
	}
	a.botUserID = auth.UserID
	a.connected = true
	return nil
}

// Listen returns a channel of inbound events. Starts the Socket Mode
// event pump in a background goroutine. Must be called after Connect.
func (a *Adapter) Listen(ctx context.Context) (<-chan telegraph.Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil, fmt.Errorf("slack: not connected")
	}
	listenCtx, cancel := context.WithCancel(ctx)
	a.cancelFunc = cancel

	go a.runWithReconnect(listenCtx)
	go a.pumpEvents(listenCtx)
	return a.inbound, nil
}

// RegisterCommands records the command specs used to map positional
// arguments to option names. Slack slash commands themselves are declared
// in the app manifest.
func (a *Adapter) RegisterCommands(_ context.Context, specs []telegraph.CommandSpec) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range specs {
		a.specs[s.Name] = s
	}
	return nil
}

// Notify posts msg into a channel.
func (a *Adapter) Notify(ctx context.Context, contextID string, msg telegraph.Message) (models.MessageRef, error) {
	if err := a.ready(); err != nil {
		return models.MessageRef{}, err
	}
	var channel, ts string
	err := retryOnRateLimit(ctx, func() error {
		var apiErr error
		channel, ts, apiErr = a.client.PostMessage(contextID, buildMessageOptions(msg)...)
		return apiErr
	})
	if err != nil {
		return models.MessageRef{}, fmt.Errorf("slack: post message: %w", err)
	}
	if channel == "" {
		channel = contextID
	}
	return models.MessageRef{ContextID: channel, MessageID: ts}, nil
}

// EditComponents replaces the action blocks of a posted message, keeping
// its other blocks and text.
func (a *Adapter) EditComponents(ctx context.Context, ref models.MessageRef, buttons []telegraph.Button) error {
	if err := a.ready(); err != nil {
		return err
	}
	var resp *slackapi.GetConversationHistoryResponse
	err := retryOnRateLimit(ctx, func() error {
		var apiErr error
		resp, apiErr = a.client.GetConversationHistory(&slackapi.GetConversationHistoryParameters{
			ChannelID: ref.ContextID,
			Latest:    ref.MessageID,
			Inclusive: true,
			Limit:     1,
		})
		return apiErr
	})
	if err != nil {
		return fmt.Errorf("slack: fetch message: %w", err)
	}
	if resp == nil || len(resp.Messages) == 0 {
		return fmt.Errorf("slack: message %s not found", ref.MessageID)
	}
	orig := resp.Messages[0]
	var blocks []slackapi.Block
	for _, b := range orig.Blocks.BlockSet {
		if b.BlockType() != slackapi.MBTAction {
			blocks = append(blocks, b)
		}
	}
	blocks = append(blocks, buttonBlocks(buttons)...)

	opts := []slackapi.MsgOption{
		slackapi.MsgOptionText(orig.Text, false),
		slackapi.MsgOptionBlocks(blocks...),
	}
	if len(orig.Attachments) > 0 {
		opts = append(opts, slackapi.MsgOptionAttachments(orig.Attachments...))
	}
	err = retryOnRateLimit(ctx, func() error {
		_, _, _, apiErr := a.client.UpdateMessage(ref.ContextID, ref.MessageID, opts...)
		return apiErr
	})
	if err != nil {
		return fmt.Errorf("slack: update message: %w", err)
	}
	return nil
}

// Delete removes a posted message. A message that is already gone is not
// an error.
func (a *Adapter) Delete(ctx context.Context, ref models.MessageRef) error {
	if err := a.ready(); err != nil {
		return err
	}
	err := retryOnRateLimit(ctx, func() error {
		_, _, apiErr := a.client.DeleteMessage(ref.ContextID, ref.MessageID)
		return apiErr
	})
	if err != nil && strings.Contains(err.Error(), "message_not_found") {
		return nil
	}
	if err != nil {
		return fmt.Errorf("slack: delete message: %w", err)
	}
	return nil
}

// Respond answers an event. Ephemeral replies are only visible to the
// user; a public reply to a button click updates the clicked message.
func (a *Adapter) Respond(ctx context.Context, ev telegraph.Event, reply telegraph.Reply) error {
	if err := a.ready(); err != nil {
		return err
	}
	target, ok := ev.Handle.(responseTarget)
	if !ok {
		return fmt.Errorf("slack: event has no response target")
	}
	opts := buildMessageOptions(reply.Message)
	err := retryOnRateLimit(ctx, func() error {
		var apiErr error
		switch {
		case reply.Ephemeral:
			_, apiErr = a.client.PostEphemeral(target.channelID, target.userID, opts...)
		case target.messageTS != "":
			_, _, _, apiErr = a.client.UpdateMessage(target.channelID, target.messageTS, opts...)
		default:
			_, _, apiErr = a.client.PostMessage(target.channelID, opts...)
		}
		return apiErr
	})
	if err != nil {
		return fmt.Errorf("slack: respond: %w", err)
	}
	return nil
}

// Close shuts down the adapter and closes the inbound channel.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.connected = false
	if a.cancelFunc != nil {
		a.cancelFunc()
	}
	a.mu.Unlock()

	a.sendMu.Lock()
	defer a.sendMu.Unlock()
	close(a.inbound)
	return nil
}

// BotUserID returns the bot's Slack user ID (available after Connect).
func (a *Adapter) BotUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

func (a *Adapter) ready() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return fmt.Errorf("slack: not connected")
	}
	return nil
}

// runWithReconnect runs the Socket Mode client and retries with exponential
// backoff when Run() returns an error.
func (a *Adapter) runWithReconnect(ctx context.Context) {
	for attempt := 0; attempt < a.maxReconnect; attempt++ {
		err := a.socket.Run()
		if err == nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
		wait := time.Duration(math.Pow(2, float64(attempt))) * a.baseBackoff
		if wait > a.maxBackoff {
			wait = a.maxBackoff
		}
		a.log.Warn("socket mode disconnected", zap.Int("attempt", attempt+1),
			zap.Int("max", a.maxReconnect), zap.Duration("retry_in", wait), zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
	a.log.Error("socket mode exhausted reconnection attempts", zap.Int("attempts", a.maxReconnect))
}

// pumpEvents reads Socket Mode events and converts them to telegraph events.
func (a *Adapter) pumpEvents(ctx context.Context) {
	events := a.socket.EventsChan()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			a.handleSocketEvent(ctx, evt)
		}
	}
}

// handleSocketEvent processes a single Socket Mode event.
func (a *Adapter) handleSocketEvent(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeSlashCommand:
		cmd, ok := evt.Data.(slackapi.SlashCommand)
		if !ok {
			return
		}
		if evt.Request != nil {
			a.socket.Ack(*evt.Request)
		}
		a.emit(ctx, a.commandEvent(cmd))

	case socketmode.EventTypeInteractive:
		cb, ok := evt.Data.(slackapi.InteractionCallback)
		if !ok {
			return
		}
		if evt.Request != nil {
			a.socket.Ack(*evt.Request)
		}
		if cb.Type != slackapi.InteractionTypeBlockActions {
			return
		}
		for _, action := range cb.ActionCallback.BlockActions {
			a.emit(ctx, a.clickEvent(cb, action))
		}

	case socketmode.EventTypeConnecting:
		a.log.Debug("connecting to Socket Mode")
	case socketmode.EventTypeConnected:
		a.log.Info("connected to Socket Mode")
	case socketmode.EventTypeConnectionError:
		a.log.Warn("connection error", zap.Any("data", evt.Data))
	case socketmode.EventTypeDisconnect:
		a.log.Info("server requested disconnect, will reconnect")
	}
}

func (a *Adapter) emit(ctx context.Context, ev telegraph.Event) {
	a.sendMu.Lock()
	defer a.sendMu.Unlock()
	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return
	}
	select {
	case a.inbound <- ev:
	case <-ctx.Done():
	}
}

// commandEvent converts a slash command. "/pitch setup_lineup 5" and
// "/setup_lineup 5" are equivalent.
func (a *Adapter) commandEvent(cmd slackapi.SlashCommand) telegraph.Event {
	name := strings.TrimPrefix(cmd.Command, "/")
	args := tokenize(cmd.Text)
	if name == a.rootCommand {
		name = "help"
		if len(args) > 0 {
			name, args = args[0], args[1:]
		}
	}
	a.mu.Lock()
	spec := a.specs[name]
	a.mu.Unlock()

	ev := telegraph.Event{
		Platform:  "slack",
		Kind:      telegraph.EventCommand,
		Name:      name,
		Options:   bindOptions(args, spec),
		ContextID: cmd.ChannelID,
		GuildID:   cmd.TeamID,
		User:      models.UserRef{ID: cmd.UserID, Name: cmd.UserName},
		Timestamp: a.now(),
		Handle:    responseTarget{channelID: cmd.ChannelID, userID: cmd.UserID},
	}
	ev.User.Name, ev.IsAdmin = a.lookupUser(cmd.UserID, cmd.UserName)
	return ev
}

func (a *Adapter) clickEvent(cb slackapi.InteractionCallback, action *slackapi.BlockAction) telegraph.Event {
	channel := cb.Channel.ID
	if channel == "" {
		channel = cb.Container.ChannelID
	}
	ev := telegraph.Event{
		Platform:  "slack",
		Kind:      telegraph.EventComponent,
		Name:      action.ActionID,
		ContextID: channel,
		GuildID:   cb.Team.ID,
		User:      models.UserRef{ID: cb.User.ID, Name: cb.User.Name},
		Timestamp: a.now(),
		Handle:    responseTarget{channelID: channel, userID: cb.User.ID, messageTS: cb.Container.MessageTs},
	}
	ev.User.Name, ev.IsAdmin = a.lookupUser(cb.User.ID, cb.User.Name)
	return ev
}

// lookupUser resolves a display name and whether the user administers the
// workspace. Lookup failures fall back to fallback and no admin rights.
func (a *Adapter) lookupUser(userID, fallback string) (string, bool) {
	if fallback == "" {
		fallback = userID
	}
	user, err := a.client.GetUserInfo(userID)
	if err != nil {
		a.log.Debug("user lookup failed", zap.String("user", userID), zap.Error(err))
		return fallback, false
	}
	name := user.Profile.DisplayName
	if name == "" {
		name = user.RealName
	}
	if name == "" {
		name = fallback
	}
	return name, user.IsAdmin || user.IsOwner
}

// tokenize splits command text on spaces, keeping double-quoted phrases
// together.
func tokenize(text string) []string {
	var (
		out   []string
		cur   strings.Builder
		quote bool
		inTok bool
	)
	for _, r := range text {
		switch {
		case r == '"':
			quote = !quote
			inTok = true
		case (r == ' ' || r == '\t') && !quote:
			if inTok {
				out = append(out, cur.String())
				cur.Reset()
				inTok = false
			}
		default:
			cur.WriteRune(r)
			inTok = true
		}
	}
	if inTok {
		out = append(out, cur.String())
	}
	return out
}

// bindOptions maps "name=value" arguments by name and the rest by position
// onto the spec's options. User mentions ("<@U123|bob>") become the user id
// with the name under "<option>_name".
func bindOptions(args []string, spec telegraph.CommandSpec) map[string]string {
	opts := make(map[string]string)
	kinds := make(map[string]telegraph.OptionKind, len(spec.Options))
	for _, o := range spec.Options {
		kinds[o.Name] = o.Kind
	}
	var positional []string
	for _, arg := range args {
		if k, v, ok := strings.Cut(arg, "="); ok {
			if _, known := kinds[k]; known {
				opts[k] = v
				continue
			}
		}
		positional = append(positional, arg)
	}
	for _, o := range spec.Options {
		if len(positional) == 0 {
			break
		}
		if _, set := opts[o.Name]; set {
			continue
		}
		opts[o.Name], positional = positional[0], positional[1:]
	}
	for name, kind := range kinds {
		if kind != telegraph.OptionUser || opts[name] == "" {
			continue
		}
		if id, display, ok := parseMention(opts[name]); ok {
			opts[name] = id
			if display != "" {
				opts[name+"_name"] = display
			}
		}
	}
	return opts
}

func parseMention(s string) (id, name string, ok bool) {
	if !strings.HasPrefix(s, "<@") || !strings.HasSuffix(s, ">") {
		return "", "", false
	}
	body := strings.TrimSuffix(strings.TrimPrefix(s, "<@"), ">")
	id, name, _ = strings.Cut(body, "|")
	return id, name, id != ""
}

// buildMessageOptions translates a Message into Slack MsgOptions: embeds
// become attachments and buttons become action blocks.
func buildMessageOptions(msg telegraph.Message) []slackapi.MsgOption {
	var options []slackapi.MsgOption
	text := msg.Text
	if text == "" && len(msg.Embeds) > 0 {
		text = msg.Embeds[0].Title
	}
	options = append(options, slackapi.MsgOptionText(text, false))
	if len(msg.Embeds) > 0 {
		var attachments []slackapi.Attachment
		for _, e := range msg.Embeds {
			attachments = append(attachments, embedToAttachment(e))
		}
		options = append(options, slackapi.MsgOptionAttachments(attachments...))
	}
	if blocks := buttonBlocks(msg.Buttons); len(blocks) > 0 {
		if msg.Text != "" {
			blocks = append([]slackapi.Block{slackapi.NewSectionBlock(
				slackapi.NewTextBlockObject(slackapi.MarkdownType, msg.Text, false, false), nil, nil)}, blocks...)
		}
		options = append(options, slackapi.MsgOptionBlocks(blocks...))
	}
	return options
}

// embedToAttachment converts an Embed to a Slack Attachment.
func embedToAttachment(e telegraph.Embed) slackapi.Attachment {
	att := slackapi.Attachment{
		Title:    e.Title,
		Text:     e.Body,
		Color:    e.Color,
		Fallback: e.Title,
	}
	for _, f := range e.Fields {
		att.Fields = append(att.Fields, slackapi.AttachmentField{
			Title: f.Name,
			Value: f.Value,
			Short: f.Short,
		})
	}
	return att
}

// buttonBlocks lays enabled buttons out in action blocks. Slack has no
// disabled buttons, so those are left out.
func buttonBlocks(buttons []telegraph.Button) []slackapi.Block {
	var elems []slackapi.BlockElement
	for _, b := range buttons {
		if b.Disabled {
			continue
		}
		btn := slackapi.NewButtonBlockElement(b.CustomID, b.CustomID,
			slackapi.NewTextBlockObject(slackapi.PlainTextType, b.Label, false, false))
		switch b.Style {
		case telegraph.StylePrimary, telegraph.StyleSuccess:
			btn = btn.WithStyle(slackapi.StylePrimary)
		case telegraph.StyleDanger:
			btn = btn.WithStyle(slackapi.StyleDanger)
		}
		elems = append(elems, btn)
	}
	var blocks []slackapi.Block
	for start := 0; start < len(elems); start += buttonsPerBlock {
		end := min(start+buttonsPerBlock, len(elems))
		blocks = append(blocks, slackapi.NewActionBlock(fmt.Sprintf("actions_%d", start/buttonsPerBlock), elems[start:end]...))
	}
	return blocks
}

// retryOnRateLimit calls fn and retries with backoff on Slack rate limit errors.
// It respects context cancellation and the RetryAfter duration from Slack.
func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		var rle *slackapi.RateLimitedError
		if err == nil || !errors.As(err, &rle) || attempt == maxRetries {
			return err
		}
		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
