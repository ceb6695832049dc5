package slack

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"

	"github.com/zulandar/pitchside/internal/models"
	"github.com/zulandar/pitchside/internal/telegraph"
)

// --- Mock Slack API client ---

type call struct {
	method    string
	channelID string
	target    string // user id for ephemeral posts, timestamp for updates and deletes
	values    url.Values
}

type mockSlackClient struct {
	mu        sync.Mutex
	authErr   error
	calls     []call
	postErrs  []error
	deleteErr error
	history   []slackapi.Message
	users     map[string]*slackapi.User
}

func newMockSlackClient() *mockSlackClient {
	return &mockSlackClient{users: make(map[string]*slackapi.User)}
}

func apply(options []slackapi.MsgOption) url.Values {
	_, values, _ := slackapi.UnsafeApplyMsgOptions("xoxb-test", "C", "https://slack.test/api/", options...)
	return values
}

func (m *mockSlackClient) AuthTest() (*slackapi.AuthTestResponse, error) {
	if m.authErr != nil {
		return nil, m.authErr
	}
	return &slackapi.AuthTestResponse{UserID: "B_BOT"}, nil
}

func (m *mockSlackClient) PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.postErrs) > 0 {
		err := m.postErrs[0]
		m.postErrs = m.postErrs[1:]
		return "", "", err
	}
	m.calls = append(m.calls, call{method: "post", channelID: channelID, values: apply(options)})
	return channelID, "1700000000.000100", nil
}

func (m *mockSlackClient) PostEphemeral(channelID, userID string, options ...slackapi.MsgOption) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call{method: "ephemeral", channelID: channelID, target: userID, values: apply(options)})
	return "1700000000.000200", nil
}

func (m *mockSlackClient) UpdateMessage(channelID, ts string, options ...slackapi.MsgOption) (string, string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call{method: "update", channelID: channelID, target: ts, values: apply(options)})
	return channelID, ts, "", nil
}

func (m *mockSlackClient) DeleteMessage(channelID, ts string) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return "", "", m.deleteErr
	}
	m.calls = append(m.calls, call{method: "delete", channelID: channelID, target: ts})
	return channelID, ts, nil
}

func (m *mockSlackClient) GetConversationHistory(_ *slackapi.GetConversationHistoryParameters) (*slackapi.GetConversationHistoryResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &slackapi.GetConversationHistoryResponse{Messages: m.history}, nil
}

func (m *mockSlackClient) GetUserInfo(userID string) (*slackapi.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		return u, nil
	}
	return nil, fmt.Errorf("user not found: %s", userID)
}

func (m *mockSlackClient) lastCall(t *testing.T) call {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		t.Fatal("no API calls recorded")
	}
	return m.calls[len(m.calls)-1]
}

// --- Mock Socket Mode client ---

type mockSocketClient struct {
	events chan socketmode.Event
	acked  []socketmode.Request
	mu     sync.Mutex
	done   chan struct{}
}

func newMockSocketClient() *mockSocketClient {
	return &mockSocketClient{
		events: make(chan socketmode.Event, 100),
		done:   make(chan struct{}),
	}
}

func (m *mockSocketClient) Run() error {
	<-m.done
	return nil
}

func (m *mockSocketClient) EventsChan() chan socketmode.Event {
	return m.events
}

func (m *mockSocketClient) Ack(req socketmode.Request, _ ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acked = append(m.acked, req)
}

func (m *mockSocketClient) ackedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.acked)
}

// --- Helper to create a connected adapter ---

func newTestAdapter(t *testing.T) (*Adapter, *mockSlackClient, *mockSocketClient) {
	t.Helper()
	client := newMockSlackClient()
	socket := newMockSocketClient()
	a, err := New(AdapterOpts{Client: client, Socket: socket})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() {
		close(socket.done)
		a.Close()
	})
	return a, client, socket
}

func receive(t *testing.T, events <-chan telegraph.Event) telegraph.Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return telegraph.Event{}
	}
}

var specs = []telegraph.CommandSpec{
	{Name: "setup_lineup", Options: []telegraph.OptionSpec{
		{Name: "size", Kind: telegraph.OptionInteger},
		{Name: "visibility", Kind: telegraph.OptionString},
		{Name: "name", Kind: telegraph.OptionString},
	}},
	{Name: "ban", Options: []telegraph.OptionSpec{
		{Name: "user", Kind: telegraph.OptionUser},
		{Name: "reason", Kind: telegraph.OptionString},
	}},
}

func TestNew_RequiresTokens(t *testing.T) {
	if _, err := New(AdapterOpts{AppToken: "xapp"}); err == nil {
		t.Error("expected bot token error")
	}
	if _, err := New(AdapterOpts{BotToken: "xoxb"}); err == nil {
		t.Error("expected app token error")
	}
	if _, err := New(AdapterOpts{BotToken: "xoxb", AppToken: "xapp"}); err != nil {
		t.Errorf("New: %v", err)
	}
}

func TestConnect(t *testing.T) {
	client := newMockSlackClient()
	client.authErr = fmt.Errorf("invalid_auth")
	a, _ := New(AdapterOpts{Client: client, Socket: newMockSocketClient()})
	if err := a.Connect(context.Background()); err == nil {
		t.Fatal("expected auth error")
	}
	if _, err := a.Listen(context.Background()); err == nil {
		t.Fatal("Listen should fail when not connected")
	}

	a, _, _ = newTestAdapter(t)
	if a.BotUserID() != "B_BOT" {
		t.Errorf("bot user = %q", a.BotUserID())
	}
}

func TestSlashCommand_BindsOptions(t *testing.T) {
	a, client, socket := newTestAdapter(t)
	client.users["U1"] = &slackapi.User{ID: "U1", IsAdmin: true, Profile: slackapi.UserProfile{DisplayName: "Alice"}}
	_ = a.RegisterCommands(context.Background(), specs)
	events, err := a.Listen(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	socket.events <- socketmode.Event{
		Type:    socketmode.EventTypeSlashCommand,
		Data:    slackapi.SlashCommand{Command: "/setup_lineup", Text: `5 name="Friday Night"`, ChannelID: "C1", TeamID: "T1", UserID: "U1", UserName: "alice"},
		Request: &socketmode.Request{EnvelopeID: "env-1"},
	}
	ev := receive(t, events)
	if ev.Kind != telegraph.EventCommand || ev.Name != "setup_lineup" {
		t.Fatalf("event = %+v", ev)
	}
	if ev.ContextID != "C1" || ev.GuildID != "T1" {
		t.Errorf("context/guild = %s/%s", ev.ContextID, ev.GuildID)
	}
	if ev.User != (models.UserRef{ID: "U1", Name: "Alice"}) || !ev.IsAdmin {
		t.Errorf("user = %+v admin=%v", ev.User, ev.IsAdmin)
	}
	if ev.Option("size") != "5" || ev.Option("name") != "Friday Night" || ev.Option("visibility") != "" {
		t.Errorf("options = %v", ev.Options)
	}
	if socket.ackedCount() != 1 {
		t.Errorf("acked = %d, want 1", socket.ackedCount())
	}
}

func TestSlashCommand_RootCommandAndMentions(t *testing.T) {
	a, _, socket := newTestAdapter(t)
	_ = a.RegisterCommands(context.Background(), specs)
	events, _ := a.Listen(context.Background())

	socket.events <- socketmode.Event{
		Type: socketmode.EventTypeSlashCommand,
		Data: slackapi.SlashCommand{Command: "/pitch", Text: "ban <@U2|bob> spamming", ChannelID: "C1", UserID: "U9", UserName: "mod"},
	}
	ev := receive(t, events)
	if ev.Name != "ban" {
		t.Fatalf("name = %q", ev.Name)
	}
	if ev.Option("user") != "U2" || ev.Option("user_name") != "bob" || ev.Option("reason") != "spamming" {
		t.Errorf("options = %v", ev.Options)
	}
	if ev.User.Name != "mod" || ev.IsAdmin {
		t.Errorf("unknown user should fall back to the slash command name without admin: %+v", ev)
	}

	socket.events <- socketmode.Event{
		Type: socketmode.EventTypeSlashCommand,
		Data: slackapi.SlashCommand{Command: "/pitch", ChannelID: "C1", UserID: "U9"},
	}
	if ev := receive(t, events); ev.Name != "help" {
		t.Errorf("bare root command = %q, want help", ev.Name)
	}
}

func TestBlockActions_BecomeComponentEvents(t *testing.T) {
	a, _, socket := newTestAdapter(t)
	events, _ := a.Listen(context.Background())

	cb := slackapi.InteractionCallback{
		Type:      slackapi.InteractionTypeBlockActions,
		User:      slackapi.User{ID: "U1", Name: "alice"},
		Team:      slackapi.Team{ID: "T1"},
		Container: slackapi.Container{ChannelID: "C1", MessageTs: "1700000000.000100"},
		ActionCallback: slackapi.ActionCallbacks{BlockActions: []*slackapi.BlockAction{
			{ActionID: "role_1_GK", Value: "role_1_GK"},
		}},
	}
	socket.events <- socketmode.Event{Type: socketmode.EventTypeInteractive, Data: cb, Request: &socketmode.Request{EnvelopeID: "env-2"}}

	ev := receive(t, events)
	if ev.Kind != telegraph.EventComponent || ev.Name != "role_1_GK" {
		t.Fatalf("event = %+v", ev)
	}
	if ev.ContextID != "C1" || ev.GuildID != "T1" || ev.User.ID != "U1" {
		t.Errorf("event = %+v", ev)
	}
	target, ok := ev.Handle.(responseTarget)
	if !ok || target.messageTS != "1700000000.000100" {
		t.Errorf("handle = %#v", ev.Handle)
	}
}

func TestNotify_RendersEmbedsAndButtons(t *testing.T) {
	a, client, _ := newTestAdapter(t)
	ref, err := a.Notify(context.Background(), "C1", telegraph.Message{
		Embeds: []telegraph.Embed{{Title: "Lineup", Body: "1/2 signed", Color: telegraph.ColorInfo}},
		Buttons: []telegraph.Button{
			{CustomID: "join_gk", Label: "Join as GK", Style: telegraph.StylePrimary},
			{CustomID: "pick_u1", Label: "hidden", Disabled: true},
		},
	})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if ref != (models.MessageRef{ContextID: "C1", MessageID: "1700000000.000100"}) {
		t.Errorf("ref = %+v", ref)
	}
	v := client.lastCall(t).values
	if v.Get("text") != "Lineup" {
		t.Errorf("fallback text = %q", v.Get("text"))
	}
	if !strings.Contains(v.Get("attachments"), "1/2 signed") {
		t.Errorf("attachments = %s", v.Get("attachments"))
	}
	blocks := v.Get("blocks")
	if !strings.Contains(blocks, `"action_id":"join_gk"`) || strings.Contains(blocks, "pick_u1") {
		t.Errorf("blocks = %s", blocks)
	}
}

func TestNotify_RetriesRateLimit(t *testing.T) {
	a, client, _ := newTestAdapter(t)
	client.postErrs = []error{&slackapi.RateLimitedError{RetryAfter: time.Millisecond}}
	if _, err := a.Notify(context.Background(), "C1", telegraph.Message{Text: "x"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if client.lastCall(t).method != "post" {
		t.Error("expected a post after the retry")
	}
}

func TestNotify_NotConnected(t *testing.T) {
	a, _ := New(AdapterOpts{Client: newMockSlackClient(), Socket: newMockSocketClient()})
	if _, err := a.Notify(context.Background(), "C1", telegraph.Message{Text: "x"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestEditComponents_KeepsContentReplacesActions(t *testing.T) {
	a, client, _ := newTestAdapter(t)
	section := slackapi.NewSectionBlock(slackapi.NewTextBlockObject(slackapi.MarkdownType, "challenge text", false, false), nil, nil)
	old := slackapi.NewActionBlock("actions_0", slackapi.NewButtonBlockElement("accept_challenge_1", "accept_challenge_1",
		slackapi.NewTextBlockObject(slackapi.PlainTextType, "Accept", false, false)))
	client.history = []slackapi.Message{{Msg: slackapi.Msg{
		Text:   "Challenge received",
		Blocks: slackapi.Blocks{BlockSet: []slackapi.Block{section, old}},
	}}}

	ref := models.MessageRef{ContextID: "C1", MessageID: "1700000000.000100"}
	if err := a.EditComponents(context.Background(), ref, nil); err != nil {
		t.Fatalf("EditComponents: %v", err)
	}
	c := client.lastCall(t)
	if c.method != "update" || c.target != ref.MessageID {
		t.Fatalf("call = %+v", c)
	}
	blocks := c.values.Get("blocks")
	if !strings.Contains(blocks, "challenge text") || strings.Contains(blocks, "accept_challenge_1") {
		t.Errorf("blocks = %s", blocks)
	}
}

func TestDelete_IgnoresMissingMessage(t *testing.T) {
	a, client, _ := newTestAdapter(t)
	ref := models.MessageRef{ContextID: "C1", MessageID: "1"}
	if err := a.Delete(context.Background(), ref); err != nil {
		t.Fatal(err)
	}
	client.deleteErr = fmt.Errorf("message_not_found")
	if err := a.Delete(context.Background(), ref); err != nil {
		t.Fatalf("missing message: %v", err)
	}
	client.deleteErr = fmt.Errorf("channel_not_found")
	if err := a.Delete(context.Background(), ref); err == nil {
		t.Fatal("expected error")
	}
}

func TestRespond_Modes(t *testing.T) {
	a, client, _ := newTestAdapter(t)
	ctx := context.Background()
	cmd := telegraph.Event{Handle: responseTarget{channelID: "C1", userID: "U1"}}
	click := telegraph.Event{Handle: responseTarget{channelID: "C1", userID: "U1", messageTS: "42.0"}}

	_ = a.Respond(ctx, cmd, telegraph.Reply{Message: telegraph.Message{Text: "private"}, Ephemeral: true})
	if c := client.lastCall(t); c.method != "ephemeral" || c.target != "U1" {
		t.Errorf("ephemeral call = %+v", c)
	}
	_ = a.Respond(ctx, click, telegraph.Reply{Message: telegraph.Message{Text: "lineup"}})
	if c := client.lastCall(t); c.method != "update" || c.target != "42.0" {
		t.Errorf("click call = %+v", c)
	}
	_ = a.Respond(ctx, cmd, telegraph.Reply{Message: telegraph.Message{Text: "public"}})
	if c := client.lastCall(t); c.method != "post" {
		t.Errorf("command call = %+v", c)
	}
	if err := a.Respond(ctx, telegraph.Event{}, telegraph.Reply{}); err == nil {
		t.Error("expected error without response target")
	}
}

func TestClose_ClosesInbound(t *testing.T) {
	a, _, _ := newTestAdapter(t)
	events, _ := a.Listen(context.Background())
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
	if _, ok := <-events; ok {
		t.Error("inbound should be closed")
	}
	if err := a.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestTokenize(t *testing.T) {
	got := tokenize(`  5  name="Sunday League"   team `)
	want := []string{"5", "name=Sunday League", "team"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("tokenize = %q, want %q", got, want)
	}
	if len(tokenize("")) != 0 {
		t.Error("empty text should have no tokens")
	}
}

func TestBindOptions_UnknownKeyIsPositional(t *testing.T) {
	opts := bindOptions([]string{"size=3", "mix=yes"}, specs[0])
	if opts["size"] != "3" || opts["visibility"] != "mix=yes" {
		t.Errorf("options = %v", opts)
	}
}
