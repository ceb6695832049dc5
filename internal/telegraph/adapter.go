// Package telegraph bridges the matchmaking core to chat platforms (Discord,
// Slack). The core only sees the Notifier interface; the Daemon pumps
// inbound commands and button clicks from an Adapter to a Handler.
package telegraph

import (
	"context"
	"time"

	"github.com/zulandar/pitchside/internal/models"
)

// Notifier posts, edits and deletes messages in chat contexts. Delivery
// failures are reported to the caller, who logs them; they never undo a
// state transition.
type Notifier interface {
	// Notify posts msg into a context and returns a handle to it.
	Notify(ctx context.Context, contextID string, msg Message) (models.MessageRef, error)

	// EditComponents replaces the buttons of a posted message. nil removes
	// them.
	EditComponents(ctx context.Context, ref models.MessageRef, buttons []Button) error

	// Delete removes a posted message.
	Delete(ctx context.Context, ref models.MessageRef) error
}

// Adapter is the interface that platform-specific implementations must satisfy.
type Adapter interface {
	Notifier

	// Connect establishes a connection to the chat platform.
	Connect(ctx context.Context) error

	// Listen returns a channel of inbound events. The channel is closed when
	// the context is cancelled or the adapter is closed. Listen must only be
	// called after Connect.
	Listen(ctx context.Context) (<-chan Event, error)

	// Respond answers an inbound event, privately when reply.Ephemeral is set.
	Respond(ctx context.Context, ev Event, reply Reply) error

	// Close gracefully shuts down the adapter connection.
	Close() error
}

// CommandRegistrar is an optional interface for adapters that must declare
// their commands to the platform before users can invoke them.
type CommandRegistrar interface {
	RegisterCommands(ctx context.Context, specs []CommandSpec) error
}

// EventKind distinguishes commands from component clicks.
type EventKind int

const (
	EventCommand EventKind = iota
	EventComponent
)

// Event is a normalized inbound interaction.
type Event struct {
	Platform  string            // "discord", "slack"
	Kind      EventKind         // command or component
	Name      string            // command name, or the component custom id
	Options   map[string]string // command options by name
	ContextID string            // channel the event happened in
	GuildID   string            // server or workspace
	User      models.UserRef    // who triggered it
	IsAdmin   bool              // whether the platform grants the user admin rights
	Timestamp time.Time

	// Handle carries the platform object Respond needs.
	Handle interface{}
}

// Option returns a command option, or "" when absent.
func (e Event) Option(name string) string {
	if e.Options == nil {
		return ""
	}
	return e.Options[name]
}

// Message is an outbound message.
type Message struct {
	Text    string
	Embeds  []Embed
	Buttons []Button
}

// Embed is a titled block of structured content.
type Embed struct {
	Title  string
	Body   string
	Color  string // sidebar color hint (e.g. "#36a64f")
	Fields []Field
}

// Field is a key-value pair displayed in an embed.
type Field struct {
	Name  string
	Value string
	Short bool // hint: render side-by-side with another field
}

// ButtonStyle hints how a button is rendered.
type ButtonStyle int

const (
	StylePrimary ButtonStyle = iota
	StyleSecondary
	StyleSuccess
	StyleDanger
)

// Button is a clickable component identified by its custom id.
type Button struct {
	CustomID string
	Label    string
	Style    ButtonStyle
	Disabled bool
}

// Reply answers an inbound event.
type Reply struct {
	Message
	Ephemeral bool
}

// Handler processes inbound events.
type Handler interface {
	Handle(ctx context.Context, ev Event) Reply
}

// CommandSpec declares a command and its options.
type CommandSpec struct {
	Name        string
	Description string
	Options     []OptionSpec
	AdminOnly   bool
}

// OptionKind is the value type of a command option.
type OptionKind int

const (
	OptionString OptionKind = iota
	OptionInteger
	OptionBoolean
	OptionUser
)

// OptionSpec declares one command option.
type OptionSpec struct {
	Name        string
	Description string
	Kind        OptionKind
	Required    bool
	Choices     []string
}
