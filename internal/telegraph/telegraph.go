package telegraph

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/zulandar/pitchside/internal/logging"
)

// Daemon is the main telegraph process. It connects to a chat platform via
// an Adapter, declares the commands, and pumps inbound events to a Handler
// whose replies are sent back through the adapter.
type Daemon struct {
	adapter  Adapter
	handler  Handler
	commands []CommandSpec
	log      *zap.Logger
	out      io.Writer
}

// DaemonOpts holds parameters for creating a new Daemon.
type DaemonOpts struct {
	Adapter  Adapter
	Handler  Handler
	Commands []CommandSpec // registered when the adapter is a CommandRegistrar
	Log      *zap.Logger
	Out      io.Writer // defaults to os.Stdout
}

// NewDaemon creates a Daemon with the given options.
func NewDaemon(opts DaemonOpts) (*Daemon, error) {
	if opts.Adapter == nil {
		return nil, fmt.Errorf("telegraph: adapter is required")
	}
	if opts.Handler == nil {
		return nil, fmt.Errorf("telegraph: handler is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Daemon{
		adapter:  opts.Adapter,
		handler:  opts.Handler,
		commands: opts.Commands,
		log:      logging.OrNop(opts.Log),
		out:      out,
	}, nil
}

// Run connects the adapter and blocks until the context is cancelled or the
// adapter closes its inbound channel. On shutdown it closes the adapter.
func (d *Daemon) Run(ctx context.Context) error {
	fmt.Fprintf(d.out, "Telegraph connecting...\n")
	if err := d.adapter.Connect(ctx); err != nil {
		return fmt.Errorf("telegraph: connect: %w", err)
	}

	if reg, ok := d.adapter.(CommandRegistrar); ok && len(d.commands) > 0 {
		if err := reg.RegisterCommands(ctx, d.commands); err != nil {
			d.adapter.Close()
			return fmt.Errorf("telegraph: register commands: %w", err)
		}
	}

	inbound, err := d.adapter.Listen(ctx)
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("telegraph: listen: %w", err)
	}

	fmt.Fprintf(d.out, "Telegraph online\n")

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(d.out, "Telegraph shutting down...\n")
			if err := d.adapter.Close(); err != nil {
				d.log.Warn("close adapter", zap.Error(err))
			}
			fmt.Fprintf(d.out, "Telegraph stopped\n")
			return nil

		case ev, ok := <-inbound:
			if !ok {
				fmt.Fprintf(d.out, "Telegraph inbound channel closed\n")
				return nil
			}
			d.dispatch(ctx, ev)
		}
	}
}

// dispatch hands one event to the handler and answers it. A panicking
// handler is logged and answered with a generic failure so one bad event
// cannot stop the loop.
func (d *Daemon) dispatch(ctx context.Context, ev Event) {
	reply := func() (r Reply) {
		defer func() {
			if p := recover(); p != nil {
				d.log.Error("handler panic", zap.Any("panic", p), zap.String("event", ev.Name))
				r = Reply{Message: Message{Text: "Something went wrong."}, Ephemeral: true}
			}
		}()
		return d.handler.Handle(ctx, ev)
	}()
	if err := d.adapter.Respond(ctx, ev, reply); err != nil {
		d.log.Warn("respond", zap.String("event", ev.Name), zap.String("context", ev.ContextID), zap.Error(err))
	}
}
