package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zulandar/pitchside/internal/api"
	"github.com/zulandar/pitchside/internal/bot"
	"github.com/zulandar/pitchside/internal/config"
	"github.com/zulandar/pitchside/internal/db"
	"github.com/zulandar/pitchside/internal/draft"
	"github.com/zulandar/pitchside/internal/logging"
	"github.com/zulandar/pitchside/internal/matchmaking"
	"github.com/zulandar/pitchside/internal/sweep"
	"github.com/zulandar/pitchside/internal/telegraph"
	"github.com/zulandar/pitchside/internal/telegraph/discord"
	slackadapter "github.com/zulandar/pitchside/internal/telegraph/slack"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bot",
		Long:  "Connects to the configured chat platform and serves commands, the sweeper and the status API until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cmd.OutOrStdout(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Pitchside config file")
	return cmd
}

func runServe(ctx context.Context, out io.Writer, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, err := logging.New(cfg.Log, out)
	if err != nil {
		return err
	}
	defer log.Sync()

	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}

	store, closeStore, err := newDraftStore(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer closeStore()

	adapter, err := createAdapter(cfg, log)
	if err != nil {
		return err
	}

	stack, err := matchmaking.Build(matchmaking.StackOpts{
		DB:          gormDB,
		Notifier:    adapter,
		DraftStore:  store,
		IdleTimeout: cfg.Draft.IdleTimeout(),
		Log:         log,
	})
	if err != nil {
		return err
	}
	defer stack.Drafts.Close()

	handler, err := bot.New(bot.Opts{DB: gormDB, Coordinator: stack.Coordinator, Stats: stack.Stats, Log: log})
	if err != nil {
		return err
	}
	daemon, err := telegraph.NewDaemon(telegraph.DaemonOpts{
		Adapter:  adapter,
		Handler:  handler,
		Commands: bot.Commands(),
		Log:      log,
		Out:      out,
	})
	if err != nil {
		return err
	}

	sweeper, err := sweep.New(sweep.Opts{
		Drafts:       stack.Drafts,
		Challenges:   stack.Negotiator,
		ChallengeTTL: cfg.Sweep.ChallengeTTL(),
		Schedule:     cfg.Sweep.Cron,
		Log:          log,
	})
	if err != nil {
		return err
	}
	// Drafts abandoned by a previous process have no timer armed.
	if res, err := sweeper.Sweep(ctx); err != nil {
		log.Warn("startup sweep failed", zap.Error(err))
	} else if res.Drafts > 0 || res.Challenges > 0 {
		log.Info("startup sweep", zap.Int("drafts", res.Drafts), zap.Int("challenges", res.Challenges))
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go sweeper.Run(ctx)

	if cfg.API.Enabled {
		srv, err := api.New(api.Opts{DB: gormDB, Stack: stack, Log: log})
		if err != nil {
			return err
		}
		go func() {
			if err := srv.Run(ctx, cfg.API.Port); err != nil {
				log.Error("status API stopped", zap.Error(err))
				cancel()
			}
		}()
	}

	log.Info("pitchside starting", zap.String("platform", cfg.Platform), zap.String("version", Version))
	return daemon.Run(ctx)
}

// newDraftStore returns a Redis-backed draft store when an address is
// configured, otherwise an in-memory one.
func newDraftStore(ctx context.Context, cfg config.RedisConfig) (draft.Store, func(), error) {
	if cfg.Addr == "" {
		return draft.NewMemoryStore(), func() {}, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("redis %s: %w", cfg.Addr, err)
	}
	return draft.NewRedisStore(rdb, ""), func() { rdb.Close() }, nil
}

// createAdapter builds a platform adapter from the config.
func createAdapter(cfg *config.Config, log *zap.Logger) (telegraph.Adapter, error) {
	switch cfg.Platform {
	case config.PlatformSlack:
		return slackadapter.New(slackadapter.AdapterOpts{
			AppToken:    cfg.Slack.AppToken,
			BotToken:    cfg.Slack.BotToken,
			RootCommand: cfg.Slack.Command,
			Log:         log,
		})
	case config.PlatformDiscord:
		return discord.New(discord.AdapterOpts{
			BotToken: cfg.Discord.Token,
			AppID:    cfg.Discord.AppID,
			GuildID:  cfg.Discord.GuildID,
			Log:      log,
		})
	default:
		return nil, fmt.Errorf("unsupported platform %q", cfg.Platform)
	}
}
