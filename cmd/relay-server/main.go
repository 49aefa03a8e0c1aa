package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/genai-os/relay/pkg/channel"
	"github.com/genai-os/relay/pkg/config"
	"github.com/genai-os/relay/pkg/dispatch"
	"github.com/genai-os/relay/pkg/history"
	"github.com/genai-os/relay/pkg/registry"
	"github.com/genai-os/relay/pkg/server"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "relay-server",
	Short: "Streaming chat relay server (OpenAI-compatible API + passthrough stream)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		setupLogging(cfg.Log)
		return run(cmd.Context(), cfg)
	},
}

func setupLogging(settings config.LogSettings) {
	level := settings.Level
	if logLevel != "" {
		level = logLevel
	}
	if l, err := zerolog.ParseLevel(level); err == nil && level != "" {
		zerolog.SetGlobalLevel(l)
	}
	if settings.Console {
		log.Logger = zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()
	}
}

func run(ctx context.Context, cfg config.Config) error {
	var transport channel.Transport
	if cfg.Redis.Enabled {
		t, err := channel.NewRedisTransport(cfg.Redis)
		if err != nil {
			return err
		}
		transport = t
		log.Info().Str("addr", cfg.Redis.Addr).Msg("using redis streams transport")
	} else {
		transport = channel.NewGoChannelTransport()
		log.Info().Msg("using in-process transport")
	}
	defer func() { _ = transport.Close() }()

	var reg registry.Registry
	if cfg.Redis.Enabled {
		reg = registry.NewRedisRegistry(redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr}))
	} else {
		reg = registry.NewMemoryRegistry()
	}

	store, err := history.NewSQLiteStore(cfg.History.DSN)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	dispatcher, err := dispatch.NewQueueDispatcher(transport.Publisher())
	if err != nil {
		return err
	}
	aborter, err := dispatch.NewKernelClient(cfg.Kernel.Location)
	if err != nil {
		return err
	}

	resolver, err := resolverFromEnv()
	if err != nil {
		return err
	}

	srv, err := server.New(ctx, cfg, server.Deps{
		Transport:  transport,
		Registry:   reg,
		Store:      store,
		Dispatcher: dispatcher,
		Aborter:    aborter,
		Resolver:   resolver,
	})
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}

// resolverFromEnv builds the token table from RELAY_API_TOKENS
// ("token:user_id:tokenable_id:name", comma separated). Real deployments
// sit behind the multi-tenant frontend which owns users and permissions;
// this keeps the relay runnable standalone.
func resolverFromEnv() (server.UserResolver, error) {
	raw := os.Getenv("RELAY_API_TOKENS")
	if raw == "" {
		return nil, fmt.Errorf("RELAY_API_TOKENS is not set")
	}
	tokens := map[string]server.User{}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 4 {
			return nil, fmt.Errorf("invalid token entry %q", entry)
		}
		userID, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user id in %q", entry)
		}
		tokenableID, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid tokenable id in %q", entry)
		}
		tokens[parts[0]] = server.User{ID: userID, TokenableID: tokenableID, Name: parts[3]}
	}
	return server.NewTokenResolver(tokens), nil
}

func main() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "Path to YAML config file")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "Global log level (trace, debug, info, warn, error)")
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("relay-server failed")
	}
}
