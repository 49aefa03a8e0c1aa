package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/genai-os/relay/pkg/channel"
	"github.com/genai-os/relay/pkg/config"
	"github.com/genai-os/relay/pkg/dispatch"
	"github.com/genai-os/relay/pkg/worker"
)

var (
	configPath string
	logLevel   string
	listenAddr string
	chunkSize  int
	delayMs    int
)

var rootCmd = &cobra.Command{
	Use:   "echo-worker",
	Short: "Development worker that echoes the last user message back as a stream",
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

	w, err := worker.NewEchoWorker(transport,
		worker.WithChunkSize(chunkSize),
		worker.WithDelay(time.Duration(delayMs)*time.Millisecond),
	)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/"+dispatch.DefaultKernelAPIVersion+"/chat/abort", w.AbortHandler())
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return w.Run(ctx)
	})
	eg.Go(func() error {
		log.Info().Str("component", "echo-worker").Str("addr", listenAddr).Msg("serving abort endpoint")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return eg.Wait()
}

func main() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "log level override (trace, debug, info, warn, error)")
	rootCmd.Flags().StringVar(&listenAddr, "listen", ":9000", "address for the kernel abort endpoint")
	rootCmd.Flags().IntVar(&chunkSize, "chunk-size", 4, "runes per streamed chunk")
	rootCmd.Flags().IntVar(&delayMs, "delay-ms", 30, "pause between chunks in milliseconds")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
