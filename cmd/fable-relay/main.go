// fable-relay is the realtime session backend for story saves: an
// append-only event log per (user, save) with replayable delivery,
// per-device ack cursors, and streamed LLM chat.
//
// It reads configuration from relay.json in the working directory,
// connects to PostgreSQL, bootstraps the schema, and serves the duplex
// session endpoint.
//
// Usage:
//
//	./fable-relay             # reads ./relay.json, starts server
//	docker compose up -d      # runs via Docker with mounted config
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/fablehq/fable-relay/internal/auth"
	"github.com/fablehq/fable-relay/internal/config"
	"github.com/fablehq/fable-relay/internal/database"
	"github.com/fablehq/fable-relay/internal/llm"
	"github.com/fablehq/fable-relay/internal/notify"
	"github.com/fablehq/fable-relay/internal/save"
	"github.com/fablehq/fable-relay/internal/server"
	"github.com/fablehq/fable-relay/internal/session"
	"github.com/fablehq/fable-relay/internal/stream"
	"github.com/fablehq/fable-relay/internal/usage"
)

// tokenIssuer is stamped into minted session tokens.
const tokenIssuer = "fable-relay"

func main() {
	logger := zerolog.New(os.Stdout).With().
		Timestamp().
		Str("service", "fable-relay").
		Logger()
	logger.Info().Msg("fable-relay starting")

	cfg, err := config.Load("relay.json")
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	logger.Info().
		Str("listen", cfg.ListenAddr).
		Str("db", cfg.DBConn+"/"+cfg.DBName).
		Str("notifier", cfg.Notifier).
		Str("llm_mode", cfg.LLM.Mode).
		Msg("config loaded")

	// Root context cancelled on SIGINT or SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
	}()

	// Connect to PostgreSQL and bootstrap schema.
	db, err := database.Open(ctx, cfg.ConnString())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()
	logger.Info().Msg("database connected, schema bootstrapped")

	notifier, err := newNotifier(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("notifier", cfg.Notifier).Msg("failed to connect notifier")
	}
	defer notifier.Close()

	deps := session.Deps{
		Auth:              auth.NewManager(cfg.JWTSecret, tokenIssuer),
		Saves:             save.NewPGStore(db),
		Log:               stream.NewLog(stream.NewPGStore(db), notifier, logger),
		LLM:               newLLMClient(cfg, logger),
		Usage:             usage.NewPGStore(db),
		Logger:            logger,
		MaxDevicesPerSave: cfg.MaxDevicesPerSave,
		MaxDeviceIDLen:    cfg.MaxDeviceIDLen,
	}

	// Start the HTTP server (blocks until context is cancelled).
	srv := server.New(cfg, deps, logger)
	if err := srv.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}

	logger.Info().Msg("fable-relay stopped")
}

// newNotifier builds the configured append fan-out backend.
func newNotifier(ctx context.Context, cfg *config.Config) (notify.Notifier, error) {
	switch cfg.Notifier {
	case config.NotifierRedis:
		return notify.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	case config.NotifierNATS:
		return notify.NewNATS(cfg.NATSURL)
	default:
		return notify.NewMemory(), nil
	}
}

// newLLMClient builds the configured upstream chat client.
func newLLMClient(cfg *config.Config, logger zerolog.Logger) llm.Client {
	if cfg.LLM.Mode == config.LLMModeVendor {
		return llm.NewVendor(cfg.LLM, logger)
	}
	return llm.NewSynthetic()
}
