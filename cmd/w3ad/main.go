package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/rexliu/w3abridge/pkg/config"
	"github.com/rexliu/w3abridge/pkg/dispatch"
	"github.com/rexliu/w3abridge/pkg/ipc"
	"github.com/rexliu/w3abridge/pkg/logging"
	"github.com/rexliu/w3abridge/pkg/sdk/sandbox"
	"github.com/rexliu/w3abridge/pkg/session"
	"github.com/rexliu/w3abridge/pkg/storage/sqlite"
)

var version = "dev"

func main() {
	profile := flag.String("profile", "./_dev_profile", "Path to profile directory")
	socket := flag.String("socket", "", "Override IPC socket path (optional)")
	flag.Parse()

	boot := logging.New("w3ad")
	cfg, err := loadOrCreateProfile(*profile, boot)
	if err != nil {
		boot.Error().Err(err).Msg("load profile")
		os.Exit(1)
	}
	logCfg := cfg.Logging
	logCfg.FilePath = config.ResolvePath(*profile, logCfg.FilePath)
	logger, closer, err := logging.Configure("w3ad", os.Stdout, logCfg)
	if err != nil {
		boot.Error().Err(err).Msg("configure logging")
		os.Exit(1)
	}
	defer closer.Close()
	logger.Info().Str("profile", *profile).Str("version", version).Msg("starting daemon")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *profile, *socket, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("fatal error")
		closer.Close()
		os.Exit(1)
	}
}

func loadOrCreateProfile(profileDir string, logger zerolog.Logger) (*config.ProfileConfig, error) {
	cfg, err := config.LoadProfile(profileDir)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	cfg = config.DefaultProfile(filepath.Base(profileDir))
	if err := config.Save(filepath.Join(profileDir, config.FileName), cfg); err != nil {
		return nil, fmt.Errorf("write default profile: %w", err)
	}
	logger.Info().Str("profile", profileDir).Msg("wrote default profile")
	return config.LoadProfile(profileDir)
}

// daemon holds what the control handlers need.
type daemon struct {
	cfg      *config.ProfileConfig
	store    *sqlite.Store
	sessions session.Holder
	router   *dispatch.Router
	events   *eventHub
	logger   zerolog.Logger
	started  int64
}

func run(ctx context.Context, profileDir, socketOverride string, cfg *config.ProfileConfig, logger zerolog.Logger) error {
	if err := os.MkdirAll(profileDir, 0o700); err != nil {
		return err
	}
	store, err := sqlite.Open(config.ResolvePath(profileDir, cfg.Storage.DBPath), sqlite.Options{
		JournalMode: cfg.Storage.JournalMode,
		Synchronous: cfg.Storage.Synchronous,
	})
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	defer store.Close()
	if err := store.Init(ctx); err != nil {
		return fmt.Errorf("init sqlite: %w", err)
	}

	key, err := loadSigningKey(config.ResolvePath(profileDir, signingKeyPath(cfg)))
	if err != nil {
		return fmt.Errorf("signing key: %w", err)
	}
	latency, err := cfg.LatencyDuration()
	if err != nil {
		return err
	}
	retention, err := cfg.RetentionDuration()
	if err != nil {
		return err
	}
	factory, err := sandbox.NewFactory(sandbox.Options{
		Issuer:     cfg.SDK.Issuer,
		SigningKey: key,
		Store:      store,
		Latency:    latency,
		Logger:     logger.With().Str("subsystem", "sdk").Logger(),
	})
	if err != nil {
		return fmt.Errorf("sdk: %w", err)
	}

	sessions := session.NewStore()
	router := dispatch.NewRouter(sessions, factory.New)
	events := newEventHub(logger)
	journal := newJournal(store, logger, retention)
	d := dispatch.New(router, logger.With().Str("subsystem", "dispatch").Logger(), journal, events)

	jctx, stopJournal := context.WithCancel(context.Background())
	journalDone := make(chan struct{})
	go func() {
		defer close(journalDone)
		journal.run(jctx)
	}()
	defer func() {
		stopJournal()
		<-journalDone
	}()

	socketPath := socketOverride
	if socketPath == "" {
		socketPath = config.ResolvePath(profileDir, cfg.IPC.SocketPath)
	}
	if err := cleanupSocket(socketPath); err != nil {
		return err
	}

	srv := ipc.NewServer(d, logger.With().Str("subsystem", "ipc").Logger(), ipc.Options{MaxFrameBytes: cfg.IPC.MaxFrameBytes})
	dm := &daemon{
		cfg:      cfg,
		store:    store,
		sessions: sessions,
		router:   router,
		events:   events,
		logger:   logger,
		started:  nowMillis(),
	}
	dm.registerHandlers(srv)

	if err := srv.Start(ctx, socketPath); err != nil {
		return fmt.Errorf("start ipc: %w", err)
	}
	defer func() {
		srv.Stop()
		srv.Wait()
		cleanupSocket(socketPath)
	}()

	logger.Info().Str("socket", socketPath).Int("commands", len(router.Commands())).Msg("daemon ready")

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	return nil
}

func signingKeyPath(cfg *config.ProfileConfig) string {
	if cfg.SDK.SigningKeyPath != "" {
		return cfg.SDK.SigningKeyPath
	}
	return "signing.key"
}

func cleanupSocket(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return err
		}
	}
	return nil
}
