package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rexliu/w3abridge/pkg/config"
	"github.com/rexliu/w3abridge/pkg/ipc"
	"github.com/rexliu/w3abridge/pkg/logging"
)

// The host launches the bridge with stdin/stdout as the channel, so every
// log line goes to stderr.
func main() {
	profile := flag.String("profile", "./_dev_profile", "Path to profile directory")
	socket := flag.String("socket", "", "Override daemon socket path")
	flag.Parse()

	logger := logging.NewWriter("w3ad-bridge", os.Stderr)
	socketPath := *socket
	maxFrame := ipc.DefaultMaxFrame
	if cfg, err := config.LoadProfile(*profile); err == nil {
		logCfg := cfg.Logging
		logCfg.FilePath = config.ResolvePath(*profile, logCfg.FilePath)
		configured, closer, err := logging.Configure("w3ad-bridge", os.Stderr, logCfg)
		if err == nil {
			defer closer.Close()
			logger = configured
		}
		if socketPath == "" {
			socketPath = config.ResolvePath(*profile, cfg.IPC.SocketPath)
		}
		if cfg.IPC.MaxFrameBytes > 0 {
			maxFrame = cfg.IPC.MaxFrameBytes
		}
	} else if socketPath == "" {
		fmt.Fprintf(os.Stderr, "bridge: load profile: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client, err := ipc.Dial(ctx, socketPath, ipc.WithMaxFrame(maxFrame))
	if err != nil {
		logger.Error().Err(err).Msg("daemon unavailable")
		os.Exit(1)
	}
	defer client.Close()

	logger.Info().Str("socket", socketPath).Msg("bridge ready")
	if err := serve(ctx, os.Stdin, os.Stdout, client, maxFrame, logger); err != nil {
		logger.Error().Err(err).Msg("bridge exiting")
		return
	}
	logger.Info().Msg("host closed the channel")
}
