package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/dps_blobs/cmd/internal/logcfg"
	"github.com/danmuck/dps_blobs/src/config"
	"github.com/danmuck/dps_blobs/src/server"
	"github.com/danmuck/dps_blobs/src/transport/relay"
	logs "github.com/danmuck/smplog"
)

func main() {
	logs.Configure(logcfg.Load())

	relayURL := flag.String("relay", "ws://localhost:8180/ws", "relay websocket URL")
	configPath := flag.String("config", "", "path to TOML config file")
	dataDir := flag.String("data", "", "directory for persisted files (default: memory only)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			logs.Fatalf(err, "failed to load config")
		}
	}
	if *dataDir != "" {
		cfg.StorageDir = *dataDir
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus, err := relay.Dial(ctx, *relayURL)
	if err != nil {
		logs.Fatalf(err, "failed to connect to relay")
	}
	defer bus.Close()

	srv, err := server.New(bus, cfg)
	if err != nil {
		logs.Fatalf(err, "failed to initialize server")
	}
	if err := srv.Start(ctx); err != nil {
		logs.Fatalf(err, "failed to start server")
	}
	logs.Infof("blob server running (relay: %s, max file: %d bytes, chunk: %d bytes)",
		*relayURL, cfg.MaxFileSize, cfg.ChunkSize)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logs.Infof("shutting down")
	srv.Stop()
}
