package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/whatislife/savekeeper/pkg/api"
	"github.com/whatislife/savekeeper/pkg/app"
	"github.com/whatislife/savekeeper/pkg/config"
	"github.com/whatislife/savekeeper/pkg/log"
	"github.com/whatislife/savekeeper/pkg/network"
	"github.com/whatislife/savekeeper/pkg/version"
	"github.com/whatislife/savekeeper/pkg/workers"
)

func main() {
	cfg, err := config.ParseEnv()
	if err != nil {
		panic(fmt.Sprintf("Failed to read configuration: %v", err))
	}

	host := flag.String("host", cfg.Host, "address to listen on (0.0.0.0 for every interface)")
	port := flag.Int("port", cfg.Port, "port to listen on")
	dataDir := flag.String("data-dir", cfg.AppDataDir, "app data directory (default: per-user config directory)")
	databaseURL := flag.String("database-url", cfg.DatabaseURL, "save store: sqlite://, postgresql://... or redis://...")
	logLevel := flag.String("log-level", cfg.LogLevel, "Log level")
	autoBan := flag.Bool("auto-ban", cfg.AutoBan, "ban LAN peers that send implausible states")
	flag.Parse()
	cfg.Host = *host
	cfg.Port = *port
	cfg.AppDataDir = *dataDir
	cfg.DatabaseURL = *databaseURL
	cfg.AutoBan = *autoBan

	parsedLogLevel, err := log.ParseLogLevel(*logLevel)
	if err != nil {
		panic(fmt.Sprintf("Failed to parse log level: %v", err))
	}

	logger := log.New(os.Stdout, "", log.DefaultLoggerFlag, parsedLogLevel)
	log.SetDefaultLogger(logger)
	log.Info("Log level set to %s", parsedLogLevel)

	log.Info("Starting savekeeper server version %s", version.Get())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.Open(ctx, cfg)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize: %v", err))
	}
	defer a.Close(context.Background())
	log.Info("App data directory is %s", a.Layout.Root)

	if cfg.AutoBan {
		log.Warn("Auto-ban is on: LAN peers are trusted to send their own player id")
	}

	if descriptor, err := a.CheckForUpdatesIfDue(ctx); err != nil {
		log.Error("Automatic update check failed: %v", err)
	} else if descriptor != nil && descriptor.HasUpdate {
		log.Info("Version %s is available: %s", descriptor.LatestVersion, descriptor.ChangelogURL)
	}

	peerStateChannelSize := 100
	peerStateChan := make(chan workers.PeerStateRequest, peerStateChannelSize)
	peerStateWorker := workers.NewPeerStateWorker(workers.NewPeerStateWorkerOptions{
		Repository:    a.Repository,
		Bans:          a.Bans,
		Checker:       a.Validator,
		AutoBan:       cfg.AutoBan,
		PeerStateChan: peerStateChan,
	})
	go peerStateWorker.Start(ctx)

	apiServerOpts := api.NewAPIServerOptions{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Commands: a.Commands,
		APIToken: cfg.APIToken,
		PeerStates: network.NewPeerStateHandler(network.NewPeerStateHandlerOptions{
			PeerStateChan:  peerStateChan,
			OriginPatterns: cfg.AllowedOrigins,
		}),
	}
	tlsCertFile := os.Getenv("SAVEKEEPER_API_TLS_CERT_FILE")
	tlsKeyFile := os.Getenv("SAVEKEEPER_API_TLS_KEY_FILE")
	if tlsCertFile != "" && tlsKeyFile != "" {
		apiServerOpts.TLS = &api.TLSConfig{
			CertFile: tlsCertFile,
			KeyFile:  tlsKeyFile,
		}
	}
	server := api.NewAPIServer(apiServerOpts)
	go server.Start()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	<-interrupt
	log.Info("Shutting down")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := server.Stop(stopCtx); err != nil {
		log.Error("Failed to stop server: %v", err)
	}
	cancel()
}
