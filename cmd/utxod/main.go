// Package main provides utxod, the utxoforge JSON-RPC daemon.
package main

import (
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/klingon-exchange/utxoforge/internal/backend"
	"github.com/klingon-exchange/utxoforge/internal/chain"
	"github.com/klingon-exchange/utxoforge/internal/config"
	"github.com/klingon-exchange/utxoforge/internal/rpc"
	"github.com/klingon-exchange/utxoforge/internal/service"
	"github.com/klingon-exchange/utxoforge/internal/storage"
	"github.com/klingon-exchange/utxoforge/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	var (
		dataDir     = flag.String("data-dir", config.DefaultDataDir, "Data directory")
		network     = flag.String("network", "", "Default network, overrides config (mainnet, testnet, testnet4, signet, fractal, fractal-testnet)")
		apiAddr     = flag.String("api", "", "JSON-RPC API address, overrides config")
		feeRate     = flag.Float64("fee-rate", 0, "Default fee rate in sat/vB, overrides config")
		noJournal   = flag.Bool("no-journal", false, "Do not record broadcasts in the local database")
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error), overrides config")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	log := logging.New(&logging.Config{
		Level:      "info",
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("utxod %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	cfg, err := config.LoadConfig(*dataDir)
	if err != nil {
		log.Fatal("Failed to load config", "error", err)
	}

	// CLI flags take precedence over the config file.
	if *network != "" {
		cfg.Network = chain.NetworkID(*network)
	}
	if *apiAddr != "" {
		cfg.RPC.ListenAddr = *apiAddr
	}
	if *feeRate > 0 {
		cfg.FeeRate = *feeRate
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	chains := chain.DefaultRegistry()
	if err := cfg.Validate(chains); err != nil {
		log.Fatal("Invalid config", "error", err)
	}

	output := io.Writer(os.Stderr)
	if cfg.Logging.File != "" {
		f, err := os.OpenFile(config.ExpandPath(cfg.Logging.File), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			log.Fatal("Failed to open log file", "path", cfg.Logging.File, "error", err)
		}
		defer f.Close()
		output = f
	}
	log = logging.New(&logging.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		TimeFormat: time.TimeOnly,
		Output:     output,
	})
	logging.SetDefault(log)

	log.Info("Config loaded", "path", config.ConfigPath(*dataDir))

	var store *storage.Storage
	if !*noJournal {
		dataPath := config.ExpandPath(cfg.Storage.DataDir)
		store, err = storage.New(&storage.Config{DataDir: dataPath})
		if err != nil {
			log.Fatal("Failed to initialize storage", "error", err)
		}
		defer store.Close()
		log.Info("Broadcast journal opened", "path", store.Path())
	}

	backends, err := backend.NewDefaultRegistry(chains, cfg.Backends)
	if err != nil {
		log.Fatal("Failed to initialize backends", "error", err)
	}
	defer backends.CloseAll()
	log.Info("Backend registry initialized", "networks", backends.List())

	svc, err := service.New(&service.Config{
		Chains:         chains,
		Backends:       backends,
		Store:          store,
		Logger:         log.Component("service"),
		DefaultNetwork: cfg.Network,
		DefaultFeeRate: cfg.FeeRate,
		EVMEndpoints:   cfg,
	})
	if err != nil {
		log.Fatal("Failed to create service", "error", err)
	}

	rpcServer := rpc.NewServer(svc)
	if err := rpcServer.Start(cfg.RPC.ListenAddr); err != nil {
		log.Fatal("Failed to start RPC server", "error", err)
	}

	printBanner(log, cfg, backends, rpcServer.Addr())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	log.Info("Shutting down...")

	if err := rpcServer.Stop(); err != nil {
		log.Error("Error stopping RPC server", "error", err)
	}

	log.Info("Goodbye!")
}

func printBanner(log *logging.Logger, cfg *config.Config, backends *backend.Registry, apiAddr string) {
	log.Info("")
	log.Info("=================================================")
	log.Infof("  utxoforge daemon (%s)", cfg.Network)
	log.Infof("  Version: %s", version)
	log.Info("=================================================")
	log.Info("")
	log.Infof("  API: http://%s", apiAddr)
	log.Infof("  WS:  ws://%s/ws", apiAddr)
	log.Info("")
	for _, id := range backends.List() {
		if b, ok := backends.Get(id); ok {
			log.Infof("  %-16s %-8s %s", id, b.Type(), b.Endpoint())
		}
	}
	log.Info("")
	log.Infof("  Address type: %s | Fee rate: %.1f sat/vB", cfg.DefaultAddressType(), cfg.FeeRate)
	log.Infof("  Data dir: %s", config.ExpandPath(cfg.Storage.DataDir))
	log.Info("=================================================")
	log.Info("")
}
