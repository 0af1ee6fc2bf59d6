// Package main provides the lockbridged daemon - the cross-chain swap
// lifecycle and recovery engine.
package main

import (
	"errors"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/lightningnetwork/lnd/clock"

	"github.com/lockbridge-exchange/lockbridge/internal/chain"
	"github.com/lockbridge-exchange/lockbridge/internal/config"
	"github.com/lockbridge-exchange/lockbridge/internal/partialfill"
	"github.com/lockbridge-exchange/lockbridge/internal/recovery"
	"github.com/lockbridge-exchange/lockbridge/internal/resolver"
	"github.com/lockbridge-exchange/lockbridge/internal/rpc"
	"github.com/lockbridge-exchange/lockbridge/internal/storage"
	"github.com/lockbridge-exchange/lockbridge/internal/swap"
	"github.com/lockbridge-exchange/lockbridge/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	// Parse flags
	var (
		dataDir     = flag.String("data-dir", "~/.lockbridge", "Data directory")
		apiAddr     = flag.String("api", "", "JSON-RPC API address, overrides config")
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error), overrides config")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	// Set up logging (initial, may be overridden by config)
	log := logging.New(&logging.Config{
		Level:      "info",
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("lockbridged %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	effectiveDataDir := expandPath(*dataDir)

	// Load or create config file
	cfg, err := config.Load(effectiveDataDir)
	if err != nil {
		log.Fatal("Failed to load config", "error", err)
	}

	// Apply CLI overrides (CLI flags take precedence over config file)
	if *apiAddr != "" {
		cfg.RPC.ListenAddr = *apiAddr
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	// Update logging with config level
	log = logging.New(&logging.Config{
		Level:      cfg.Logging.Level,
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)

	log.Info("Config loaded", "path", config.Path(effectiveDataDir))

	// Initialize storage
	store, err := storage.New(&storage.Config{DataDir: effectiveDataDir})
	if err != nil {
		log.Fatal("Failed to initialize storage", "error", err)
	}
	defer store.Close()
	log.Info("Storage initialized", "path", effectiveDataDir)

	// Build chain observers: endpoints from config, static fallback for
	// chains without one.
	observer := buildObserver(cfg, log)

	clk := clock.NewDefaultClock()

	// Swap state machine
	machine := swap.NewMachine(store, config.DefaultSwapConfig(), clk)
	log.Info("Swap state machine initialized")

	// Resolver ledger, seeded from config on first start
	ledger := resolver.NewLedger(store, clk)
	if err := seedInventory(store, ledger, cfg, log); err != nil {
		log.Fatal("Failed to seed inventory", "error", err)
	}

	resolverEngine := resolver.NewEngine(store, ledger, config.DefaultResolverConfig(), clk, cfg.ResolverID)
	log.Info("Resolver engine initialized", "resolver_id", cfg.ResolverID)

	// Recovery engine with background scheduler and health checks
	recoveryCfg := config.DefaultRecoveryConfig()
	executor := recovery.NewObserverExecutor(observer)
	recoveryEngine := recovery.NewEngine(machine, store, observer, executor, recoveryCfg, clk)

	scheduler := recovery.NewScheduler(recoveryEngine, recoveryCfg)
	scheduler.Start()
	defer scheduler.Stop()

	health := recovery.NewHealthChecker(observer, recoveryCfg)
	health.Start()
	defer health.Stop()
	log.Info("Recovery engine initialized", "poll_interval", recoveryCfg.PollInterval)

	// Partial fill authenticator
	partial := partialfill.NewAuthenticator(store, observer, clk)

	// Start RPC server
	rpcServer := rpc.NewServer(rpc.Deps{
		Machine:  machine,
		Recovery: recoveryEngine,
		Health:   health,
		Resolver: resolverEngine,
		Ledger:   ledger,
		Partial:  partial,
	})
	if err := rpcServer.Start(cfg.RPC.ListenAddr); err != nil {
		log.Fatal("Failed to start RPC server", "error", err)
	}

	printBanner(log, cfg)

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	log.Info("Shutting down...")

	if err := rpcServer.Stop(); err != nil {
		log.Error("Error stopping RPC server", "error", err)
	}

	log.Info("Goodbye!")
}

// buildObserver wires per-chain observers from config endpoints, falling
// back to a static observer for chains without one.
func buildObserver(cfg *config.File, log *logging.Logger) chain.Observer {
	observers := make(map[chain.Name]chain.Observer)

	for name, oc := range cfg.Observers {
		if oc.RPCURL == "" {
			continue
		}
		switch chain.Name(name) {
		case chain.Ethereum:
			eth, err := chain.NewEthereumObserver(oc.RPCURL)
			if err != nil {
				log.Warn("Failed to connect Ethereum observer, using static", "error", err)
				continue
			}
			observers[chain.Ethereum] = eth
			log.Info("Ethereum observer connected", "url", oc.RPCURL)
		case chain.Cosmos:
			observers[chain.Cosmos] = chain.NewCosmosObserver(oc.RPCURL)
			log.Info("Cosmos observer configured", "url", oc.RPCURL)
		default:
			log.Warn("Unknown observer chain in config", "chain", name)
		}
	}

	fallback := chain.NewStaticObserver()
	if len(observers) == 0 {
		return fallback
	}
	return chain.NewMultiObserver(observers, fallback)
}

// seedInventory credits configured balances for (chain, token) pairs that
// have no inventory entry yet. Restarts never double-credit.
func seedInventory(store *storage.Storage, ledger *resolver.Ledger, cfg *config.File, log *logging.Logger) error {
	for _, seed := range cfg.Inventory {
		_, err := store.GetInventory(seed.Chain, seed.Token)
		if err == nil {
			continue
		}
		if !errors.Is(err, storage.ErrInventoryNotFound) {
			return err
		}
		if err := ledger.Deposit(seed.Chain, seed.Token, seed.Balance); err != nil {
			return err
		}
		log.Info("Inventory seeded", "chain", seed.Chain, "token", seed.Token, "balance", seed.Balance)
	}
	return nil
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}

func printBanner(log *logging.Logger, cfg *config.File) {
	log.Info("")
	log.Info("=================================================")
	log.Infof("  Lockbridge Swap Engine")
	log.Infof("  Version: %s", version)
	log.Info("=================================================")
	log.Info("")
	log.Infof("  Resolver: %s", cfg.ResolverID)
	log.Infof("  API: http://%s", cfg.RPC.ListenAddr)
	log.Infof("  WS:  ws://%s/ws", cfg.RPC.ListenAddr)
	log.Infof("  Data dir: %s", cfg.Storage.DataDir)
	log.Info("")
	log.Info("=================================================")
	log.Info("")
}
