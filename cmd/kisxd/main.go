package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"kisx/config"
	"kisx/core/events"
	"kisx/core/state"
	"kisx/indexer"
	nativecommon "kisx/native/common"
	"kisx/native/market"
	"kisx/native/registry"
	"kisx/observability/logging"
	"kisx/observability/metrics"
	"kisx/rpc"
	"kisx/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("KISX_ENV"))
	logger := logging.Setup("kisxd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}
	if env == "" {
		env = cfg.Environment
	}

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "market"))
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	admin, err := cfg.Admin()
	if err != nil {
		logger.Error("Invalid admin address", slog.Any("error", err))
		os.Exit(1)
	}
	mintPrice, err := cfg.MintPrice()
	if err != nil {
		logger.Error("Invalid mint price", slog.Any("error", err))
		os.Exit(1)
	}

	manager := state.NewManager(db)
	operator := market.ModuleAddress()
	assets := registry.New(db, operator)

	idx, err := indexer.Open(cfg.IndexerPath, logger)
	if err != nil {
		logger.Error("Failed to open event index", slog.Any("error", err))
		os.Exit(1)
	}
	emitter := events.MultiEmitter{idx, metrics.NewEmitter()}
	pauses := nativecommon.NewPauseSet(cfg.PausedModules)

	lots := market.NewEngine()
	lots.SetState(manager)
	lots.SetRegistry(assets)
	lots.SetAdmin(admin)
	lots.SetOperator(operator)
	lots.SetEmitter(emitter)
	lots.SetPauses(pauses)

	listings := market.NewListingEngine()
	listings.SetState(manager)
	listings.SetRegistry(assets)
	listings.SetAdmin(admin)
	listings.SetOperator(operator)
	listings.SetEmitter(emitter)
	listings.SetPauses(pauses)

	// The configured fee seeds storage once; after that the stored value is
	// authoritative and changes go through market_setMintPrice.
	stored, err := manager.MintPrice()
	if err != nil {
		logger.Error("Failed to read mint price", slog.Any("error", err))
		os.Exit(1)
	}
	if stored.Sign() == 0 && mintPrice.Sign() > 0 {
		if err := manager.SetMintPrice(mintPrice); err != nil {
			logger.Error("Failed to seed mint price", slog.Any("error", err))
			os.Exit(1)
		}
	}

	logger.Info("market engines ready",
		slog.String("environment", env),
		slog.String("dataDir", cfg.DataDir),
		slog.String("mintPrice", mintPrice.String()),
	)

	server := rpc.NewServer(lots, listings, idx, cfg.RPCAuthToken, logger)
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("RPC server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
