package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pintochain/config"
	"pintochain/native/silo"
	"pintochain/native/silo/silostate"
	"pintochain/native/well"
	"pintochain/observability/logging"
	"pintochain/rpc"
	"pintochain/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("PINTO_ENV"))
	logger := logging.Setup("silod", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	if env == "" {
		env = cfg.Env
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("Failed to open database", slog.String("dir", cfg.DataDir), slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	store := silostate.NewStore(db)
	engine, _, err := buildEngine(cfg, store, logger)
	if err != nil {
		logger.Error("Failed to wire silo engine", slog.Any("error", err))
		os.Exit(1)
	}

	if addr := strings.TrimSpace(cfg.MetricsAddress); addr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			logger.Info("metrics server listening", slog.String("addr", addr))
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Error("metrics server stopped", slog.Any("error", err))
			}
		}()
	}

	server := rpc.NewServer(engine, cfg.DefaultSlippageBps, logger)
	go func() {
		if err := server.Start(cfg.RPCAddress); err != nil {
			logger.Error("rpc server stopped", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", slog.String("signal", sig.String()))
}

// buildEngine registers the configured whitelist, bootstraps well reserves for
// pool assets and wires the planning engine against the persistent store.
func buildEngine(cfg *config.Config, store *silostate.Store, logger *slog.Logger) (*silo.Engine, *well.ReserveWell, error) {
	whitelist := make([]silo.WhitelistedAsset, 0, len(cfg.Assets))
	var base silo.WhitelistedAsset
	for _, asset := range cfg.Assets {
		addr, err := asset.ParsedAddress()
		if err != nil {
			return nil, nil, err
		}
		seeds, err := asset.Seeds()
		if err != nil {
			return nil, nil, err
		}
		entry := silo.WhitelistedAsset{
			Address:     addr,
			Name:        asset.Name,
			SeedsPerBDV: seeds,
			IsBase:      asset.IsBase,
		}
		whitelist = append(whitelist, entry)
		if asset.IsBase {
			base = entry
		}
	}
	if err := store.SetWhitelist(whitelist); err != nil {
		return nil, nil, fmt.Errorf("persist whitelist: %w", err)
	}

	pool := well.NewReserveWell(base.Address)
	for _, asset := range cfg.Assets {
		if asset.IsBase {
			continue
		}
		addr, err := asset.ParsedAddress()
		if err != nil {
			return nil, nil, err
		}
		baseReserve, tokenReserve, err := asset.Reserves()
		if err != nil {
			return nil, nil, err
		}
		pool.SetReserves(addr, baseReserve, tokenReserve)
	}

	germination, err := cfg.Germination()
	if err != nil {
		return nil, nil, err
	}

	engine := silo.NewEngine(germination)
	engine.SetState(store)
	engine.SetQuoter(pool)
	engine.SetLiquidity(pool)
	engine.SetEmitter(func(evt silo.Event) {
		logger.Info("silo event", slog.String("type", evt.EventType()))
	})

	logger.Info("silo engine ready",
		slog.Int("assets", len(whitelist)),
		slog.String("base", base.Name),
		slog.String("germination_stems", germination.String()),
	)
	return engine, pool, nil
}
