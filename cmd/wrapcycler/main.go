// Command wrapcycler repeatedly wraps and unwraps a random share of each
// configured wallet's balance through a WETH9 contract.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/gateway-fm/wrapcycler/internal/config"
	"github.com/gateway-fm/wrapcycler/internal/metrics"
	"github.com/gateway-fm/wrapcycler/internal/pipeline"
	"github.com/gateway-fm/wrapcycler/internal/price"
	"github.com/gateway-fm/wrapcycler/internal/report"
	"github.com/gateway-fm/wrapcycler/internal/rpc"
	"github.com/gateway-fm/wrapcycler/internal/scheduler"
	"github.com/gateway-fm/wrapcycler/internal/storage"
	"github.com/gateway-fm/wrapcycler/internal/transport"
	"github.com/gateway-fm/wrapcycler/internal/txbuilder"
	"github.com/gateway-fm/wrapcycler/internal/weth"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("run interrupted")
			return
		}
		logger.Error("wrapcycler failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	wallets, err := cfg.Wallets()
	if err != nil {
		return fmt.Errorf("load wallets: %w", err)
	}

	rpcCfg := rpc.DefaultClientConfig(cfg.RPCURL)
	rpcCfg.Logger = logger
	client := rpc.NewHTTPClient(rpcCfg)

	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID == 0 {
		if chainID, err = client.ChainID(ctx); err != nil {
			return fmt.Errorf("query chain id: %w", err)
		}
	}
	token := cfg.WETH()

	logger.Info("starting wrapcycler",
		"rpc", cfg.RPCURL,
		"chainId", chainID.String(),
		"weth", token.Hex(),
		"wallets", len(wallets),
		"iterations", cfg.Iterations,
		"legacy", cfg.UseLegacy,
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := metrics.NewPrometheusMetrics(reg)
	collector := metrics.NewCollector(prom)

	pipe := pipeline.New(pipeline.Config{
		Client:         client,
		Registry:       txbuilder.NewDefaultRegistry(token, cfg.WrapGasLimit, cfg.UnwrapGasLimit),
		ChainID:        chainID,
		GasTipCap:      big.NewInt(cfg.GasTipCap),
		GasFeeCap:      big.NewInt(cfg.GasFeeCap),
		UseLegacy:      cfg.UseLegacy,
		ConfirmTimeout: cfg.ConfirmTimeout,
		Logger:         logger,
	})
	ledger := weth.NewReader(client)

	ctrlCfg := scheduler.ControllerConfig{
		Observer: collector,
		Logger:   logger,
	}

	var store storage.Storage
	if cfg.DatabasePath != "" {
		sqlite, err := storage.NewSQLiteStorage(cfg.DatabasePath)
		if err != nil {
			return fmt.Errorf("initialize storage: %w", err)
		}
		defer sqlite.Close()
		store = sqlite
		ctrlCfg.Recorder = sqlite
		logger.Info("initialized storage", "path", cfg.DatabasePath)
	}

	if cfg.ReportBalances {
		gecko := price.DefaultCoinGeckoConfig(cfg.PriceAPIURL)
		gecko.Logger = logger
		ctrlCfg.Reporter = report.New(report.Config{
			Ledger:  ledger,
			Token:   token,
			Prices:  price.NewCoinGecko(gecko),
			AssetID: cfg.PriceAsset,
			Gauge:   prom,
			Logger:  logger,
		})
	}

	if cfg.ListenAddr != "" {
		shutdown := serveStatus(cfg, collector, store, reg, client, logger)
		defer shutdown()
	}

	executor := scheduler.NewExecutor(scheduler.ExecutorConfig{
		Submitter: pipe,
		Observer:  collector,
		Logger:    logger,
	})
	batch := scheduler.NewBatchRunner(scheduler.BatchConfig{
		Executor:    executor,
		MinTimes:    cfg.MinTimes,
		MaxTimes:    cfg.MaxTimes,
		MinPct:      cfg.MinPct,
		MaxPct:      cfg.MaxPct,
		MinDelaySec: cfg.MinDelaySec,
		MaxDelaySec: cfg.MaxDelaySec,
		Logger:      logger,
	})
	ctrlCfg.Cycles = scheduler.NewOrchestrator(scheduler.OrchestratorConfig{
		Ledger:    ledger,
		Token:     token,
		Batch:     batch,
		RandFor:   scheduler.SeededStreams(uint64(cfg.Seed)),
		ReadAfter: true,
		Observer:  collector,
		Logger:    logger,
	})

	_, err = scheduler.NewController(ctrlCfg).Run(ctx, wallets, cfg.Iterations)
	return err
}

// serveStatus starts the status API and returns a function that shuts it down.
func serveStatus(cfg *config.Config, collector *metrics.Collector, store storage.Storage,
	reg *prometheus.Registry, client rpc.Client, logger *slog.Logger) func() {
	srvCfg := transport.Config{
		Status:             collector,
		Gatherer:           reg,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		Logger:             logger,
		Health: transport.HealthFunc(func(ctx context.Context) error {
			_, err := client.ChainID(ctx)
			return err
		}),
	}
	if store != nil {
		srvCfg.History = store
	}
	server := transport.NewServer(srvCfg)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("starting HTTP server", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "error", err)
		}
	}()

	return func() {
		server.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Warn("HTTP server shutdown", "error", err)
		}
	}
}
