// Command options-engine runs the Bitcoin options seller backend: it fuses
// spot/IV/pool market data, prices and serves the quotable option grid,
// underwrites incoming contract submissions against available collateral,
// and persists accepted contracts.
package main

import (
	"context"
	"fmt"
	"net/rpc"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"optionsengine/internal/config"
	"optionsengine/internal/grid"
	"optionsengine/internal/httpapi"
	"optionsengine/internal/infrastructure/health"
	"optionsengine/internal/marketdata"
	"optionsengine/internal/risk"
	"optionsengine/internal/store"
	"optionsengine/internal/underwrite"
	"optionsengine/pkg/httpclient"
	"optionsengine/pkg/logging"
	"optionsengine/pkg/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := os.Getenv("OPTIONS_ENGINE_CONFIG")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.NewZapLogger(cfg.System.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger.Info("starting options-engine", "pool_network", cfg.Pool.Network, "listen_addr", cfg.System.ListenAddr)

	telem, err := telemetry.Setup("options-engine")
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	contractStore, err := store.Open(cfg.Storage.SQLitePath)
	if err != nil {
		return fmt.Errorf("open contract store: %w", err)
	}

	riskMgr := risk.NewManager(risk.Config{
		CollateralRate: decimal.NewFromFloat(cfg.Risk.CollateralRate),
		RiskMargin:     decimal.NewFromFloat(cfg.Risk.RiskMargin),
		RiskFreeRate:   cfg.Risk.RiskFreeRate,
	})

	spotSource := marketdata.NewSpotSource(cfg.Upstream.AggregatorURL, cfg.Pool.Network, logger)
	ivClient := httpclient.NewClient(cfg.Upstream.DeribitAPIURL, 10*time.Second, nil)
	ivSource := marketdata.NewIVSource(ivClient, logger)
	poolClient := httpclient.NewClient(cfg.Upstream.PoolAPIURL, 10*time.Second, nil)
	poolSource := marketdata.NewPoolSource(poolClient)
	fuser := marketdata.NewFuser(spotSource, ivSource, poolSource, cfg.Risk.RiskFreeRate)

	gridGen := grid.NewGenerator(riskMgr, logger)
	defer gridGen.Stop()

	gate := underwrite.NewGate(fuser, contractStore, riskMgr, logger)

	hm := health.NewHealthManager(logger)
	hm.Register("spot_aggregator", func() error {
		client, err := rpc.Dial("tcp", cfg.Upstream.AggregatorURL)
		if err != nil {
			return err
		}
		return client.Close()
	})
	hm.Register("contract_store", func() error {
		_, err := contractStore.ActiveContracts(context.Background(), time.Now())
		return err
	})

	handlers := &httpapi.Handlers{
		Grid:   gridGen,
		Gate:   gate,
		Store:  contractStore,
		Risk:   riskMgr,
		Market: fuser,
	}
	httpServer := httpapi.NewServer(cfg.System.ListenAddr, logger, hm, handlers)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	if err := spotSource.Warm(groupCtx); err != nil {
		logger.Warn("spot source warm-up failed, continuing with cold cache", "error", err.Error())
	}

	group.Go(func() error {
		return ivSource.Run(groupCtx)
	})

	httpServer.Start()

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown failed", "error", err.Error())
		}
		if err := telem.Shutdown(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown failed", "error", err.Error())
		}
		if err := contractStore.Close(); err != nil {
			logger.Error("contract store close failed", "error", err.Error())
		}
		return nil
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		return err
	}
	logger.Info("options-engine stopped")
	return nil
}
