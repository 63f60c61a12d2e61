package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"lend_go/internal/app"
	"lend_go/internal/domain"
	"lend_go/internal/engine"
	"lend_go/internal/infra"
	"lend_go/internal/infra/chain"
	"lend_go/internal/service"
	"lend_go/internal/tracker"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	// 1. Pprof Server (for performance profiling)
	go func() {
		// Localhost only for security
		slog.Info("🕵️ Pprof server started on localhost:6060")
		if err := http.ListenAndServe("localhost:6060", nil); err != nil {
			slog.Error("Pprof server failed", slog.Any("error", err))
		}
	}()

	// 2. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	cfg := bootstrap.Config

	// 3. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Background Asset Sync (Simulating Loading Screen logic)
	go bootstrap.SyncAssets(ctx)

	// 5. Market Data Service + Price Feeds
	markets := service.NewMarketDataService()
	markets.SetMarkets(bootstrap.BuildMarkets())
	markets.StartQuoteProcessor(ctx)

	if cfg.Feed.WSURL != "" {
		feed := infra.NewFeedWorker(cfg.Feed.WSURL, markets.Symbols(), markets.GetQuoteChan())
		if err := feed.Connect(ctx); err != nil {
			slog.Error("Failed to connect price feed", slog.Any("error", err))
		}
		defer feed.Disconnect()
		slog.InfoContext(ctx, "✅ FeedWorker started", slog.Int("symbols", len(cfg.Markets)))
	}

	oracle := infra.NewOracleClientWithConfig(markets.ApplyQuotes, cfg.Feed.OracleURL, cfg.Feed.PollIntervalSec)
	if err := oracle.Start(ctx); err != nil {
		slog.Error("Failed to start oracle client", slog.Any("error", err))
	}
	defer oracle.Stop()

	// 6. Chain Access
	client, err := ethclient.DialContext(ctx, cfg.Chain.RPCURL)
	if err != nil {
		slog.Error("❌ RPC dial failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer client.Close()
	slog.InfoContext(ctx, "✅ RPC connected", slog.String("url", cfg.Chain.RPCURL))

	var bridge domain.WalletBridge = chain.NoWallet{}
	if hexKey := os.Getenv("LEND_PRIVATE_KEY"); hexKey != "" {
		wallet, err := chain.NewLocalWallet(hexKey, client, cfg.Chain.ChainID)
		if err != nil {
			slog.Error("❌ Wallet init failed", slog.Any("error", err))
			os.Exit(1)
		}
		bridge = wallet
		slog.InfoContext(ctx, "✅ Local wallet ready", slog.String("address", wallet.Address().Hex()))
	}

	gateway := chain.NewGateway(client, bridge, markets, cfg.Chain.GasLimit)
	events := chain.NewEventSource(client, markets)

	trackerCfg := tracker.DefaultConfig()
	if cfg.Tracker.PollIntervalSec > 0 {
		trackerCfg.PollInterval = time.Duration(cfg.Tracker.PollIntervalSec) * time.Second
	}
	if cfg.Tracker.TimeoutSec > 0 {
		trackerCfg.Timeout = time.Duration(cfg.Tracker.TimeoutSec) * time.Second
	}
	if cfg.Tracker.ScanWindowBlocks > 0 {
		trackerCfg.ScanWindowBlocks = cfg.Tracker.ScanWindowBlocks
	}
	if cfg.Tracker.MaxBlocksPerScan > 0 {
		trackerCfg.MaxBlocksPerScan = cfg.Tracker.MaxBlocksPerScan
	}
	confirmTracker := tracker.New(events, trackerCfg)
	confirmTracker.SetMetrics(infra.GlobalMetrics)
	defer confirmTracker.Reset()

	gate := service.NewApprovalGate(gateway, markets)
	gate.SetMetrics(infra.GlobalMetrics)
	if cfg.Approval.WaitIntervalSec > 0 && cfg.Approval.WaitTimeoutSec > 0 {
		gate.SetWaitBudget(
			time.Duration(cfg.Approval.WaitIntervalSec)*time.Second,
			time.Duration(cfg.Approval.WaitTimeoutSec)*time.Second,
		)
	}

	// 7. Periodic Portfolio Risk Report + Dry-Run Previews
	riskEngine := engine.NewRiskEngine()
	if cfg.Account != "" {
		account := common.HexToAddress(cfg.Account)
		go reportLoop(ctx, riskEngine, markets, gateway, account)
		go previewLoop(ctx, cfg, account, riskEngine, markets, gateway, gate, confirmTracker, bootstrap)
		slog.InfoContext(ctx, "✅ Risk reporting started", slog.String("account", account.Hex()))
	}

	slog.InfoContext(ctx, "✨ Lend Go fully operational. Press Ctrl+C to exit.")

	// Wait for shutdown signal
	<-ctx.Done()

	slog.InfoContext(ctx, "👋 Shutting down gracefully...")
}

// reportLoop periodically recomputes and logs the account's portfolio risk.
func reportLoop(ctx context.Context, riskEngine *engine.RiskEngine, markets *service.MarketDataService, gateway *chain.Gateway, account common.Address) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		all := markets.Snapshot()
		positions := make(map[string]*domain.Position, len(all))
		failed := false
		for _, m := range all {
			pos, err := gateway.GetPosition(ctx, m.ID, account)
			if err != nil {
				slog.Warn("Position read failed", slog.String("market", m.ID), slog.Any("error", err))
				failed = true
				break
			}
			if pos != nil {
				positions[m.ID] = pos
			}
		}
		if failed {
			continue
		}

		snap := riskEngine.CalculatePortfolio(account, all, positions)
		slog.Info("📊 Portfolio",
			slog.String("collateral_usd", snap.TotalCollateralValue.StringFixed(2)),
			slog.String("debt_usd", snap.TotalBorrowValue.StringFixed(2)),
			slog.String("health_factor", snap.HealthFactor.StringFixed(2)),
			slog.String("borrow_power_usd", snap.BorrowingPowerRemaining.StringFixed(2)),
			slog.Bool("prices_incomplete", snap.PriceDataIncomplete),
		)
	}
}

// previewLoop walks a wizard through a dry-run supply flow for the first
// configured market and logs the projection. Nothing is ever committed;
// this keeps the full flow exercised in headless operation.
func previewLoop(
	ctx context.Context,
	cfg *infra.Config,
	account common.Address,
	riskEngine *engine.RiskEngine,
	markets *service.MarketDataService,
	gateway *chain.Gateway,
	gate *service.ApprovalGate,
	confirmTracker *tracker.ConfirmationTracker,
	bootstrap *app.Bootstrap,
) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		wizard := service.NewTransactionWizard(
			domain.ActionSupply, account, riskEngine, markets, gateway, gate, confirmTracker,
		)
		wizard.SetHistory(bootstrap.Storage)
		wizard.SetMetrics(infra.GlobalMetrics)

		if err := wizard.SelectMarket(cfg.Markets[0].ID); err != nil {
			slog.Warn("Preview select failed", slog.Any("error", err))
			continue
		}
		if err := wizard.LoadRiskData(ctx); err != nil {
			slog.Warn("Preview risk load failed", slog.Any("error", err))
			continue
		}
		if err := wizard.QuickAmount(25); err != nil {
			slog.Debug("Preview amount unavailable", slog.Any("error", err))
			wizard.Close()
			continue
		}
		if proj := wizard.Preview(); proj != nil {
			slog.Info("🔍 Dry-run supply preview",
				slog.String("market", cfg.Markets[0].ID),
				slog.String("new_health_factor", proj.NewHealthFactor.StringFixed(2)),
				slog.String("risk", string(proj.Risk)),
			)
		}
		wizard.Close()

		stats := infra.GlobalMetrics.Snapshot()
		slog.Debug("Metrics",
			slog.Uint64("actions_submitted", stats.ActionsSubmitted),
			slog.Uint64("actions_confirmed", stats.ActionsConfirmed),
			slog.Int("active_connections", int(stats.ActiveConnections)),
		)
	}
}
