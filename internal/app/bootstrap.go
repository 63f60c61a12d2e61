package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"lend_go/internal/domain"
	"lend_go/internal/infra"
	"lend_go/internal/infra/storage"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config     *infra.Config
	Storage    *storage.Storage
	Downloader *infra.IconDownloader
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize performs core system initialization (DB, Dir, etc.)
func (b *Bootstrap) Initialize() error {
	slog.Info("🚀 Bootstrapping Lend Go...")

	// 1. Load Config
	cfg, err := infra.LoadConfig("configs/config.yaml")
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	// 3. Initialize Storage (DB)
	store, err := storage.NewStorage()
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("✅ Database initialized")

	// 4. Initialize Icon Downloader
	downloader, err := infra.NewIconDownloader()
	if err != nil {
		return err
	}
	b.Downloader = downloader
	slog.Info("✅ Icon downloader ready")

	return nil
}

// BuildMarkets converts configured market entries into domain markets.
// Prices arrive later from the feed; markets start without one.
func (b *Bootstrap) BuildMarkets() []*domain.Market {
	markets := make([]*domain.Market, 0, len(b.Config.Markets))
	for _, mc := range b.Config.Markets {
		markets = append(markets, &domain.Market{
			ID:               mc.ID,
			Symbol:           mc.Symbol,
			Decimals:         mc.Decimals,
			TokenAddress:     common.HexToAddress(mc.TokenAddress),
			MarketAddress:    common.HexToAddress(mc.MarketAddress),
			CollateralFactor: mc.CollateralFactor,
			IsCollateralOnly: mc.CollateralOnly,
			IsActive:         true,
		})
	}
	return markets
}

// SyncAssets synchronizes token metadata and icons in the background
// This simulates the "Loading Screen" logic
func (b *Bootstrap) SyncAssets(ctx context.Context) {
	slog.Info("🔄 Starting asset synchronization...")

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, 5) // Limit concurrent downloads

	for _, mc := range b.Config.Markets {
		wg.Add(1)
		go func(mc infra.MarketConfig) {
			defer wg.Done()
			select {
			case <-ctx.Done():
				return
			case semaphore <- struct{}{}: // Acquire
			}
			defer func() { <-semaphore }() // Release

			// 1. Upsert to DB
			token := &domain.TokenInfo{
				Symbol:    mc.Symbol,
				Name:      mc.Name,
				IsActive:  true,
				UpdatedAt: time.Now(),
			}
			if token.Name == "" {
				token.Name = mc.Symbol
			}

			// Check if exists to preserve IsFavorite
			if existing, _ := b.Storage.GetToken(mc.Symbol); existing != nil {
				token.IsFavorite = existing.IsFavorite
				token.IconPath = existing.IconPath
				token.LastSyncedAt = existing.LastSyncedAt
			}

			if err := b.Storage.UpsertToken(token); err != nil {
				slog.Error("Failed to upsert token", slog.String("symbol", mc.Symbol), slog.Any("error", err))
			}

			// 2. Download Icon (if missing)
			path, err := b.Downloader.DownloadIcon(mc.Symbol, mc.IconURL)
			if err != nil {
				slog.Warn("Failed to download icon", slog.String("symbol", mc.Symbol), slog.Any("error", err))
			} else if path != "" {
				// Update path in DB
				token.IconPath = path
				token.LastSyncedAt = time.Now()
				b.Storage.UpsertToken(token)
			}
		}(mc)
	}

	wg.Wait()
	slog.Info("✨ Asset synchronization completed")
}
