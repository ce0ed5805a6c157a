package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"nftmarket/internal/api"
	"nftmarket/internal/domain"
	"nftmarket/internal/engine"
	"nftmarket/internal/infra"
	"nftmarket/internal/infra/chain"
	"nftmarket/internal/infra/feed"
	"nftmarket/internal/infra/storage"
	"nftmarket/internal/infra/webhook"
	"nftmarket/internal/market"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config    *infra.Config
	Metrics   *infra.Metrics
	Storage   *storage.Storage
	Registry  *chain.Registry
	Bank      *chain.Bank
	Market    *market.Marketplace
	Sequencer *engine.Sequencer
	Feed      *feed.Hub
	Webhook   *webhook.Notifier
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// LoadConfig reads the config file. A missing file falls back to defaults
// so a fresh checkout can run without one.
func (b *Bootstrap) LoadConfig(path string) error {
	cfg, err := infra.LoadConfig(path)
	if errors.Is(err, domain.ErrConfigNotFound) {
		slog.Warn("Config file not found, using defaults", slog.String("path", path))
		cfg = infra.DefaultConfig()
		err = cfg.Validate()
	}
	if err != nil {
		return err
	}
	b.Config = cfg
	return nil
}

// Initialize performs core system initialization. LoadConfig (or setting
// Config directly) must come first.
func (b *Bootstrap) Initialize(ctx context.Context) error {
	if b.Config == nil {
		return &domain.ConfigError{Field: "config", Err: errors.New("not loaded")}
	}
	cfg := b.Config

	slog.Info("🚀 Bootstrapping NFT marketplace...")

	// 1. Setup Logger
	slog.SetDefault(infra.NewLogger(cfg))

	// 2. Initialize Storage (DB)
	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("✅ Database initialized")

	// 3. In-memory chain
	b.Registry = chain.NewRegistry()
	b.Bank = chain.NewBank()

	// 4. Marketplace
	fee, err := cfg.ListingFeeWei()
	if err != nil {
		return &domain.ConfigError{Field: "marketplace.listing_fee", Err: err}
	}
	b.Market = market.NewMarketplace(market.Config{
		Address:    cfg.MarketAddress(),
		ListingFee: fee,
	}, b.Registry, b.Bank)

	b.Metrics = infra.GlobalMetrics

	// 5. Sequencer, resumed from the checkpoint. Journaled commands past it
	// are replayed before any sink is attached.
	if err := b.resume(ctx); err != nil {
		return err
	}

	// 6. Event sinks
	b.Feed = feed.NewHub(cfg.Feed.SendBuffer, b.Metrics)
	b.Market.Subscribe(store.EventSink())
	b.Market.Subscribe(b.Metrics.Sink())
	b.Market.Subscribe(b.Feed)

	if cfg.Webhook.URL != "" {
		notifier, err := webhook.NewNotifier(webhook.Config{
			URL:        cfg.Webhook.URL,
			KeyID:      cfg.Webhook.KeyID,
			Secret:     cfg.Webhook.Secret,
			QueueSize:  cfg.Webhook.QueueSize,
			MaxRetries: cfg.Webhook.MaxRetries,
			Backoff:    time.Duration(cfg.Webhook.BackoffMS) * time.Millisecond,
		})
		if err != nil {
			return err
		}
		notifier.Start(context.Background())
		b.Webhook = notifier
		b.Market.Subscribe(notifier)
		slog.Info("✅ Webhook delivery enabled", slog.String("url", cfg.Webhook.URL))
	}

	slog.Info("✅ Marketplace ready",
		slog.String("address", cfg.MarketAddress().Hex()),
		slog.String("listing_fee", infra.FormatEther(fee)),
		slog.Uint64("next_seq", b.Sequencer.NextSeq()))
	return nil
}

func (b *Bootstrap) resume(ctx context.Context) error {
	cp, err := b.Storage.LoadCheckpoint(ctx)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}

	next := uint64(1)
	if cp != nil {
		if err := b.Market.Restore(cp.State); err != nil {
			return err
		}
		next = max(cp.NextSeq, 1)
		slog.Info("✅ State restored",
			slog.Int("listings", len(cp.State.Listings)),
			slog.Int("balances", len(cp.State.Balances)))
	}

	b.Sequencer = engine.NewSequencer(b.Config.Server.InboxSize, b.Market, b.Storage, b.Metrics)
	b.Sequencer.ResumeAt(next)

	pending, err := b.Storage.ListCommands(ctx, next)
	if err != nil {
		return fmt.Errorf("read command journal: %w", err)
	}
	for _, cmd := range pending {
		err := b.Sequencer.ReplayCommand(ctx, cmd)
		slog.Info("🔁 Command replayed",
			slog.Uint64("seq", cmd.Seq),
			slog.String("type", string(cmd.Type)),
			slog.Any("error", err))
	}

	last, err := b.Storage.LastCommandSeq(ctx)
	if err != nil {
		return fmt.Errorf("read command journal: %w", err)
	}
	if last+1 != b.Sequencer.NextSeq() {
		slog.Warn("Checkpoint is ahead of the command journal",
			slog.Uint64("last_seq", last),
			slog.Uint64("next_seq", b.Sequencer.NextSeq()))
	}
	return nil
}

// Handler builds the HTTP routes.
func (b *Bootstrap) Handler(devChain bool) http.Handler {
	router := api.NewServer(b.Sequencer, b.Metrics, b.Feed).Router()
	if devChain {
		api.NewChainRoutes(b.Registry).Register(router)
	}
	return router
}

// Shutdown releases resources. State is already durable: the sequencer
// checkpoints after every command. The sequencer must already be stopped.
func (b *Bootstrap) Shutdown() error {
	if b.Feed != nil {
		b.Feed.Close()
	}
	if b.Webhook != nil {
		b.Webhook.Stop()
	}
	if b.Storage == nil {
		return nil
	}
	return b.Storage.Close()
}
