package app

import (
	"context"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"nftmarket/internal/engine"
	"nftmarket/internal/infra"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newTestBootstrap(t *testing.T, dir string, opts ...func(*infra.Config)) *Bootstrap {
	t.Helper()
	cfg := infra.DefaultConfig()
	cfg.Storage.Path = filepath.Join(dir, "market.db")
	cfg.Logging.Dir = filepath.Join(dir, "logs")
	cfg.Marketplace.Address = "0x00000000000000000000000000000000000000ff"
	for _, opt := range opts {
		opt(cfg)
	}

	b := NewBootstrap()
	b.Config = cfg
	require.NoError(t, b.Initialize(context.Background()))
	return b
}

func TestBootstrap_RestartRestoresState(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	collection := common.HexToAddress("0x00000000000000000000000000000000000000c1")
	owner := common.HexToAddress("0x00000000000000000000000000000000000000a1")

	b := newTestBootstrap(t, dir)
	fee, err := b.Config.ListingFeeWei()
	require.NoError(t, err)
	marketAddr := b.Config.MarketAddress()

	require.NoError(t, b.Registry.Mint(collection, owner, big.NewInt(1)))
	require.NoError(t, b.Registry.Approve(owner, collection, marketAddr, big.NewInt(1)))

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		b.Sequencer.Run(runCtx)
		close(done)
	}()

	require.NoError(t, b.Sequencer.Submit(ctx, engine.NewList(owner, fee, collection, big.NewInt(1), big.NewInt(9))))
	stop()
	<-done
	require.NoError(t, b.Shutdown())

	events, err := func() (int, error) {
		b2 := newTestBootstrap(t, dir)
		defer b2.Shutdown()

		listing, ok := b2.Market.GetListing(collection, big.NewInt(1))
		require.True(t, ok)
		require.Equal(t, 0, listing.Price.Cmp(big.NewInt(9)))
		require.Equal(t, 0, b2.Market.FeeReserve().Cmp(fee))
		require.Equal(t, uint64(2), b2.Sequencer.NextSeq())

		evs, err := b2.Storage.ListEvents(ctx, collection, big.NewInt(1))
		return len(evs), err
	}()
	require.NoError(t, err)
	require.Equal(t, 1, events)
}

// runCommands runs the sequencer for the given commands and stops it.
func runCommands(t *testing.T, b *Bootstrap, cmds ...*engine.Command) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Sequencer.Run(ctx)
		close(done)
	}()
	defer func() {
		stop()
		<-done
	}()
	for _, cmd := range cmds {
		require.NoError(t, b.Sequencer.Submit(context.Background(), cmd))
	}
}

func TestBootstrap_RecoversWithoutShutdown(t *testing.T) {
	dir := t.TempDir()
	collection := common.HexToAddress("0x00000000000000000000000000000000000000c1")
	owner := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	buyer := common.HexToAddress("0x00000000000000000000000000000000000000b1")

	b := newTestBootstrap(t, dir)
	fee, err := b.Config.ListingFeeWei()
	require.NoError(t, err)
	require.NoError(t, b.Registry.Mint(collection, owner, big.NewInt(1)))
	require.NoError(t, b.Registry.Approve(owner, collection, b.Config.MarketAddress(), big.NewInt(1)))

	runCommands(t, b,
		engine.NewList(owner, fee, collection, big.NewInt(1), big.NewInt(9)),
		engine.NewBuy(buyer, big.NewInt(9), collection, big.NewInt(1)),
	)
	held := b.Market.Held()

	// Crash: storage is released without Shutdown.
	require.NoError(t, b.Storage.Close())

	t.Run("committed state survives", func(t *testing.T) {
		b2 := newTestBootstrap(t, dir)
		defer b2.Shutdown()

		require.Equal(t, int64(9), b2.Market.GetProceeds(owner).Int64())
		require.Equal(t, 0, held.Cmp(b2.Market.Held()))
		require.Equal(t, 0, b2.Market.FeeReserve().Cmp(fee))
		require.Equal(t, uint64(3), b2.Sequencer.NextSeq())
		require.NotPanics(t, b2.Market.VerifyInvariant)
	})

	t.Run("journal tail is replayed", func(t *testing.T) {
		b2 := newTestBootstrap(t, dir)
		// A withdraw journaled but never checkpointed.
		withdraw := engine.NewWithdraw(owner)
		withdraw.ID = uuid.New()
		withdraw.Seq = b2.Sequencer.NextSeq()
		require.NoError(t, b2.Storage.SaveCommand(context.Background(), withdraw))
		require.NoError(t, b2.Storage.Close())

		b3 := newTestBootstrap(t, dir)

		require.Zero(t, b3.Market.GetProceeds(owner).Sign())
		require.Equal(t, 0, b3.Market.Held().Cmp(fee))
		require.Equal(t, int64(9), b3.Bank.BalanceOf(owner).Int64())
		require.Equal(t, withdraw.Seq+1, b3.Sequencer.NextSeq())

		// The replay was checkpointed; another restart does not pay twice.
		require.NoError(t, b3.Shutdown())
		b4 := newTestBootstrap(t, dir)
		defer b4.Shutdown()
		require.Zero(t, b4.Bank.BalanceOf(owner).Sign())
		require.Equal(t, withdraw.Seq+1, b4.Sequencer.NextSeq())
	})
}

func TestBootstrap_WebhookDelivery(t *testing.T) {
	received := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received <- string(body)
	}))
	defer srv.Close()

	b := newTestBootstrap(t, t.TempDir(), func(cfg *infra.Config) {
		cfg.Webhook.URL = srv.URL
		cfg.Webhook.Secret = "s3cret"
	})
	defer b.Shutdown()
	require.NotNil(t, b.Webhook)

	ctx := context.Background()
	collection := common.HexToAddress("0x00000000000000000000000000000000000000c1")
	owner := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	fee, err := b.Config.ListingFeeWei()
	require.NoError(t, err)
	require.NoError(t, b.Registry.Mint(collection, owner, big.NewInt(3)))
	require.NoError(t, b.Registry.Approve(owner, collection, b.Config.MarketAddress(), big.NewInt(3)))

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		b.Sequencer.Run(runCtx)
		close(done)
	}()
	defer func() {
		stop()
		<-done
	}()

	require.NoError(t, b.Sequencer.Submit(ctx, engine.NewList(owner, fee, collection, big.NewInt(3), big.NewInt(9))))

	select {
	case body := <-received:
		require.True(t, strings.Contains(body, `"type":"ItemListed"`), body)
	case <-time.After(2 * time.Second):
		t.Fatal("webhook not delivered")
	}
}
