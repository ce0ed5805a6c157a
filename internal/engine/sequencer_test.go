package engine

import (
	"context"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"nftmarket/internal/domain"
	"nftmarket/internal/infra"
	"nftmarket/internal/infra/chain"
	"nftmarket/internal/market"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
)

var (
	marketAddr = common.HexToAddress("0x00000000000000000000000000000000000000ff")
	collection = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	owner      = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	buyer      = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	listingFee = big.NewInt(1000)
)

type checkpoint struct {
	nextSeq uint64
	state   *market.State
}

type memStore struct {
	mu          sync.Mutex
	cmds        []Command
	checkpoints []checkpoint
	err         error
}

func (s *memStore) SaveCommand(_ context.Context, cmd *Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.cmds = append(s.cmds, *cmd)
	return nil
}

func (s *memStore) SaveCheckpoint(_ context.Context, nextSeq uint64, st *market.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints = append(s.checkpoints, checkpoint{nextSeq: nextSeq, state: st})
	return nil
}

func (s *memStore) lastCheckpoint() checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.checkpoints) == 0 {
		return checkpoint{}
	}
	return s.checkpoints[len(s.checkpoints)-1]
}

func (s *memStore) saved() []Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Command(nil), s.cmds...)
}

func newTestMarket(t testing.TB) (*market.Marketplace, *chain.Registry) {
	registry := chain.NewRegistry()
	bank := chain.NewBank()
	m := market.NewMarketplace(market.Config{Address: marketAddr, ListingFee: listingFee}, registry, bank)

	for id := int64(0); id < 2; id++ {
		if err := registry.Mint(collection, owner, big.NewInt(id)); err != nil {
			t.Fatalf("mint: %v", err)
		}
		if err := registry.Approve(owner, collection, marketAddr, big.NewInt(id)); err != nil {
			t.Fatalf("approve: %v", err)
		}
	}
	return m, registry
}

func startSequencer(t *testing.T, seq *Sequencer) {
	ctx, cancel := context.WithCancel(context.Background())
	go seq.Run(ctx)
	t.Cleanup(cancel)
}

func TestSequencer_SubmitAndRead(t *testing.T) {
	m, registry := newTestMarket(t)
	store := &memStore{}
	metrics := &infra.Metrics{}
	seq := NewSequencer(10, m, store, metrics)
	startSequencer(t, seq)
	ctx := context.Background()

	list := NewList(owner, listingFee, collection, big.NewInt(0), big.NewInt(5))
	if err := seq.Submit(ctx, list); err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if list.Seq != 1 || list.ID.String() == "00000000-0000-0000-0000-000000000000" {
		t.Errorf("command not sequenced: seq=%d id=%s", list.Seq, list.ID)
	}

	var listing domain.Listing
	var ok bool
	if err := seq.Read(ctx, func(m *market.Marketplace) {
		listing, ok = m.GetListing(collection, big.NewInt(0))
	}); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !ok || listing.Price.Cmp(big.NewInt(5)) != 0 || listing.Seller != owner {
		t.Errorf("unexpected listing: %+v", listing)
	}

	// A rejected command is journaled and consumes a sequence number.
	err := seq.Submit(ctx, NewBuy(buyer, big.NewInt(4), collection, big.NewInt(0)))
	if !errors.Is(err, domain.ErrNotEnoughFundsToBuy) {
		t.Fatalf("expected NotEnoughFundsToBuy, got %v", err)
	}

	buy := NewBuy(buyer, big.NewInt(5), collection, big.NewInt(0))
	if err := seq.Submit(ctx, buy); err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	if buy.Seq != 3 {
		t.Errorf("expected seq 3, got %d", buy.Seq)
	}

	newOwner, _ := registry.OwnerOf(ctx, collection, big.NewInt(0))
	if newOwner != buyer {
		t.Errorf("expected buyer to own token, got %s", newOwner.Hex())
	}

	saved := store.saved()
	if len(saved) != 3 {
		t.Fatalf("expected 3 journaled commands, got %d", len(saved))
	}
	for i, cmd := range saved {
		if cmd.Seq != uint64(i+1) {
			t.Errorf("journal[%d] has seq %d", i, cmd.Seq)
		}
	}

	cp := store.lastCheckpoint()
	if cp.nextSeq != 4 || cp.state == nil {
		t.Fatalf("expected state checkpoint at seq 4, got %+v", cp)
	}
	if cp.state.Held.Cmp(new(big.Int).Add(listingFee, big.NewInt(5))) != 0 {
		t.Errorf("checkpoint held = %s", cp.state.Held)
	}

	snap := metrics.Snapshot()
	if snap.CommandsProcessed != 3 || snap.CommandsFailed != 1 {
		t.Errorf("unexpected metrics: %+v", snap)
	}
	if snap.FailuresByKind[domain.KindNotEnoughFundsToBuy] != 1 {
		t.Errorf("expected failure counted by kind: %+v", snap.FailuresByKind)
	}
}

func TestSequencer_UnknownCommand(t *testing.T) {
	m, _ := newTestMarket(t)
	seq := NewSequencer(1, m, nil, nil)
	startSequencer(t, seq)

	err := seq.Submit(context.Background(), &Command{Type: "BURN"})
	if !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("expected ErrUnknownCommand, got %v", err)
	}
}

func TestSequencer_ContextCanceled(t *testing.T) {
	m, _ := newTestMarket(t)
	seq := NewSequencer(0, m, nil, nil) // not running, unbuffered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := seq.Submit(ctx, NewWithdraw(owner))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}

func TestSequencer_PersistenceFailureHalts(t *testing.T) {
	m, _ := newTestMarket(t)
	store := &memStore{err: errors.New("disk full")}
	seq := NewSequencer(1, m, store, nil)
	dump := filepath.Join(t.TempDir(), "dump.json")
	seq.SetDumpFile(dump)

	halted := make(chan any, 1)
	go func() {
		defer func() { halted <- recover() }()
		seq.Run(context.Background())
	}()

	err := seq.Submit(context.Background(), NewWithdraw(owner))
	if !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped, got %v", err)
	}

	select {
	case r := <-halted:
		if r == nil {
			t.Fatal("expected Run to panic")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sequencer did not halt")
	}

	if _, err := os.Stat(dump); err != nil {
		t.Errorf("expected state dump: %v", err)
	}

	// Further submissions fail fast.
	if err := seq.Submit(context.Background(), NewWithdraw(owner)); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped after halt, got %v", err)
	}
}

func TestSequencer_OversizedPaymentKeepsRunning(t *testing.T) {
	m, registry := newTestMarket(t)
	store := &memStore{}
	seq := NewSequencer(10, m, store, nil)
	startSequencer(t, seq)
	ctx := context.Background()

	if err := seq.Submit(ctx, NewList(owner, listingFee, collection, big.NewInt(0), big.NewInt(5))); err != nil {
		t.Fatalf("list failed: %v", err)
	}

	err := seq.Submit(ctx, NewBuy(buyer, math.MaxBig256, collection, big.NewInt(0)))
	if !errors.Is(err, domain.ErrTreasuryOverflow) {
		t.Fatalf("expected ErrTreasuryOverflow, got %v", err)
	}
	if holder, _ := registry.OwnerOf(ctx, collection, big.NewInt(0)); holder != owner {
		t.Errorf("asset moved to %s", holder.Hex())
	}
	if cp := store.lastCheckpoint(); cp.nextSeq != 3 || cp.state != nil {
		t.Errorf("rejected command should only advance the checkpoint, got %+v", cp)
	}

	// Still serving.
	if err := seq.Submit(ctx, NewBuy(buyer, big.NewInt(5), collection, big.NewInt(0))); err != nil {
		t.Fatalf("buy after rejection failed: %v", err)
	}
}

func TestSequencer_Replay(t *testing.T) {
	m, _ := newTestMarket(t)
	store := &memStore{}
	seq := NewSequencer(10, m, store, nil)
	ctx := context.Background()

	list := NewList(owner, listingFee, collection, big.NewInt(1), big.NewInt(9))
	list.Seq = 1
	if err := seq.ReplayCommand(ctx, list); err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if seq.NextSeq() != 2 {
		t.Errorf("expected next seq 2, got %d", seq.NextSeq())
	}
	if _, ok := m.GetListing(collection, big.NewInt(1)); !ok {
		t.Error("expected replayed listing")
	}
	if len(store.saved()) != 0 {
		t.Error("replay must not journal the command again")
	}
	if cp := store.lastCheckpoint(); cp.nextSeq != 2 || cp.state == nil {
		t.Errorf("expected replay to checkpoint at seq 2, got %+v", cp)
	}

	t.Run("gap detection", func(t *testing.T) {
		defer func() {
			if r := recover(); r == nil {
				t.Error("Sequencer should have panicked on sequence gap")
			}
		}()

		cancel := NewCancel(owner, collection, big.NewInt(1))
		cancel.Seq = 5
		seq.ReplayCommand(ctx, cancel)
	})
}
