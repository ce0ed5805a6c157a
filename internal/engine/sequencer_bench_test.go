package engine

import (
	"context"
	"math/big"
	"testing"
)

// BenchmarkSequencer_ProcessCommand measures direct command processing
// (list then cancel, so the market returns to its initial state).
func BenchmarkSequencer_ProcessCommand(b *testing.B) {
	m, _ := newTestMarket(b)
	seq := NewSequencer(1, m, nil, nil)
	ctx := context.Background()
	tokenID := big.NewInt(0)
	price := big.NewInt(5)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if err := seq.processCommand(ctx, NewList(owner, listingFee, collection, tokenID, price)); err != nil {
			b.Fatal(err)
		}
		if err := seq.processCommand(ctx, NewCancel(owner, collection, tokenID)); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkSequencer_FullPipeline measures end-to-end submission.
// Note: This benchmark includes channel overhead.
func BenchmarkSequencer_FullPipeline(b *testing.B) {
	m, _ := newTestMarket(b)
	seq := NewSequencer(1024, m, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start sequencer in background
	go seq.Run(ctx)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		// Withdraw with nothing owed is rejected without touching state.
		_ = seq.Submit(ctx, NewWithdraw(buyer))
	}
}
