package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"nftmarket/internal/domain"
	"nftmarket/internal/infra"
	"nftmarket/internal/market"

	"github.com/google/uuid"
)

var (
	// ErrUnknownCommand is returned for a command type the sequencer cannot dispatch.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrStopped is returned when the sequencer is no longer running.
	ErrStopped = errors.New("sequencer stopped")
)

// CommandStore is the write-ahead journal of sequenced commands plus the
// checkpoint the journal is replayed from.
//
// SaveCheckpoint records that every command below nextSeq has been applied.
// st is the marketplace state at that point, or nil when the command changed
// nothing and only the sequence moved.
type CommandStore interface {
	SaveCommand(ctx context.Context, cmd *Command) error
	SaveCheckpoint(ctx context.Context, nextSeq uint64, st *market.State) error
}

type request struct {
	ctx  context.Context
	cmd  *Command
	read func(*market.Marketplace)
	done chan error
}

// Sequencer is the single-threaded host of a Marketplace. Every command and
// every read runs on the Run goroutine, one at a time and to completion,
// which is the serial execution the marketplace relies on.
type Sequencer struct {
	inbox   chan request
	market  *market.Marketplace
	nextSeq uint64
	store   CommandStore
	metrics *infra.Metrics
	dumpTo  string
	stopped chan struct{}
}

// NewSequencer creates a sequencer owning m. store and metrics may be nil.
func NewSequencer(inboxSize int, m *market.Marketplace, store CommandStore, metrics *infra.Metrics) *Sequencer {
	return &Sequencer{
		inbox:   make(chan request, inboxSize),
		market:  m,
		nextSeq: 1,
		store:   store,
		metrics: metrics,
		dumpTo:  "panic_dump.json",
		stopped: make(chan struct{}),
	}
}

// SetDumpFile sets where the state is written when the sequencer halts.
func (s *Sequencer) SetDumpFile(path string) {
	s.dumpTo = path
}

// Run starts the main loop. This MUST be run in a single goroutine.
func (s *Sequencer) Run(ctx context.Context) {
	slog.Info("Sequencer started (single-threaded)")
	defer close(s.stopped)

	defer func() {
		if r := recover(); r != nil {
			slog.Error("CRITICAL_PANIC_DETECTED", slog.Any("panic", r))
			s.DumpState(s.dumpTo)
			panic(fmt.Sprintf("HALTED: %v", r))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Sequencer stopping...")
			return
		case req := <-s.inbox:
			s.handle(req)
		}
	}
}

func (s *Sequencer) handle(req request) {
	if req.read != nil {
		req.read(s.market)
		req.done <- nil
		return
	}
	req.done <- s.processCommand(req.ctx, req.cmd)
}

func (s *Sequencer) processCommand(ctx context.Context, cmd *Command) error {
	start := time.Now()

	// 1. Sequencing
	cmd.ID = uuid.New()
	cmd.Seq = s.nextSeq
	cmd.Ts = start.UnixMicro()

	// 2. WAL-first: Persistence
	if s.store != nil {
		if err := s.store.SaveCommand(context.Background(), cmd); err != nil {
			panic(fmt.Sprintf("PERSISTENCE_FAILURE: %v", err))
		}
	}

	// 3. Dispatch
	err := cmd.apply(ctx, s.market)

	// 4. Increment Sequence
	s.nextSeq++

	// 5. Checkpoint
	s.checkpoint(err)

	if s.metrics != nil {
		s.metrics.RecordCommand(time.Since(start).Nanoseconds())
		if err != nil {
			s.metrics.RecordFailure(domain.KindOf(err))
		}
	}
	if err != nil {
		slog.Info("Command rejected",
			slog.Uint64("seq", cmd.Seq),
			slog.String("type", string(cmd.Type)),
			slog.String("sender", cmd.Sender.Hex()),
			slog.Any("error", err))
	} else {
		slog.Info("Command executed",
			slog.Uint64("seq", cmd.Seq),
			slog.String("type", string(cmd.Type)),
			slog.String("sender", cmd.Sender.Hex()))
	}
	return err
}

func (s *Sequencer) checkpoint(applyErr error) {
	if s.store == nil {
		return
	}
	var st *market.State
	if applyErr == nil {
		snap := s.market.State()
		st = &snap
	}
	if err := s.store.SaveCheckpoint(context.Background(), s.nextSeq, st); err != nil {
		panic(fmt.Sprintf("PERSISTENCE_FAILURE: %v", err))
	}
}

// ReplayCommand applies an already-sequenced command synchronously without
// WAL logging, then checkpoints. Used at startup for journaled commands the
// last checkpoint does not cover. Replay must respect sequence order; a gap halts.
func (s *Sequencer) ReplayCommand(ctx context.Context, cmd *Command) error {
	if cmd.Seq != s.nextSeq {
		panic(fmt.Sprintf("REPLAY_GAP_DETECTED: expected %d, got %d", s.nextSeq, cmd.Seq))
	}
	err := cmd.apply(ctx, s.market)
	s.nextSeq++
	s.checkpoint(err)
	return err
}

// Submit queues cmd and waits for its outcome. The returned error is the
// marketplace error of the command, or ctx.Err() if ctx ended first (the
// command may still execute in that case).
func (s *Sequencer) Submit(ctx context.Context, cmd *Command) error {
	return s.send(ctx, request{ctx: ctx, cmd: cmd, done: make(chan error, 1)})
}

// Read runs fn on the sequencer goroutine, between commands.
func (s *Sequencer) Read(ctx context.Context, fn func(*market.Marketplace)) error {
	return s.send(ctx, request{ctx: ctx, read: fn, done: make(chan error, 1)})
}

func (s *Sequencer) send(ctx context.Context, req request) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		return ErrStopped
	case s.inbox <- req:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		return ErrStopped
	case err := <-req.done:
		return err
	}
}

// ResumeAt sets the sequence the next command will get. Call before Run
// when continuing an existing journal.
func (s *Sequencer) ResumeAt(next uint64) {
	s.nextSeq = next
}

// NextSeq returns the sequence the next command will get.
// Only safe from the Run goroutine or before Run starts.
func (s *Sequencer) NextSeq() uint64 {
	return s.nextSeq
}

// DumpState writes the marketplace state to a file (for post-mortem).
func (s *Sequencer) DumpState(filename string) {
	slog.Info("Dumping internal state...", slog.String("file", filename))

	data := struct {
		NextSeq uint64       `json:"next_seq"`
		Market  market.State `json:"market"`
	}{
		NextSeq: s.nextSeq,
		Market:  s.market.State(),
	}

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		slog.Error("Failed to marshal state", slog.Any("error", err))
		return
	}

	err = os.WriteFile(filename, b, 0644)
	if err != nil {
		slog.Error("Failed to write state dump", slog.Any("error", err))
	}
}
