package market

import "nftmarket/internal/event"

// journal is the undo log of one top-level invocation. Every write to the
// listing registry, the ledger or the treasury appends the closure that
// restores the previous value, and emitted events are buffered until commit.
// Nested (reentrant) invocations take a checkpoint and revert only their own
// suffix, so a failure anywhere unwinds exactly what that invocation did.
type journal struct {
	undo    []func()
	pending []event.Event
}

type checkpoint struct {
	undo   int
	events int
}

func newJournal() *journal {
	return &journal{}
}

func (j *journal) checkpoint() checkpoint {
	return checkpoint{undo: len(j.undo), events: len(j.pending)}
}

func (j *journal) record(undo func()) {
	j.undo = append(j.undo, undo)
}

func (j *journal) emit(ev event.Event) {
	j.pending = append(j.pending, ev)
}

// revertTo undoes every write recorded after cp, newest first, and drops
// the events emitted after it.
func (j *journal) revertTo(cp checkpoint) {
	for i := len(j.undo) - 1; i >= cp.undo; i-- {
		j.undo[i]()
		j.undo[i] = nil
	}
	j.undo = j.undo[:cp.undo]

	for i := cp.events; i < len(j.pending); i++ {
		j.pending[i] = nil
	}
	j.pending = j.pending[:cp.events]
}

// reset clears the journal and returns the buffered events.
func (j *journal) reset() []event.Event {
	events := j.pending
	j.undo = nil
	j.pending = nil
	return events
}

func (j *journal) len() int {
	return len(j.undo)
}
