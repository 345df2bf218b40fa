package engine

import (
	"errors"
	"time"
)

// budgetBatch is the number of VM instructions between limit checks.
// Counting is per instruction; comparisons run once per batch.
const budgetBatch = 1000

// memCheckEvery controls how many batches pass between ledger samples.
// Reading heap statistics stops the world briefly, so it runs far less
// often than the instruction-limit comparison.
const memCheckEvery = 8

// ErrInstructionLimit is the fixed sentinel raised inside the interpreter
// when the instruction budget is exhausted. The message is matched during
// classification, so it must not change between releases.
var ErrInstructionLimit = errors.New("instruction limit exceeded")

// budget is the periodic trap installed for one Execute or Call. It
// satisfies context.Context: gopher-lua's instruction loop polls Done()
// once per VM instruction while a context is set on the state, which makes
// Done the trap site. Once tripped the done channel stays closed, so every
// remaining instruction of the current execution re-raises; the next
// entry point installs a fresh budget.
type budget struct {
	executed uint64
	limit    uint64
	memCheck func() error
	done     chan struct{}
	err      error
	tripped  bool
}

func newBudget(limit uint64, memCheck func() error) *budget {
	return &budget{
		limit:    limit,
		memCheck: memCheck,
		done:     make(chan struct{}),
	}
}

func (b *budget) Done() <-chan struct{} {
	if b.tripped {
		return b.done
	}

	b.executed++
	if b.executed%budgetBatch != 0 {
		return b.done
	}

	if b.limit > 0 && b.executed > b.limit {
		b.trip(ErrInstructionLimit)
		return b.done
	}
	if b.memCheck != nil && b.executed%(budgetBatch*memCheckEvery) == 0 {
		if err := b.memCheck(); err != nil {
			b.trip(err)
		}
	}
	return b.done
}

func (b *budget) trip(err error) {
	b.err = err
	b.tripped = true
	close(b.done)
}

func (b *budget) Err() error {
	if !b.tripped {
		return nil
	}
	return b.err
}

func (b *budget) Deadline() (time.Time, bool) { return time.Time{}, false }

func (b *budget) Value(interface{}) interface{} { return nil }

// Executed reports the instructions counted so far in this execution.
func (b *budget) Executed() uint64 { return b.executed }
