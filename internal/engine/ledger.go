package engine

import "fmt"

// DefaultMemoryLimit is applied when no explicit limit is configured.
const DefaultMemoryLimit = 5 * 1024 * 1024

// Ledger tracks the bytes currently owned by one engine instance. Every
// accounting change goes through Reserve or Release; after any successful
// grant, allocated never exceeds the limit. The ledger is private to one
// engine and needs no locking.
type Ledger struct {
	allocated uint64
	limit     uint64
}

// NewLedger creates a ledger with the given byte limit. A zero limit means
// unbounded accounting.
func NewLedger(limit uint64) *Ledger {
	return &Ledger{limit: limit}
}

// Reserve re-accounts a single allocation that changes size from prev to
// next bytes, computed as allocated - prev + next with both steps checked.
// Subtraction underflow (freeing more than tracked) treats current usage
// as zero. Addition overflow, or a total beyond the limit, refuses the
// request without mutating the ledger.
func (l *Ledger) Reserve(prev, next uint64) error {
	current := l.allocated
	if prev > current {
		current = 0
	} else {
		current -= prev
	}

	total := current + next
	if total < current {
		return fmt.Errorf("not enough memory: accounting overflow")
	}
	if l.limit > 0 && total > l.limit {
		return fmt.Errorf("not enough memory (limit %d bytes)", l.limit)
	}

	l.allocated = total
	return nil
}

// Release subtracts n tracked bytes, clamping at zero on inconsistency.
func (l *Ledger) Release(n uint64) {
	if n > l.allocated {
		l.allocated = 0
		return
	}
	l.allocated -= n
}

// Allocated returns the bytes currently tracked.
func (l *Ledger) Allocated() uint64 { return l.allocated }

// Limit returns the configured ceiling in bytes.
func (l *Ledger) Limit() uint64 { return l.limit }
