package exchange

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrEpochNotIncreasing is the hard failure for a maker-epoch bump that
	// does not strictly increase the epoch. Callers compute salt+1 and must
	// hear loudly when that would be a no-op rather than mistake it for success.
	ErrEpochNotIncreasing = errors.New("maker epoch must strictly increase")

	// ErrTransactionReplayed is the hard failure for marking an already
	// executed meta-transaction hash a second time.
	ErrTransactionReplayed = errors.New("transaction already executed")
)

// LedgerStore is the optional persistence hook behind a FillLedger. Every
// successful mutation is written through so cumulative fill state survives
// restarts. A nil store keeps the ledger memory-only (tests, dry runs).
type LedgerStore interface {
	SaveEntry(orderHash common.Hash, filled, cancelled *big.Int) error
	SaveMakerEpoch(maker common.Address, epoch *big.Int) error
	SaveExecuted(txHash common.Hash) error
	DeleteExecuted(txHash common.Hash) error
}

// ledgerEntry holds the cumulative amounts for one order hash. Both counters
// only ever grow over the entry's lifetime; entries are created lazily and
// never deleted.
type ledgerEntry struct {
	filled    *big.Int
	cancelled *big.Int
}

// FillLedger is the authoritative record of per-order filled and cancelled
// amounts, per-maker cancellation epochs, and the executed meta-transaction
// set. It is not safe for concurrent use by itself; Core serializes
// all access under its invocation lock.
type FillLedger struct {
	entries  map[common.Hash]*ledgerEntry
	epochs   map[common.Address]*big.Int
	executed map[common.Hash]struct{}
	store    LedgerStore
}

// NewFillLedger creates an empty ledger writing through to store (may be nil).
func NewFillLedger(store LedgerStore) *FillLedger {
	return &FillLedger{
		entries:  make(map[common.Hash]*ledgerEntry),
		epochs:   make(map[common.Address]*big.Int),
		executed: make(map[common.Hash]struct{}),
		store:    store,
	}
}

func (l *FillLedger) entry(orderHash common.Hash) *ledgerEntry {
	e, ok := l.entries[orderHash]
	if !ok {
		e = &ledgerEntry{filled: new(big.Int), cancelled: new(big.Int)}
		l.entries[orderHash] = e
	}
	return e
}

// Filled returns the cumulative filled amount for orderHash.
func (l *FillLedger) Filled(orderHash common.Hash) *big.Int {
	if e, ok := l.entries[orderHash]; ok {
		return new(big.Int).Set(e.filled)
	}
	return new(big.Int)
}

// Cancelled returns the cumulative cancelled amount for orderHash.
func (l *FillLedger) Cancelled(orderHash common.Hash) *big.Int {
	if e, ok := l.entries[orderHash]; ok {
		return new(big.Int).Set(e.cancelled)
	}
	return new(big.Int)
}

// UnavailableAmount returns filled + cancelled for orderHash.
func (l *FillLedger) UnavailableAmount(orderHash common.Hash) (*big.Int, error) {
	e, ok := l.entries[orderHash]
	if !ok {
		return new(big.Int), nil
	}
	return SafeAdd(e.filled, e.cancelled)
}

// RecordFill adds amount to the filled counter. The caller must already have
// verified amount <= remaining; the checked add still guards the uint256 cap.
func (l *FillLedger) RecordFill(orderHash common.Hash, amount *big.Int) error {
	e := l.entry(orderHash)
	next, err := SafeAdd(e.filled, amount)
	if err != nil {
		return err
	}
	e.filled = next
	return l.persistEntry(orderHash, e)
}

// RecordCancel adds amount to the cancelled counter.
func (l *FillLedger) RecordCancel(orderHash common.Hash, amount *big.Int) error {
	e := l.entry(orderHash)
	next, err := SafeAdd(e.cancelled, amount)
	if err != nil {
		return err
	}
	e.cancelled = next
	return l.persistEntry(orderHash, e)
}

// revertFill undoes a RecordFill from the same invocation after the settlement
// collaborator failed; the invocation as a whole commits or rolls back as one.
func (l *FillLedger) revertFill(orderHash common.Hash, amount *big.Int) error {
	e := l.entry(orderHash)
	prev, err := SafeSub(e.filled, amount)
	if err != nil {
		return err
	}
	e.filled = prev
	return l.persistEntry(orderHash, e)
}

func (l *FillLedger) persistEntry(orderHash common.Hash, e *ledgerEntry) error {
	if l.store == nil {
		return nil
	}
	if err := l.store.SaveEntry(orderHash, e.filled, e.cancelled); err != nil {
		return fmt.Errorf("persist ledger entry: %w", err)
	}
	return nil
}

// MakerEpoch returns the cancellation epoch for maker (zero if never bumped).
func (l *FillLedger) MakerEpoch(maker common.Address) *big.Int {
	if e, ok := l.epochs[maker]; ok {
		return new(big.Int).Set(e)
	}
	return new(big.Int)
}

// BumpMakerEpoch sets maker's epoch to newEpoch, failing unless it strictly
// increases. Orders with salt < epoch are bulk-cancelled.
func (l *FillLedger) BumpMakerEpoch(maker common.Address, newEpoch *big.Int) error {
	if !validAmount(newEpoch) {
		return ErrAmountOverflow
	}
	current := l.epochs[maker]
	if current != nil && newEpoch.Cmp(current) <= 0 {
		return fmt.Errorf("%w: have %s, got %s", ErrEpochNotIncreasing, current, newEpoch)
	}
	if current == nil && newEpoch.Sign() <= 0 {
		return fmt.Errorf("%w: have 0, got %s", ErrEpochNotIncreasing, newEpoch)
	}
	l.epochs[maker] = new(big.Int).Set(newEpoch)
	if l.store != nil {
		if err := l.store.SaveMakerEpoch(maker, newEpoch); err != nil {
			return fmt.Errorf("persist maker epoch: %w", err)
		}
	}
	return nil
}

// IsExecuted reports whether a meta-transaction hash was already executed.
func (l *FillLedger) IsExecuted(txHash common.Hash) bool {
	_, ok := l.executed[txHash]
	return ok
}

// MarkExecuted records a meta-transaction hash, failing on replay.
func (l *FillLedger) MarkExecuted(txHash common.Hash) error {
	if _, ok := l.executed[txHash]; ok {
		return ErrTransactionReplayed
	}
	l.executed[txHash] = struct{}{}
	if l.store != nil {
		if err := l.store.SaveExecuted(txHash); err != nil {
			return fmt.Errorf("persist executed tx: %w", err)
		}
	}
	return nil
}

// unmarkExecuted removes a hash recorded earlier in the same invocation, used
// when the wrapped call hard-fails and the whole invocation must leave no state.
func (l *FillLedger) unmarkExecuted(txHash common.Hash) error {
	delete(l.executed, txHash)
	if l.store != nil {
		if err := l.store.DeleteExecuted(txHash); err != nil {
			return fmt.Errorf("unpersist executed tx: %w", err)
		}
	}
	return nil
}

// RestoreEntry seeds an entry from persisted state at startup.
func (l *FillLedger) RestoreEntry(orderHash common.Hash, filled, cancelled *big.Int) {
	l.entries[orderHash] = &ledgerEntry{
		filled:    new(big.Int).Set(filled),
		cancelled: new(big.Int).Set(cancelled),
	}
}

// RestoreMakerEpoch seeds a maker epoch from persisted state at startup.
func (l *FillLedger) RestoreMakerEpoch(maker common.Address, epoch *big.Int) {
	l.epochs[maker] = new(big.Int).Set(epoch)
}

// RestoreExecuted seeds the executed set from persisted state at startup.
func (l *FillLedger) RestoreExecuted(txHash common.Hash) {
	l.executed[txHash] = struct{}{}
}
