package storage

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/halcyondex/halcyon/pkg/exchange"
)

// LedgerStore persists fill-ledger state in Pebble so cumulative filled and
// cancelled amounts, maker epochs, and the executed-transaction set survive
// restarts. Historical orders are not indexed here; only the live ledger
// state the settlement core needs to stay replay- and double-spend-safe.
type LedgerStore struct {
	db *pebble.DB
}

// keys: f:<32-byte-order-hash>, e:<20-byte-maker>, x:<32-byte-tx-hash>
func kEntry(h common.Hash) []byte    { return append([]byte("f:"), h[:]...) }
func kEpoch(m common.Address) []byte { return append([]byte("e:"), m[:]...) }
func kExecuted(h common.Hash) []byte { return append([]byte("x:"), h[:]...) }

func prefixUpperBound(p []byte) []byte {
	q := append([]byte(nil), p...)
	q[len(q)-1]++
	return q
}

// entryRecord is the stored form of one ledger entry. Amounts are decimal
// strings: uint256 values do not fit JSON numbers.
type entryRecord struct {
	Filled    string `json:"filled"`
	Cancelled string `json:"cancelled"`
}

func NewLedgerStore(path string) (*LedgerStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	return &LedgerStore{db: db}, nil
}

func (s *LedgerStore) Close() error { return s.db.Close() }

// SaveEntry persists the cumulative amounts for one order hash.
func (s *LedgerStore) SaveEntry(orderHash common.Hash, filled, cancelled *big.Int) error {
	val, err := json.Marshal(entryRecord{Filled: filled.String(), Cancelled: cancelled.String()})
	if err != nil {
		return fmt.Errorf("encode ledger entry: %w", err)
	}
	if err := s.db.Set(kEntry(orderHash), val, pebble.Sync); err != nil {
		return fmt.Errorf("save ledger entry: %w", err)
	}
	return nil
}

// SaveMakerEpoch persists a maker's cancellation epoch.
func (s *LedgerStore) SaveMakerEpoch(maker common.Address, epoch *big.Int) error {
	if err := s.db.Set(kEpoch(maker), []byte(epoch.String()), pebble.Sync); err != nil {
		return fmt.Errorf("save maker epoch: %w", err)
	}
	return nil
}

// SaveExecuted persists an executed meta-transaction hash.
func (s *LedgerStore) SaveExecuted(txHash common.Hash) error {
	if err := s.db.Set(kExecuted(txHash), []byte{1}, pebble.Sync); err != nil {
		return fmt.Errorf("save executed tx: %w", err)
	}
	return nil
}

// DeleteExecuted removes an executed mark being unwound within a failed
// invocation. The live executed set is otherwise append-only.
func (s *LedgerStore) DeleteExecuted(txHash common.Hash) error {
	if err := s.db.Delete(kExecuted(txHash), pebble.Sync); err != nil {
		return fmt.Errorf("delete executed tx: %w", err)
	}
	return nil
}

// Restore replays all persisted state into ledger at startup.
func (s *LedgerStore) Restore(ledger *exchange.FillLedger) error {
	if err := s.restoreEntries(ledger); err != nil {
		return err
	}
	if err := s.restoreEpochs(ledger); err != nil {
		return err
	}
	return s.restoreExecuted(ledger)
}

func (s *LedgerStore) restoreEntries(ledger *exchange.FillLedger) error {
	prefix := []byte("f:")
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixUpperBound(prefix)})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var rec entryRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return fmt.Errorf("decode ledger entry: %w", err)
		}
		filled, ok := new(big.Int).SetString(rec.Filled, 10)
		if !ok {
			return fmt.Errorf("decode ledger entry: bad filled amount %q", rec.Filled)
		}
		cancelled, ok := new(big.Int).SetString(rec.Cancelled, 10)
		if !ok {
			return fmt.Errorf("decode ledger entry: bad cancelled amount %q", rec.Cancelled)
		}
		ledger.RestoreEntry(common.BytesToHash(iter.Key()[2:]), filled, cancelled)
	}
	return nil
}

func (s *LedgerStore) restoreEpochs(ledger *exchange.FillLedger) error {
	prefix := []byte("e:")
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixUpperBound(prefix)})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		epoch, ok := new(big.Int).SetString(string(iter.Value()), 10)
		if !ok {
			return fmt.Errorf("decode maker epoch: bad value %q", iter.Value())
		}
		ledger.RestoreMakerEpoch(common.BytesToAddress(iter.Key()[2:]), epoch)
	}
	return nil
}

func (s *LedgerStore) restoreExecuted(ledger *exchange.FillLedger) error {
	prefix := []byte("x:")
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixUpperBound(prefix)})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		ledger.RestoreExecuted(common.BytesToHash(iter.Key()[2:]))
	}
	return nil
}

var _ exchange.LedgerStore = (*LedgerStore)(nil)
