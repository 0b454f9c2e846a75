package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/halcyondex/halcyon/pkg/exchange"
)

// EventJournal appends every emitted settlement record as one JSON line, for
// external indexers that tail the file. Write errors are swallowed: the
// journal is observability, not ledger state, and must never fail a fill.
type EventJournal struct {
	mu sync.Mutex
	f  *os.File
}

func NewEventJournal(path string) (*EventJournal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &EventJournal{f: f}, nil
}

func (j *EventJournal) Publish(e exchange.Event) {
	line, err := json.Marshal(e)
	if err != nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	fmt.Fprintln(j.f, string(line))
}

func (j *EventJournal) Close() error { return j.f.Close() }

var _ exchange.EventSink = (*EventJournal)(nil)
