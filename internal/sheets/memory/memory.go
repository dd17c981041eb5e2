package memory

import (
	"context"
	"fmt"
	"sync"

	"fintrack/internal/core"
	ports "fintrack/internal/sheets"
)

// Store keeps exported transactions in process. Re-delivered events are
// recorded once.
type Store struct {
	mu    sync.Mutex
	items []core.TransactionPosted
	refs  map[int64]string
}

var _ ports.TransactionExporter = (*Store)(nil)

func New() *Store {
	return &Store{refs: make(map[int64]string)}
}

// Append stores the transaction and returns a synthetic row reference.
func (s *Store) Append(_ context.Context, t core.TransactionPosted) (string, error) {
	if t.TransactionID <= 0 {
		return "", fmt.Errorf("invalid transaction id %d", t.TransactionID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ref, ok := s.refs[t.TransactionID]; ok {
		return ref, nil
	}
	s.items = append(s.items, t)
	ref := fmt.Sprintf("mem:%d", len(s.items))
	s.refs[t.TransactionID] = ref
	return ref, nil
}

// Rows returns a copy of everything exported so far, in arrival order.
func (s *Store) Rows() []core.TransactionPosted {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.TransactionPosted(nil), s.items...)
}
