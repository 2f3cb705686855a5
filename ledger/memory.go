package ledger

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

// Store is the committed state of the in-memory ledger.
type Store struct {
	mu    sync.RWMutex
	state map[string][]byte
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{state: make(map[string][]byte)}
}

// Snapshot returns a frozen copy of the committed state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	frozen := make(map[string][]byte, len(s.state))
	for k, v := range s.state {
		frozen[k] = v
	}
	return mapView(frozen)
}

// Fork returns a transactional view over the current committed state.
func (s *Store) Fork() *MemFork {
	return NewFork(s.Snapshot())
}

// Commit applies the fork's writes atomically.
func (s *Store) Commit(f *MemFork) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, v := range f.writes {
		s.state[k] = v
	}
}

type mapView map[string][]byte

func (m mapView) Get(key string) ([]byte, error) {
	v, ok := m[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (m mapView) Iterate(prefix string, fn func(key string, value []byte) error) error {
	keys := make([]string, 0)
	for k := range m {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := fn(k, append([]byte(nil), m[k]...)); err != nil {
			if errors.Is(err, ErrStopIteration) {
				return nil
			}
			return err
		}
	}
	return nil
}

// MemFork buffers writes over a base snapshot. Reads observe pending writes.
type MemFork struct {
	base   Snapshot
	writes map[string][]byte
}

// NewFork layers an empty write set over base.
func NewFork(base Snapshot) *MemFork {
	return &MemFork{base: base, writes: make(map[string][]byte)}
}

func (f *MemFork) Get(key string) ([]byte, error) {
	if v, ok := f.writes[key]; ok {
		return append([]byte(nil), v...), nil
	}
	return f.base.Get(key)
}

func (f *MemFork) Put(key string, value []byte) error {
	f.writes[key] = append([]byte(nil), value...)
	return nil
}

func (f *MemFork) Iterate(prefix string, fn func(key string, value []byte) error) error {
	merged := make(map[string][]byte)
	if err := f.base.Iterate(prefix, func(k string, v []byte) error {
		merged[k] = v
		return nil
	}); err != nil {
		return err
	}
	for k, v := range f.writes {
		if strings.HasPrefix(k, prefix) {
			merged[k] = v
		}
	}
	return mapView(merged).Iterate(prefix, fn)
}

// MergeInto moves the fork's writes into parent.
func (f *MemFork) MergeInto(parent *MemFork) {
	for k, v := range f.writes {
		parent.writes[k] = v
	}
}
