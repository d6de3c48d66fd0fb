package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"swaprelay/internal/contract"
)

var (
	_ contract.Store = (*MemoryStore)(nil)
	_ contract.Store = (*FileStore)(nil)
	_ contract.Store = (*PostgresStore)(nil)
	_ contract.Store = (*RedisStore)(nil)

	_ contract.Locker = (*PostgresStore)(nil)
	_ contract.Locker = (*RedisStore)(nil)
)

// MemoryStore is mostly for testing.
type MemoryStore struct {
	mu     sync.RWMutex
	state  *contract.State
	stamps map[contract.DepositKey]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		stamps: make(map[contract.DepositKey]time.Time),
	}
}

func (m *MemoryStore) LoadState(_ context.Context) (*contract.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state == nil {
		return nil, contract.ErrStateNotFound
	}
	st := m.state.Clone()
	return &st, nil
}

func (m *MemoryStore) Stamps(_ context.Context, keys []contract.DepositKey) (map[contract.DepositKey]time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return lookup(m.stamps, keys), nil
}

func (m *MemoryStore) Commit(_ context.Context, mut contract.Mutation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	apply(&m.state, m.stamps, mut)
	return nil
}

// Len reports how many ledger entries exist.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.stamps)
}

// FileStore persists the contract to a JSON file. Suitable for local dev.
type FileStore struct {
	path   string
	mu     sync.Mutex
	state  *contract.State
	stamps map[contract.DepositKey]time.Time
}

type fileSnapshot struct {
	State  *contract.State `json:"state,omitempty"`
	Stamps []fileStamp     `json:"withdraw_timestamps"`
}

type fileStamp struct {
	contract.DepositKey
	StampNanos int64 `json:"stamp_ns"`
}

func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{
		path:   path,
		stamps: make(map[contract.DepositKey]time.Time),
	}
	if err := fs.load(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (f *FileStore) load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	blob, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(blob) == 0 {
		return nil
	}
	var snap fileSnapshot
	if err := json.Unmarshal(blob, &snap); err != nil {
		return err
	}
	f.state = snap.State
	for _, s := range snap.Stamps {
		f.stamps[s.DepositKey] = time.Unix(0, s.StampNanos)
	}
	return nil
}

func (f *FileStore) persist(state *contract.State, stamps map[contract.DepositKey]time.Time) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	snap := fileSnapshot{State: state, Stamps: make([]fileStamp, 0, len(stamps))}
	for k, t := range stamps {
		snap.Stamps = append(snap.Stamps, fileStamp{DepositKey: k, StampNanos: t.UnixNano()})
	}
	blob, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

func (f *FileStore) LoadState(_ context.Context) (*contract.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == nil {
		return nil, contract.ErrStateNotFound
	}
	st := f.state.Clone()
	return &st, nil
}

func (f *FileStore) Stamps(_ context.Context, keys []contract.DepositKey) (map[contract.DepositKey]time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return lookup(f.stamps, keys), nil
}

// Commit writes the whole snapshot before touching memory, so a failed write leaves both unchanged.
func (f *FileStore) Commit(_ context.Context, mut contract.Mutation) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	state := f.state
	stamps := make(map[contract.DepositKey]time.Time, len(f.stamps)+len(mut.Stamps))
	for k, t := range f.stamps {
		stamps[k] = t
	}
	apply(&state, stamps, mut)
	if err := f.persist(state, stamps); err != nil {
		return err
	}
	f.state = state
	f.stamps = stamps
	return nil
}

func lookup(all map[contract.DepositKey]time.Time, keys []contract.DepositKey) map[contract.DepositKey]time.Time {
	out := make(map[contract.DepositKey]time.Time, len(keys))
	for _, k := range keys {
		if t, ok := all[k]; ok {
			out[k] = t
		}
	}
	return out
}

func apply(state **contract.State, stamps map[contract.DepositKey]time.Time, mut contract.Mutation) {
	if mut.State != nil {
		st := mut.State.Clone()
		*state = &st
	}
	for k, t := range mut.Stamps {
		stamps[k] = t
	}
}
