package credentials

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/opensandbox/codespace/internal/crypto"
	"github.com/opensandbox/codespace/pkg/types"
)

// MemoryStore keeps credentials in process memory. Used when no Redis is
// configured; contents are lost on restart.
type MemoryStore struct {
	sealer *crypto.Sealer

	mu      sync.RWMutex
	records map[string]record
}

func NewMemoryStore(sealer *crypto.Sealer) *MemoryStore {
	return &MemoryStore{
		sealer:  sealer,
		records: make(map[string]record),
	}
}

func (s *MemoryStore) Create(_ context.Context, req types.CreateKeyRequest) (*types.KeyInfo, error) {
	rec, err := newRecord(s.sealer, req, time.Now())
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.Name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrExists, rec.Name)
	}
	s.records[rec.Name] = rec
	info := rec.info()
	return &info, nil
}

func (s *MemoryStore) List(_ context.Context) ([]types.KeyInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]types.KeyInfo, 0, len(s.records))
	for _, rec := range s.records {
		infos = append(infos, rec.info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

func (s *MemoryStore) Revoke(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(s.records, name)
	return nil
}

func (s *MemoryStore) Reveal(_ context.Context, name string) (string, error) {
	s.mu.RLock()
	rec, ok := s.records[name]
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return s.sealer.Open(rec.Sealed)
}
