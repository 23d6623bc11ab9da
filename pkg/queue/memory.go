package queue

import (
	"context"
	"errors"
	"sort"
	"sync"
)

var ErrStoreUnavailable = errors.New("queue store unavailable")

// MemoryStore is an in-memory Store. Setting Unavailable makes every call
// fail as an unreachable broker would.
type MemoryStore struct {
	mu          sync.Mutex
	queues      map[string]CreateOptions
	creates     map[string]int
	unavailable bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		queues:  map[string]CreateOptions{},
		creates: map[string]int{},
	}
}

func (s *MemoryStore) SetUnavailable(unavailable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = unavailable
}

func (s *MemoryStore) Exists(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return false, ErrStoreUnavailable
	}
	_, ok := s.queues[name]
	return ok, nil
}

func (s *MemoryStore) Create(ctx context.Context, name string, opts CreateOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return ErrStoreUnavailable
	}
	s.queues[name] = opts
	s.creates[name]++
	return nil
}

// Queues lists the existing queue names in sorted order.
func (s *MemoryStore) Queues() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.queues))
	for name := range s.queues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *MemoryStore) Options(name string) (CreateOptions, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	opts, ok := s.queues[name]
	return opts, ok
}

// Creates reports how many times name was created.
func (s *MemoryStore) Creates(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates[name]
}
