package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Store — счётчик скользящего окна.
//
// Hit добавляет отметку now для ключа, отбрасывает отметки старше window
// и возвращает количество оставшихся (включая только что добавленную).
type Store interface {
	Hit(ctx context.Context, key string, now time.Time, window time.Duration) (int, error)
}

// MemoryStore хранит отметки в ограниченном LRU с TTL, равным окну:
// заброшенные ключи вытесняются сами, а число ключей не превышает ёмкость.
type MemoryStore struct {
	mu  sync.Mutex
	lru *expirable.LRU[string, []time.Time]
}

// NewMemoryStore создаёт хранилище на capacity ключей с TTL записи window.
func NewMemoryStore(capacity int, window time.Duration) *MemoryStore {
	return &MemoryStore{lru: expirable.NewLRU[string, []time.Time](capacity, nil, window)}
}

func (s *MemoryStore) Hit(_ context.Context, key string, now time.Time, window time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stamps, _ := s.lru.Get(key)
	stamps = prune(stamps, now.Add(-window))
	stamps = append(stamps, now)

	// Add обновляет и позицию в LRU, и срок жизни записи.
	s.lru.Add(key, stamps)

	return len(stamps), nil
}

// Len возвращает число отслеживаемых ключей.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lru.Len()
}

// prune оставляет отметки строго позже threshold. Отметки упорядочены.
func prune(stamps []time.Time, threshold time.Time) []time.Time {
	i := 0
	for i < len(stamps) && !stamps[i].After(threshold) {
		i++
	}

	if i == 0 {
		return stamps
	}

	out := make([]time.Time, len(stamps)-i, len(stamps)-i+1)
	copy(out, stamps[i:])

	return out
}

var _ Store = (*MemoryStore)(nil)
