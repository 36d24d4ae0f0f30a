package score

import (
	"context"
	"sync"
	"time"
)

// MemoryStore 行程內的最佳時間儲存，未設定 Redis 時使用
type MemoryStore struct {
	mu   sync.Mutex
	best map[string]time.Duration
}

// NewMemoryStore 創建記憶體儲存
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{best: make(map[string]time.Duration)}
}

// SetIfBetter 實作 BestTimeStore
func (s *MemoryStore) SetIfBetter(_ context.Context, participant string, elapsed time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, exists := s.best[participant]; exists && current <= elapsed {
		return false, nil
	}
	s.best[participant] = elapsed
	return true, nil
}

// BestTime 實作 BestTimeStore
func (s *MemoryStore) BestTime(_ context.Context, participant string) (time.Duration, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	best, exists := s.best[participant]
	return best, exists, nil
}
