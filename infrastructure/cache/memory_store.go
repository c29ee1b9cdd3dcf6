package cache

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"social-publisher/domain/repository"
)

// MemoryStore is an in-process repository.IFastStore used when Redis is not
// configured and throughout the test suites. Single node only, no persistence.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]memoryValue
	zsets  map[string]map[string]float64

	// Now is swappable so expiry behaviour can be tested deterministically.
	Now func() time.Time
}

type memoryValue struct {
	data      string
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: map[string]memoryValue{},
		zsets:  map[string]map[string]float64{},
		Now:    time.Now,
	}
}

func (s *MemoryStore) expired(v memoryValue) bool {
	return !v.expiresAt.IsZero() && !s.Now().Before(v.expiresAt)
}

func (s *MemoryStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.values[key]; ok && !s.expired(v) {
		return false, nil
	}
	s.values[key] = memoryValue{data: value, expiresAt: s.deadline(ttl)}
	return true, nil
}

func (s *MemoryStore) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	if !ok || s.expired(v) || v.data != value {
		return false, nil
	}
	delete(s.values, key)
	return true, nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	if !ok || s.expired(v) {
		return "", repository.ErrNotFound
	}
	return v.data, nil
}

func (s *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = memoryValue{data: value, expiresAt: s.deadline(ttl)}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

func (s *MemoryStore) IncrBy(ctx context.Context, key string, n int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	var current int64
	if ok && !s.expired(v) {
		parsed, err := strconv.ParseInt(v.data, 10, 64)
		if err != nil {
			return 0, err
		}
		current = parsed
	} else {
		v = memoryValue{}
	}
	current += n
	v.data = strconv.FormatInt(current, 10)
	s.values[key] = v
	return current, nil
}

func (s *MemoryStore) ExpireAt(ctx context.Context, key string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	if !ok || s.expired(v) {
		return nil
	}
	v.expiresAt = at
	s.values[key] = v
	return nil
}

func (s *MemoryStore) ZAddNX(ctx context.Context, key, member string, score float64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.zsets[key]
	if !ok {
		set = map[string]float64{}
		s.zsets[key] = set
	}
	if _, exists := set[member]; exists {
		return false, nil
	}
	set[member] = score
	return true, nil
}

func (s *MemoryStore) ZRem(ctx context.Context, key, member string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.zsets[key]
	if !ok {
		return false, nil
	}
	if _, exists := set[member]; !exists {
		return false, nil
	}
	delete(set, member)
	return true, nil
}

func (s *MemoryStore) ZRangeByScore(ctx context.Context, key string, max float64, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	type entry struct {
		member string
		score  float64
	}
	var entries []entry
	for member, score := range s.zsets[key] {
		if score <= max {
			entries = append(entries, entry{member, score})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].score != entries[j].score {
			return entries[i].score < entries[j].score
		}
		return entries[i].member < entries[j].member
	})
	members := make([]string, 0, len(entries))
	for _, e := range entries {
		if limit > 0 && len(members) >= limit {
			break
		}
		members = append(members, e.member)
	}
	return members, nil
}

func (s *MemoryStore) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.Now().Add(ttl)
}

var _ repository.IFastStore = (*MemoryStore)(nil)
