package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"FuturesPilot/internal/domain/models"
	"FuturesPilot/internal/domain/repository"
	"FuturesPilot/pkg/cache"
)

// ErrNoState is returned when nothing has been saved under a key yet.
var ErrNoState = errors.New("state: not found")

var (
	keyRecommendation = cache.Key("state", "recommendation", "latest")
	keyActiveStrategy = cache.Key("state", "strategy", "active")
)

// CacheStateStore keeps the latest selector state in a cache.Service. With Redis
// behind it the state survives restarts; with the memory cache it only lives
// as long as the process.
type CacheStateStore struct {
	cache cache.Service
	ttl   time.Duration
}

var _ repository.StateStore = (*CacheStateStore)(nil)

func NewCacheStateStore(c cache.Service, ttl time.Duration) *CacheStateStore {
	return &CacheStateStore{cache: c, ttl: ttl}
}

func (s *CacheStateStore) SaveRecommendation(ctx context.Context, rec models.Recommendation) error {
	if err := s.cache.Set(ctx, keyRecommendation, rec, s.ttl); err != nil {
		return fmt.Errorf("save recommendation: %w", err)
	}
	return nil
}

func (s *CacheStateStore) LatestRecommendation(ctx context.Context) (models.Recommendation, error) {
	var rec models.Recommendation
	if err := s.get(ctx, keyRecommendation, &rec); err != nil {
		return models.Recommendation{}, err
	}
	return rec, nil
}

func (s *CacheStateStore) SaveActiveStrategy(ctx context.Context, id models.StrategyID) error {
	if err := s.cache.Set(ctx, keyActiveStrategy, string(id), s.ttl); err != nil {
		return fmt.Errorf("save active strategy: %w", err)
	}
	return nil
}

func (s *CacheStateStore) ActiveStrategy(ctx context.Context) (models.StrategyID, error) {
	var id string
	if err := s.get(ctx, keyActiveStrategy, &id); err != nil {
		return "", err
	}
	return models.StrategyID(id), nil
}

func (s *CacheStateStore) get(ctx context.Context, key string, dest interface{}) error {
	err := s.cache.Get(ctx, key, dest)
	if errors.Is(err, cache.ErrCacheMiss) {
		return ErrNoState
	}
	return err
}
