package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// ListerPort abstracts the repository for resolution.
type ListerPort interface {
	ListEffective(ctx context.Context, date time.Time) ([]Policy, error)
	Create(ctx context.Context, p Policy) (int64, error)
	Get(ctx context.Context, id int64) (*Policy, error)
}

// Service resolves pricing policies with a short-lived Redis cache in front
// of the repository. Resolution itself is pure (see Resolve).
type Service struct {
	repo   ListerPort
	cache  *redis.Client
	ttl    time.Duration
	group  singleflight.Group
	logger *slog.Logger
}

// NewService constructs a Service. cache may be nil; lookups then always hit
// the repository.
func NewService(repo ListerPort, cache *redis.Client, ttl time.Duration, logger *slog.Logger) *Service {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Service{repo: repo, cache: cache, ttl: ttl, logger: logger}
}

// ResolvePrice returns the applicable policy for the query. The boolean is
// false when no policy applies; that is not an error - callers fall back to
// the unit's base price.
func (s *Service) ResolvePrice(ctx context.Context, q Query) (Policy, bool, error) {
	candidates, err := s.effectivePolicies(ctx, q.Date)
	if err != nil {
		return Policy{}, false, fmt.Errorf("load policies: %w", err)
	}
	p, ok := Resolve(candidates, q)
	return p, ok, nil
}

// CreatePolicy stores a policy and drops the lookup cache.
func (s *Service) CreatePolicy(ctx context.Context, p Policy) (*Policy, error) {
	if p.Name == "" {
		return nil, errors.New("policy: name required")
	}
	if _, ok := scopeRank[p.Scope]; !ok {
		return nil, fmt.Errorf("policy: unknown scope %q", p.Scope)
	}
	id, err := s.repo.Create(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("create policy: %w", err)
	}
	s.invalidate(ctx)
	return s.repo.Get(ctx, id)
}

func (s *Service) effectivePolicies(ctx context.Context, date time.Time) ([]Policy, error) {
	if s.cache == nil {
		return s.repo.ListEffective(ctx, date)
	}
	key := cacheKey(date)
	if data, err := s.cache.Get(ctx, key).Bytes(); err == nil {
		var policies []Policy
		if err := json.Unmarshal(data, &policies); err == nil {
			return policies, nil
		}
	}
	v, err, _ := s.group.Do(key, func() (any, error) {
		policies, err := s.repo.ListEffective(ctx, date)
		if err != nil {
			return nil, err
		}
		if data, err := json.Marshal(policies); err == nil {
			if err := s.cache.Set(ctx, key, data, s.ttl).Err(); err != nil && s.logger != nil {
				s.logger.Warn("policy cache set", slog.Any("error", err))
			}
		}
		return policies, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Policy), nil
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	iter := s.cache.Scan(ctx, 0, "policies:effective:*", 100).Iterator()
	for iter.Next(ctx) {
		if err := s.cache.Del(ctx, iter.Val()).Err(); err != nil && s.logger != nil {
			s.logger.Warn("policy cache invalidate", slog.Any("error", err))
		}
	}
}

func cacheKey(date time.Time) string {
	return "policies:effective:" + date.UTC().Format("2006-01-02")
}
