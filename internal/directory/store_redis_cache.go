package directory

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	id "vanscontrol/pkg/domain"
	"vanscontrol/pkg/platform/circuit"
)

// cacheProbeInterval paces retries against Redis while the breaker is open.
const cacheProbeInterval = 30 * time.Second

// CachedChildStore is a read-through Redis cache in front of another
// ChildStore. Cache failures degrade to the backing store; they never fail a
// lookup on their own. Repeated failures open a circuit breaker so a down
// Redis is only probed periodically instead of on every lookup.
type CachedChildStore struct {
	client   *redis.Client
	backing  ChildStore
	cacheTTL time.Duration
	breaker  *circuit.Breaker
	logger   *slog.Logger

	probeMu   sync.Mutex
	nextProbe time.Time
}

func NewCachedChildStore(client *redis.Client, backing ChildStore, cacheTTL time.Duration, logger *slog.Logger) *CachedChildStore {
	return &CachedChildStore{
		client:   client,
		backing:  backing,
		cacheTTL: cacheTTL,
		breaker:  circuit.New("child-cache"),
		logger:   logger,
	}
}

type cachedChild struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	School         string `json:"school"`
	FamilyGroupKey string `json:"family_group_key"`
}

func childKey(childID id.ChildID) string {
	return "directory:child:" + childID.String()
}

// Save writes through to the backing store and refreshes the cache entry.
func (s *CachedChildStore) Save(ctx context.Context, child Child) error {
	if err := s.backing.Save(ctx, child); err != nil {
		return err
	}
	s.cache(ctx, child)
	return nil
}

// FindByID serves from Redis when possible and falls back to the backing
// store, repopulating the cache on a hit.
func (s *CachedChildStore) FindByID(ctx context.Context, childID id.ChildID) (Child, error) {
	if s.cacheUsable() {
		if raw, err := s.client.Get(ctx, childKey(childID)).Bytes(); err == nil {
			s.recordOutcome(ctx, nil)
			var cached cachedChild
			if err := json.Unmarshal(raw, &cached); err == nil {
				parsed, parseErr := id.ParseChildID(cached.ID)
				if parseErr == nil {
					return Child{
						ID:             parsed,
						Name:           cached.Name,
						School:         cached.School,
						FamilyGroupKey: id.FamilyGroupKey(cached.FamilyGroupKey),
					}, nil
				}
			}
			s.logger.WarnContext(ctx, "dropping corrupt cache entry", "child_id", childID)
			_ = s.client.Del(ctx, childKey(childID)).Err()
		} else if errors.Is(err, redis.Nil) {
			s.recordOutcome(ctx, nil)
		} else {
			s.recordOutcome(ctx, err)
			s.logger.WarnContext(ctx, "child cache read failed", "child_id", childID, "error", err)
		}
	}

	child, err := s.backing.FindByID(ctx, childID)
	if err != nil {
		return Child{}, err
	}
	s.cache(ctx, child)
	return child, nil
}

func (s *CachedChildStore) cache(ctx context.Context, child Child) {
	if !s.cacheUsable() {
		return
	}
	payload, err := json.Marshal(cachedChild{
		ID:             child.ID.String(),
		Name:           child.Name,
		School:         child.School,
		FamilyGroupKey: child.FamilyGroupKey.String(),
	})
	if err != nil {
		return
	}
	if err := s.client.Set(ctx, childKey(child.ID), payload, s.cacheTTL).Err(); err != nil {
		s.recordOutcome(ctx, err)
		s.logger.WarnContext(ctx, "child cache write failed", "child_id", child.ID, "error", err)
		return
	}
	s.recordOutcome(ctx, nil)
}

// cacheUsable reports whether Redis should be attempted for this call. While
// the breaker is open only one probe per interval goes through.
func (s *CachedChildStore) cacheUsable() bool {
	if !s.breaker.IsOpen() {
		return true
	}
	s.probeMu.Lock()
	defer s.probeMu.Unlock()
	now := time.Now()
	if now.Before(s.nextProbe) {
		return false
	}
	s.nextProbe = now.Add(cacheProbeInterval)
	return true
}

func (s *CachedChildStore) recordOutcome(ctx context.Context, err error) {
	if err != nil {
		if _, change := s.breaker.RecordFailure(); change.Opened {
			s.logger.WarnContext(ctx, "child cache circuit opened")
		}
		return
	}
	if _, change := s.breaker.RecordSuccess(); change.Closed {
		s.logger.InfoContext(ctx, "child cache circuit closed")
	}
}

var _ ChildStore = (*CachedChildStore)(nil)
