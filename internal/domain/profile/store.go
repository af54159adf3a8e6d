package profile

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// loadTimeout bounds one repository read of the active profile.
const loadTimeout = 10 * time.Second

// Store serves the active profile per source system from a TTL cache in
// front of a Repository. Cached profiles are replaced whole, never mutated,
// so a run holding a *Profile keeps a consistent view after a reload.
type Store struct {
	repo   Repository
	ttl    time.Duration
	now    func() time.Time
	logger zerolog.Logger

	mu      sync.RWMutex
	entries map[string]cacheEntry
	// gens is bumped by Invalidate; a load started under an older generation
	// never populates the cache.
	gens    map[string]uint64
	flights singleflight.Group
}

type cacheEntry struct {
	profile *Profile
	expires time.Time
}

// NewStore creates a Store. A non-positive ttl disables caching.
func NewStore(repo Repository, ttl time.Duration, logger zerolog.Logger) *Store {
	return &Store{
		repo:    repo,
		ttl:     ttl,
		now:     time.Now,
		logger:  logger.With().Str("component", "profile_store").Logger(),
		entries: make(map[string]cacheEntry),
		gens:    make(map[string]uint64),
	}
}

// GetActive returns the active profile for sourceSystem or a
// *ProfileNotFoundError.
func (s *Store) GetActive(ctx context.Context, sourceSystem string) (*Profile, error) {
	s.mu.RLock()
	e, ok := s.entries[sourceSystem]
	gen := s.gens[sourceSystem]
	s.mu.RUnlock()
	if ok && s.now().Before(e.expires) {
		return e.profile, nil
	}

	key := sourceSystem + "#" + strconv.FormatUint(gen, 10)
	v, err, _ := s.flights.Do(key, func() (interface{}, error) {
		// Callers joining the flight must not inherit the first caller's
		// cancellation.
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()

		p, err := s.repo.GetActive(loadCtx, sourceSystem)
		if err != nil {
			return nil, err
		}
		if s.ttl > 0 {
			s.mu.Lock()
			if s.gens[sourceSystem] == gen {
				s.entries[sourceSystem] = cacheEntry{profile: p, expires: s.now().Add(s.ttl)}
			}
			s.mu.Unlock()
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return v.(*Profile), nil
}

// Publish stores p as the active version of its source system and
// invalidates the cached entry.
func (s *Store) Publish(ctx context.Context, p *Profile) error {
	if err := s.repo.Publish(ctx, p); err != nil {
		return err
	}
	s.Invalidate(p.SourceSystem)
	s.logger.Info().
		Str("source_system", p.SourceSystem).
		Str("profile_id", p.ProfileID).
		Str("version", p.Version).
		Msg("profile published")
	return nil
}

// Invalidate forces the next GetActive for sourceSystem to read the
// repository.
func (s *Store) Invalidate(sourceSystem string) {
	s.mu.Lock()
	delete(s.entries, sourceSystem)
	s.gens[sourceSystem]++
	s.mu.Unlock()
	s.logger.Debug().Str("source_system", sourceSystem).Msg("profile cache invalidated")
}

// ListVersions returns every stored version for sourceSystem.
func (s *Store) ListVersions(ctx context.Context, sourceSystem string) ([]VersionInfo, error) {
	return s.repo.ListVersions(ctx, sourceSystem)
}
