package terminology

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Translator is an external terminology service. It returns ErrNotFound
// when the service has no mapping for the code.
type Translator interface {
	Translate(ctx context.Context, code, sourceSystem, targetSystem string) (*Coding, error)
}

// TranslationRepository persists translations learned from the external
// service so they survive restarts.
type TranslationRepository interface {
	List(ctx context.Context) ([]Translation, error)
	Upsert(ctx context.Context, t *Translation) error
}

// Resolver resolves source codes through three tiers: an in-process cache,
// the embedded concept table, and the external translator. Only external
// hits are written back to the cache.
type Resolver struct {
	cache   sync.Map // cacheKey -> Coding
	table   *ConceptTable
	remote  Translator
	repo    TranslationRepository
	timeout time.Duration
	flights singleflight.Group
	logger  zerolog.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithTranslator sets the external fallback.
func WithTranslator(t Translator) ResolverOption {
	return func(r *Resolver) { r.remote = t }
}

// WithRepository persists external hits and allows Warm to preload them.
func WithRepository(repo TranslationRepository) ResolverOption {
	return func(r *Resolver) { r.repo = repo }
}

// WithTimeout bounds each external call.
func WithTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) { r.timeout = d }
}

// NewResolver creates a resolver over the given embedded table.
func NewResolver(table *ConceptTable, logger zerolog.Logger, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		table:   table,
		timeout: 2 * time.Second,
		logger:  logger.With().Str("component", "terminology").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Warm loads persisted translations into the cache.
func (r *Resolver) Warm(ctx context.Context) (int, error) {
	if r.repo == nil {
		return 0, nil
	}
	rows, err := r.repo.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("warm terminology cache: %w", err)
	}
	for _, t := range rows {
		r.cache.Store(cacheKey{code: t.SourceCode, sourceSystem: t.SourceSystem, targetSystem: t.TargetSystem}, t.Coding())
	}
	return len(rows), nil
}

// Resolve returns the target coding for q or an *UnresolvableCodeError.
// Transport failures of the external tier are reported as unresolvable too,
// wrapping the cause; an unknown code is never passed through.
func (r *Resolver) Resolve(ctx context.Context, q Query) (Coding, error) {
	key := cacheKey{code: q.Code, sourceSystem: q.SourceSystem, targetSystem: q.TargetSystem}

	// Tier 1
	if v, ok := r.cache.Load(key); ok {
		return v.(Coding), nil
	}

	// Tier 2
	if c, ok := q.Local[q.Code]; ok {
		if c.System == "" {
			c.System = q.TargetSystem
		}
		return c, nil
	}
	if c, ok := r.table.Lookup(q.Code, q.SourceSystem, q.TargetSystem); ok {
		return c, nil
	}

	// Tier 3
	unresolved := &UnresolvableCodeError{SourceCode: q.Code, SourceSystem: q.SourceSystem, TargetSystem: q.TargetSystem}
	if r.remote == nil {
		return Coding{}, unresolved
	}

	flightKey := q.SourceSystem + "|" + q.Code + "|" + q.TargetSystem
	v, err, _ := r.flights.Do(flightKey, func() (interface{}, error) {
		if v, ok := r.cache.Load(key); ok {
			return v.(Coding), nil
		}
		// The flight outlives any single caller's cancellation.
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()

		c, err := r.remote.Translate(callCtx, q.Code, q.SourceSystem, q.TargetSystem)
		if err != nil {
			return nil, err
		}
		if c == nil || c.Code == "" {
			return nil, ErrNotFound
		}
		coding := *c
		if coding.System == "" {
			coding.System = q.TargetSystem
		}
		r.cache.Store(key, coding)
		r.persist(callCtx, q, coding)
		return coding, nil
	})
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			r.logger.Warn().Err(err).
				Str("code", q.Code).
				Str("source_system", q.SourceSystem).
				Msg("external terminology lookup failed")
		}
		return Coding{}, fmt.Errorf("%w: %v", unresolved, err)
	}
	if ctx.Err() != nil {
		return Coding{}, ctx.Err()
	}
	return v.(Coding), nil
}

func (r *Resolver) persist(ctx context.Context, q Query, c Coding) {
	if r.repo == nil {
		return
	}
	now := time.Now().UTC()
	err := r.repo.Upsert(ctx, &Translation{
		SourceSystem: q.SourceSystem,
		SourceCode:   q.Code,
		TargetSystem: q.TargetSystem,
		TargetCode:   c.Code,
		Display:      c.Display,
		VerifiedAt:   &now,
	})
	if err != nil {
		r.logger.Warn().Err(err).Str("code", q.Code).Msg("persist translation failed")
	}
}
