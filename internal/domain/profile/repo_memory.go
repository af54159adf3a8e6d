package profile

import (
	"context"
	"sync"
	"time"
)

type memoryRepo struct {
	mu       sync.RWMutex
	versions map[string][]*Profile // source system -> versions in publish order
	now      func() time.Time
}

// NewMemoryRepository returns a Repository held in process memory. It is
// used when no database is configured and in tests.
func NewMemoryRepository() Repository {
	return &memoryRepo{versions: make(map[string][]*Profile), now: time.Now}
}

func (r *memoryRepo) GetActive(_ context.Context, sourceSystem string) (*Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.versions[sourceSystem] {
		if p.Active {
			return p, nil
		}
	}
	return nil, &ProfileNotFoundError{SourceSystem: sourceSystem}
}

func (r *memoryRepo) Publish(_ context.Context, p *Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	existing := r.versions[p.SourceSystem]
	idx := -1
	for i, v := range existing {
		if v.Version != p.Version {
			continue
		}
		if !sameContent(v, p) {
			return &VersionConflictError{SourceSystem: p.SourceSystem, Version: p.Version}
		}
		idx = i
	}

	// Stored profiles are never mutated; superseded versions are replaced by
	// inactive copies.
	next := make([]*Profile, len(existing), len(existing)+1)
	for i, v := range existing {
		cp := *v
		cp.Active = i == idx
		next[i] = &cp
	}
	if idx < 0 {
		cp := *p
		cp.Active = true
		cp.CreatedAt = r.now().UTC()
		next = append(next, &cp)
	}
	r.versions[p.SourceSystem] = next
	return nil
}

func (r *memoryRepo) ListVersions(_ context.Context, sourceSystem string) ([]VersionInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]VersionInfo, 0, len(r.versions[sourceSystem]))
	for _, p := range r.versions[sourceSystem] {
		out = append(out, VersionInfo{
			ProfileID: p.ProfileID,
			Version:   p.Version,
			Active:    p.Active,
			CreatedAt: p.CreatedAt.Format(time.RFC3339),
		})
	}
	return out, nil
}
