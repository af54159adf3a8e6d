package profile

import "context"

// Repository is the durable profile store. Publish must make the given
// version the only active one for its source system in a single step.
type Repository interface {
	GetActive(ctx context.Context, sourceSystem string) (*Profile, error)
	Publish(ctx context.Context, p *Profile) error
	ListVersions(ctx context.Context, sourceSystem string) ([]VersionInfo, error)
}

// VersionInfo summarises one stored version.
type VersionInfo struct {
	ProfileID string `json:"profile_id"`
	Version   string `json:"version"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at"`
}
