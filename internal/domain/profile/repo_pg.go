package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/mapper/internal/platform/db"
)

type profileRepoPG struct{ pool *pgxpool.Pool }

// NewProfileRepoPG returns a Repository backed by the mapping_profiles table.
func NewProfileRepoPG(pool *pgxpool.Pool) Repository {
	return &profileRepoPG{pool: pool}
}

func (r *profileRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func (r *profileRepoPG) GetActive(ctx context.Context, sourceSystem string) (*Profile, error) {
	var (
		raw       []byte
		createdAt time.Time
	)
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT document, created_at FROM mapping_profiles
		WHERE source_system = $1 AND active`, sourceSystem).Scan(&raw, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ProfileNotFoundError{SourceSystem: sourceSystem}
	}
	if err != nil {
		return nil, fmt.Errorf("get active profile %s: %w", sourceSystem, err)
	}

	p, err := DecodeJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("decode stored profile %s: %w", sourceSystem, err)
	}
	p.Active = true
	p.CreatedAt = createdAt
	return p, nil
}

func (r *profileRepoPG) Publish(ctx context.Context, p *Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	doc, err := json.Marshal(NewDocument(p))
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}

	return db.InTx(ctx, r.pool, func(ctx context.Context) error {
		if _, err := r.conn(ctx).Exec(ctx, `
			UPDATE mapping_profiles SET active = FALSE
			WHERE source_system = $1 AND active AND version <> $2`,
			p.SourceSystem, p.Version); err != nil {
			return fmt.Errorf("deactivate profiles: %w", err)
		}

		// Re-publishing an existing version only reactivates it; the stored
		// document is immutable.
		tag, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO mapping_profiles (profile_id, source_system, version, active, document)
			VALUES ($1, $2, $3, TRUE, $4)
			ON CONFLICT (source_system, version)
			DO UPDATE SET active = TRUE
			WHERE mapping_profiles.document = EXCLUDED.document`,
			p.ProfileID, p.SourceSystem, p.Version, doc)
		if err != nil {
			return fmt.Errorf("publish profile: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return &VersionConflictError{SourceSystem: p.SourceSystem, Version: p.Version}
		}
		return nil
	})
}

func (r *profileRepoPG) ListVersions(ctx context.Context, sourceSystem string) ([]VersionInfo, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT profile_id, version, active, created_at FROM mapping_profiles
		WHERE source_system = $1
		ORDER BY created_at`, sourceSystem)
	if err != nil {
		return nil, fmt.Errorf("list profile versions: %w", err)
	}
	defer rows.Close()

	var out []VersionInfo
	for rows.Next() {
		var (
			v  VersionInfo
			at time.Time
		)
		if err := rows.Scan(&v.ProfileID, &v.Version, &v.Active, &at); err != nil {
			return nil, err
		}
		v.CreatedAt = at.UTC().Format(time.RFC3339)
		out = append(out, v)
	}
	return out, rows.Err()
}
