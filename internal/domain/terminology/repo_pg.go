package terminology

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type translationRepoPG struct{ pool *pgxpool.Pool }

// NewTranslationRepoPG returns a TranslationRepository backed by the
// code_translations table.
func NewTranslationRepoPG(pool *pgxpool.Pool) TranslationRepository {
	return &translationRepoPG{pool: pool}
}

func (r *translationRepoPG) List(ctx context.Context) ([]Translation, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT source_system, source_code, target_system, target_code, COALESCE(display,''), verified_at
		 FROM code_translations
		 ORDER BY source_system, source_code`)
	if err != nil {
		return nil, fmt.Errorf("list code translations: %w", err)
	}
	defer rows.Close()

	var results []Translation
	for rows.Next() {
		var t Translation
		if err := rows.Scan(&t.SourceSystem, &t.SourceCode, &t.TargetSystem, &t.TargetCode, &t.Display, &t.VerifiedAt); err != nil {
			return nil, err
		}
		results = append(results, t)
	}
	return results, rows.Err()
}

func (r *translationRepoPG) Upsert(ctx context.Context, t *Translation) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO code_translations (source_system, source_code, target_system, target_code, display, verified_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (source_code, source_system, target_system)
		 DO UPDATE SET target_code = EXCLUDED.target_code, display = EXCLUDED.display, verified_at = EXCLUDED.verified_at`,
		t.SourceSystem, t.SourceCode, t.TargetSystem, t.TargetCode, t.Display, t.VerifiedAt)
	if err != nil {
		return fmt.Errorf("upsert code translation: %w", err)
	}
	return nil
}
