package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGSink appends records to mapping_audit. A batch is written with one
// round trip; re-sending a batch after a partial failure is harmless since
// (conversion_id, seq) is unique.
type PGSink struct{ pool *pgxpool.Pool }

func NewPGSink(pool *pgxpool.Pool) *PGSink {
	return &PGSink{pool: pool}
}

func (s *PGSink) Write(ctx context.Context, batch []Record) error {
	if len(batch) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, r := range batch {
		chain := r.TransformChain
		if chain == nil {
			chain = []string{}
		}
		b.Queue(`
			INSERT INTO mapping_audit (conversion_id, seq, profile_id, profile_version, source_field,
				target_path, value_before, value_after, transform_chain, confidence, gap_filled,
				oracle_model, reviewable, pending_review, rejected, error_kind, error_detail, created_at)
			VALUES ($1,$2,NULLIF($3,''),NULLIF($4,''),$5,NULLIF($6,''),$7,$8,$9,$10,$11,
				NULLIF($12,''),$13,$14,$15,NULLIF($16,''),NULLIF($17,''),$18)
			ON CONFLICT (conversion_id, seq) DO NOTHING`,
			r.ConversionID, r.Seq, r.ProfileID, r.ProfileVersion, r.SourceField,
			r.TargetPath, r.ValueBefore, r.ValueAfter, chain, r.Confidence, r.GapFilled,
			r.OracleModel, r.Reviewable, r.PendingReview, r.Rejected, r.ErrorKind, r.Error, r.Timestamp)
	}

	br := s.pool.SendBatch(ctx, b)
	defer br.Close()
	for i := range batch {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert audit record %d of %s: %w", i, batch[i].ConversionID, err)
		}
	}
	return nil
}
