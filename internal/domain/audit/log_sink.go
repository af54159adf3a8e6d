package audit

import (
	"context"

	"github.com/rs/zerolog"
)

// LogSink writes each record as a structured log event. It is the sink used
// when no database is configured.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "audit").Logger()}
}

func (s *LogSink) Write(_ context.Context, batch []Record) error {
	for _, r := range batch {
		ev := s.logger.Info().
			Str("conversion_id", r.ConversionID).
			Int("seq", r.Seq).
			Str("source_field", r.SourceField).
			Str("target_path", r.TargetPath).
			Strs("transform_chain", r.TransformChain).
			Float64("confidence", r.Confidence).
			Bool("gap_filled", r.GapFilled).
			Time("timestamp", r.Timestamp)
		if r.OracleModel != "" {
			ev = ev.Str("oracle_model", r.OracleModel)
		}
		if r.Reviewable {
			ev = ev.Bool("reviewable", true)
		}
		if r.PendingReview {
			ev = ev.Bool("pending_review", true)
		}
		if r.Rejected {
			ev = ev.Bool("rejected", true)
		}
		if r.ErrorKind != "" {
			ev = ev.Str("error_kind", r.ErrorKind).Str("error", r.Error)
		}
		ev.Msg("mapping audit")
	}
	return nil
}
