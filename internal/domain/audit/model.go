package audit

import (
	"context"
	"time"
)

// Record is the append-only trace of one field in one mapping run.
type Record struct {
	ConversionID   string    `json:"conversion_id"`
	Seq            int       `json:"seq"`
	ProfileID      string    `json:"profile_id,omitempty"`
	ProfileVersion string    `json:"profile_version,omitempty"`
	SourceField    string    `json:"source_field"`
	TargetPath     string    `json:"target_path,omitempty"`
	ValueBefore    *string   `json:"value_before"`
	ValueAfter     *string   `json:"value_after"`
	TransformChain []string  `json:"transform_chain"`
	Confidence     float64   `json:"confidence"`
	GapFilled      bool      `json:"gap_filled"`
	OracleModel    string    `json:"oracle_model,omitempty"`
	Reviewable     bool      `json:"reviewable"`
	PendingReview  bool      `json:"pending_review"`
	Rejected       bool      `json:"rejected"`
	ErrorKind      string    `json:"error_kind,omitempty"`
	Error          string    `json:"error,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Sink durably appends a batch of records. A batch holds the records of
// one run in field order.
type Sink interface {
	Write(ctx context.Context, batch []Record) error
}
