package gapfill

import (
	"context"

	"github.com/ehr/mapper/internal/domain/transform"
)

// Request carries only the unmapped field's own context. Whole source
// records are never sent to an oracle.
type Request struct {
	FieldName     string
	SampleValues  []string
	TargetContext string
	SourceSystem  string
}

// Suggestion is an oracle's proposed mapping for one field.
type Suggestion struct {
	TargetPath string
	// SourcePath is set when the oracle proposes a different locator.
	SourcePath    string
	Confidence    float64
	TransformHint *transform.Step
	Reasoning     string
}

// Oracle proposes mappings for unmapped fields.
type Oracle interface {
	Suggest(ctx context.Context, req Request) (*Suggestion, error)
	Model() string
}

// Decision is the acceptance tier of a suggestion.
type Decision string

const (
	Accepted           Decision = "accepted"
	AcceptedReviewable Decision = "accepted_reviewable"
	PendingReview      Decision = "pending_review"
	Rejected           Decision = "rejected"
	OracleFailed       Decision = "oracle_error"
	OracleTimedOut     Decision = "oracle_timeout"
	// Disabled means no oracle is configured.
	Disabled Decision = "disabled"
)

// Outcome is the result of one gap-fill attempt.
type Outcome struct {
	Decision   Decision
	Suggestion *Suggestion
	Model      string
	Err        error
}

// Applied reports whether the suggestion may be used in this run.
func (o Outcome) Applied() bool {
	return o.Decision == Accepted || o.Decision == AcceptedReviewable
}
