package mapping

import (
	"errors"

	"github.com/ehr/mapper/internal/domain/audit"
)

// ErrMalformedInput marks a source record that cannot be read at all. It is
// fatal to the run, unlike per-field failures.
var ErrMalformedInput = errors.New("mapping: malformed input")

// Input is a parsed source record. Extract reports whether a non-empty value
// exists at sourcePath; Samples returns up to n example values for a field
// name and is the only data ever shown to a gap-fill oracle.
type Input interface {
	Extract(sourcePath, filter string) (string, bool, error)
	Samples(field string, n int) []string
}

// Status is the overall outcome of a run.
type Status string

const (
	StatusComplete  Status = "complete"
	StatusPartial   Status = "partial"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// ErrorKind tags a field-level failure.
type ErrorKind string

const (
	KindUnknownTransform   ErrorKind = "unknown_transform"
	KindUnparseableDate    ErrorKind = "unparseable_date"
	KindTransform          ErrorKind = "transform_error"
	KindUnresolvableCode   ErrorKind = "unresolvable_code"
	KindExtraction         ErrorKind = "extraction_error"
	KindOracleError        ErrorKind = "oracle_error"
	KindOracleTimeout      ErrorKind = "oracle_timeout"
	KindCancelled          ErrorKind = "cancelled"
	KindProfileNotFound    ErrorKind = "profile_not_found"
	KindProfileUnavailable ErrorKind = "profile_unavailable"
	KindMalformedInput     ErrorKind = "malformed_input"
)

// MappedField is one output value placed on a FHIR path.
type MappedField struct {
	FieldName              string   `json:"field_name"`
	TargetPath             string   `json:"target_path"`
	Value                  *string  `json:"value"`
	System                 string   `json:"system,omitempty"`
	Display                string   `json:"display,omitempty"`
	TransformNames         []string `json:"transform_names"`
	Confidence             float64  `json:"confidence"`
	GapFilled              bool     `json:"gap_filled"`
	ResolvedViaTerminology bool     `json:"resolved_via_terminology"`
}

// FieldError describes why a field ended up without a value.
type FieldError struct {
	Field   string    `json:"field"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// PendingReview is a suggestion that needs a human decision before it can be
// used. It is reported, never applied.
type PendingReview struct {
	FieldName  string  `json:"field_name"`
	TargetPath string  `json:"target_path"`
	Transform  string  `json:"transform,omitempty"`
	Confidence float64 `json:"confidence"`
	Model      string  `json:"model"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

// Result is the outcome of one mapping run. Payload and Audit follow the
// profile's field declaration order.
type Result struct {
	ConversionID   string          `json:"conversion_id"`
	ProfileID      string          `json:"profile_id,omitempty"`
	ProfileVersion string          `json:"profile_version,omitempty"`
	Status         Status          `json:"status"`
	Payload        []MappedField   `json:"payload"`
	Audit          []audit.Record  `json:"audit"`
	Errors         []FieldError    `json:"errors,omitempty"`
	PendingReviews []PendingReview `json:"pending_reviews,omitempty"`
}

// Values returns the payload as a field name to value map.
func (r *Result) Values() map[string]*string {
	out := make(map[string]*string, len(r.Payload))
	for _, f := range r.Payload {
		out[f.FieldName] = f.Value
	}
	return out
}

// Field returns the mapped field with the given name.
func (r *Result) Field(name string) (MappedField, bool) {
	for _, f := range r.Payload {
		if f.FieldName == name {
			return f, true
		}
	}
	return MappedField{}, false
}
