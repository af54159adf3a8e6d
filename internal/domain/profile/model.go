package profile

import (
	"fmt"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/ehr/mapper/internal/domain/terminology"
	"github.com/ehr/mapper/internal/domain/transform"
)

// FieldRule is one declared mapping instruction. A rule with an empty
// SourcePath is declared but unmapped; it only produces a value through
// gap-fill.
type FieldRule struct {
	FieldName              string
	SourcePath             string
	TargetPath             string
	Transforms             []transform.Step
	RequiresCodeResolution bool
	// CodeSystem is the target coding system, set iff RequiresCodeResolution.
	CodeSystem string
	// SourceCodeSystem defaults to the profile's source system.
	SourceCodeSystem string
	// CodeTable holds rule-local code overrides (snomed_map entries).
	CodeTable map[string]terminology.Coding
	Filter    string
}

// Profile is an immutable mapping configuration for one source system.
// Published profiles are superseded, never mutated; callers must not modify
// a Profile returned by a Store.
type Profile struct {
	ProfileID           string
	SourceSystem        string
	Version             string
	Active              bool
	BundleType          string
	FieldRules          []FieldRule
	GapFillEnabled      bool
	MinConfidence       float64
	ExcludedFromGapFill mapset.Set[string]
	OracleModel         string
	CreatedAt           time.Time
}

// Excluded reports whether fieldName may never be gap-filled.
func (p *Profile) Excluded(fieldName string) bool {
	return p.ExcludedFromGapFill != nil && p.ExcludedFromGapFill.Contains(fieldName)
}

// Validate checks the structural invariants of a profile.
func (p *Profile) Validate() error {
	if p.ProfileID == "" {
		return &InvalidProfileError{Reason: "profile_id is required"}
	}
	if p.SourceSystem == "" {
		return &InvalidProfileError{ProfileID: p.ProfileID, Reason: "source_system is required"}
	}
	if p.Version == "" {
		return &InvalidProfileError{ProfileID: p.ProfileID, Reason: "version is required"}
	}
	if p.MinConfidence < 0 || p.MinConfidence > 1 {
		return &InvalidProfileError{ProfileID: p.ProfileID, Reason: fmt.Sprintf("min_confidence %v outside [0,1]", p.MinConfidence)}
	}
	if len(p.FieldRules) == 0 {
		return &InvalidProfileError{ProfileID: p.ProfileID, Reason: "at least one field is required"}
	}

	seen := make(map[string]struct{}, len(p.FieldRules))
	for i, r := range p.FieldRules {
		if r.FieldName == "" {
			return &InvalidProfileError{ProfileID: p.ProfileID, Reason: fmt.Sprintf("field %d has no name", i)}
		}
		if _, dup := seen[r.FieldName]; dup {
			return &InvalidProfileError{ProfileID: p.ProfileID, Reason: fmt.Sprintf("duplicate field %q", r.FieldName)}
		}
		seen[r.FieldName] = struct{}{}

		if r.RequiresCodeResolution && r.CodeSystem == "" {
			return &InvalidProfileError{ProfileID: p.ProfileID, Reason: fmt.Sprintf("field %q requires code resolution but has no code_system", r.FieldName)}
		}
		if !r.RequiresCodeResolution && r.CodeSystem != "" {
			return &InvalidProfileError{ProfileID: p.ProfileID, Reason: fmt.Sprintf("field %q has code_system without code resolution", r.FieldName)}
		}
		for _, step := range r.Transforms {
			if step.Name == "" {
				return &InvalidProfileError{ProfileID: p.ProfileID, Reason: fmt.Sprintf("field %q has an unnamed transform", r.FieldName)}
			}
		}
	}
	return nil
}
