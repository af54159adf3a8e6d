package terminology

import (
	"errors"
	"fmt"
	"time"
)

// Code system URIs for well-known terminology systems.
const (
	SystemLOINC   = "http://loinc.org"
	SystemICD10   = "http://hl7.org/fhir/sid/icd-10-cm"
	SystemSNOMED  = "http://snomed.info/sct"
	SystemRxNorm  = "http://www.nlm.nih.gov/research/umls/rxnorm"
	SystemV2Sex   = "http://terminology.hl7.org/CodeSystem/v2-0001"
	SystemV2Class = "http://terminology.hl7.org/CodeSystem/v2-0004"
)

// Coding is a resolved code in a target system.
type Coding struct {
	System  string `json:"system" yaml:"system,omitempty"`
	Code    string `json:"code" yaml:"code"`
	Display string `json:"display,omitempty" yaml:"display,omitempty"`
}

// Query asks for the target-system coding of a source code. Local holds
// per-rule overrides (a profile's snomed_map entries) keyed by source code;
// they are consulted alongside the embedded table.
type Query struct {
	Code         string
	SourceSystem string
	TargetSystem string
	Local        map[string]Coding
}

// Translation is a persisted source→target code pair, the row shape of the
// code_translations table.
type Translation struct {
	SourceSystem string     `db:"source_system" json:"source_system"`
	SourceCode   string     `db:"source_code" json:"source_code"`
	TargetSystem string     `db:"target_system" json:"target_system"`
	TargetCode   string     `db:"target_code" json:"target_code"`
	Display      string     `db:"display" json:"display,omitempty"`
	VerifiedAt   *time.Time `db:"verified_at" json:"verified_at,omitempty"`
}

// Coding returns the target side of the translation.
func (t Translation) Coding() Coding {
	return Coding{System: t.TargetSystem, Code: t.TargetCode, Display: t.Display}
}

// ErrNotFound is returned by a Translator that has no mapping for a code.
var ErrNotFound = errors.New("terminology: code not found")

// UnresolvableCodeError is returned when no tier can resolve a code.
type UnresolvableCodeError struct {
	SourceCode   string
	SourceSystem string
	TargetSystem string
}

func (e *UnresolvableCodeError) Error() string {
	return fmt.Sprintf("unresolvable code %q from system %q to %q", e.SourceCode, e.SourceSystem, e.TargetSystem)
}

type cacheKey struct {
	code, sourceSystem, targetSystem string
}
