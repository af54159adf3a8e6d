package profile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"gopkg.in/yaml.v3"

	"github.com/ehr/mapper/internal/domain/terminology"
	"github.com/ehr/mapper/internal/domain/transform"
)

// Document is the serialized form of a Profile: the YAML files under the
// profile directory, request bodies, and the JSONB column of
// mapping_profiles.
//
// Besides the canonical "fields" list, YAML documents may group rules under
// resource sections, where each key is a field name and the value is either
// a rule or a bare source locator:
//
//	patient:
//	  family_name:
//	    source: "PID.5.1"
//	    transform: TRIM
//	  plan_code: IN1.35
//
// A sectioned rule without an explicit target maps to "<Section>.<field>".
type Document struct {
	ProfileID    string                          `yaml:"profile_id" json:"profile_id"`
	SourceSystem string                          `yaml:"source_system" json:"source_system"`
	Version      string                          `yaml:"version" json:"version"`
	BundleType   string                          `yaml:"bundle_type,omitempty" json:"bundle_type,omitempty"`
	Fields       []FieldDocument                 `yaml:"fields" json:"fields"`
	SNOMEDMap    map[string]map[string]CodeEntry `yaml:"snomed_map,omitempty" json:"snomed_map,omitempty"`
	LLMFallback  *FallbackDocument               `yaml:"llm_fallback,omitempty" json:"llm_fallback,omitempty"`
}

// FieldDocument is one rule. Transform plus CodeMap is shorthand for a
// single step carrying the map as params; Transforms lists further steps.
type FieldDocument struct {
	Name             string            `yaml:"name" json:"name"`
	Source           string            `yaml:"source,omitempty" json:"source,omitempty"`
	Target           string            `yaml:"target,omitempty" json:"target,omitempty"`
	Transform        string            `yaml:"transform,omitempty" json:"transform,omitempty"`
	CodeMap          map[string]string `yaml:"code_map,omitempty" json:"code_map,omitempty"`
	Transforms       []transform.Step  `yaml:"transforms,omitempty" json:"transforms,omitempty"`
	CodeSystem       string            `yaml:"code_system,omitempty" json:"code_system,omitempty"`
	SourceCodeSystem string            `yaml:"source_code_system,omitempty" json:"source_code_system,omitempty"`
	Filter           string            `yaml:"filter,omitempty" json:"filter,omitempty"`
}

// FallbackDocument configures gap-fill for the profile.
type FallbackDocument struct {
	Enabled        bool     `yaml:"enabled" json:"enabled"`
	Model          string   `yaml:"model,omitempty" json:"model,omitempty"`
	MinConfidence  float64  `yaml:"min_confidence,omitempty" json:"min_confidence,omitempty"`
	FieldsExcluded []string `yaml:"fields_excluded,omitempty" json:"fields_excluded,omitempty"`
}

// CodeEntry is a snomed_map value: either {code, display} or a bare code.
type CodeEntry struct {
	Code    string `yaml:"code" json:"code"`
	Display string `yaml:"display,omitempty" json:"display,omitempty"`
}

func (c *CodeEntry) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		c.Code = node.Value
		return nil
	}
	type plain CodeEntry
	return node.Decode((*plain)(c))
}

func (f *FieldDocument) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		f.Source = node.Value
		return nil
	}
	type plain FieldDocument
	return node.Decode((*plain)(f))
}

var reservedKeys = map[string]bool{
	"profile_id": true, "source_system": true, "version": true,
	"bundle_type": true, "fhir_bundle_type": true, "fields": true,
	"snomed_map": true, "llm_fallback": true,
	"nhcx_profile": true, "validation": true,
}

func (d *Document) UnmarshalYAML(node *yaml.Node) error {
	type plain Document
	if err := node.Decode((*plain)(d)); err != nil {
		return err
	}
	if node.Kind != yaml.MappingNode {
		return nil
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i].Value, node.Content[i+1]
		if key == "fhir_bundle_type" && d.BundleType == "" {
			d.BundleType = val.Value
		}
		if reservedKeys[key] || val.Kind != yaml.MappingNode {
			continue
		}
		for j := 0; j+1 < len(val.Content); j += 2 {
			name := val.Content[j].Value
			var f FieldDocument
			if err := val.Content[j+1].Decode(&f); err != nil {
				return fmt.Errorf("section %s, field %s: %w", key, name, err)
			}
			f.Name = name
			if f.Target == "" {
				f.Target = sectionTarget(key, name)
			}
			d.Fields = append(d.Fields, f)
		}
	}
	return nil
}

func sectionTarget(section, field string) string {
	if section == "" {
		return field
	}
	return strings.ToUpper(section[:1]) + section[1:] + "." + field
}

// DecodeYAML parses and validates a YAML profile document.
func DecodeYAML(data []byte) (*Profile, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &InvalidProfileError{Reason: fmt.Sprintf("parse yaml: %v", err)}
	}
	return doc.Profile()
}

// DecodeJSON parses and validates a JSON profile document.
func DecodeJSON(data []byte) (*Profile, error) {
	var doc Document
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, &InvalidProfileError{Reason: fmt.Sprintf("parse json: %v", err)}
	}
	return doc.Profile()
}

// EncodeYAML renders p in canonical form (a flat "fields" list).
func EncodeYAML(p *Profile) ([]byte, error) {
	return yaml.Marshal(NewDocument(p))
}

// Profile converts the document into a validated Profile.
func (d *Document) Profile() (*Profile, error) {
	p := &Profile{
		ProfileID:    d.ProfileID,
		SourceSystem: d.SourceSystem,
		Version:      d.Version,
		BundleType:   d.BundleType,
		FieldRules:   make([]FieldRule, 0, len(d.Fields)),
	}
	if fb := d.LLMFallback; fb != nil {
		p.GapFillEnabled = fb.Enabled
		p.MinConfidence = fb.MinConfidence
		p.OracleModel = fb.Model
		p.ExcludedFromGapFill = mapset.NewSet(fb.FieldsExcluded...)
	} else {
		p.ExcludedFromGapFill = mapset.NewSet[string]()
	}

	for _, f := range d.Fields {
		rule := FieldRule{
			FieldName:        f.Name,
			SourcePath:       f.Source,
			TargetPath:       f.Target,
			CodeSystem:       f.CodeSystem,
			SourceCodeSystem: f.SourceCodeSystem,
			Filter:           f.Filter,
		}
		switch {
		case f.Transform != "":
			rule.Transforms = append(rule.Transforms, transform.Step{Name: f.Transform, Params: f.CodeMap})
		case len(f.CodeMap) > 0:
			rule.Transforms = append(rule.Transforms, transform.Step{Name: transform.CodeMap, Params: f.CodeMap})
		}
		rule.Transforms = append(rule.Transforms, f.Transforms...)

		if entries, ok := d.SNOMEDMap[f.Name]; ok {
			if rule.CodeSystem == "" {
				rule.CodeSystem = terminology.SystemSNOMED
			}
			rule.CodeTable = make(map[string]terminology.Coding, len(entries))
			for code, e := range entries {
				rule.CodeTable[code] = terminology.Coding{System: rule.CodeSystem, Code: e.Code, Display: e.Display}
			}
		}
		rule.RequiresCodeResolution = rule.CodeSystem != ""
		if rule.SourceCodeSystem == "" {
			rule.SourceCodeSystem = d.SourceSystem
		}
		p.FieldRules = append(p.FieldRules, rule)
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// NewDocument renders p in canonical form.
func NewDocument(p *Profile) *Document {
	d := &Document{
		ProfileID:    p.ProfileID,
		SourceSystem: p.SourceSystem,
		Version:      p.Version,
		BundleType:   p.BundleType,
		Fields:       make([]FieldDocument, 0, len(p.FieldRules)),
	}

	excluded := []string{}
	if p.ExcludedFromGapFill != nil {
		excluded = p.ExcludedFromGapFill.ToSlice()
		sort.Strings(excluded)
	}
	if p.GapFillEnabled || p.OracleModel != "" || p.MinConfidence != 0 || len(excluded) > 0 {
		d.LLMFallback = &FallbackDocument{
			Enabled:        p.GapFillEnabled,
			Model:          p.OracleModel,
			MinConfidence:  p.MinConfidence,
			FieldsExcluded: excluded,
		}
	}

	for _, r := range p.FieldRules {
		f := FieldDocument{
			Name:       r.FieldName,
			Source:     r.SourcePath,
			Target:     r.TargetPath,
			Transforms: r.Transforms,
			Filter:     r.Filter,
		}
		if r.RequiresCodeResolution {
			f.CodeSystem = r.CodeSystem
		}
		if r.SourceCodeSystem != p.SourceSystem {
			f.SourceCodeSystem = r.SourceCodeSystem
		}
		if len(r.CodeTable) > 0 {
			if d.SNOMEDMap == nil {
				d.SNOMEDMap = make(map[string]map[string]CodeEntry)
			}
			entries := make(map[string]CodeEntry, len(r.CodeTable))
			for code, c := range r.CodeTable {
				entries[code] = CodeEntry{Code: c.Code, Display: c.Display}
			}
			d.SNOMEDMap[r.FieldName] = entries
		}
		d.Fields = append(d.Fields, f)
	}
	return d
}

// sameContent reports whether a and b render to the same canonical document.
func sameContent(a, b *Profile) bool {
	da, errA := json.Marshal(NewDocument(a))
	db, errB := json.Marshal(NewDocument(b))
	return errA == nil && errB == nil && bytes.Equal(da, db)
}
