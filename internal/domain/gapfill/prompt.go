package gapfill

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/ehr/mapper/internal/domain/transform"
)

const systemPrompt = "You are a FHIR R4 field mapping expert specializing in NHCX/ABDM healthcare standards. Return ONLY valid JSON."

// BuildPrompt renders the user prompt for req. transforms lists the
// transform names the oracle may propose.
func BuildPrompt(req Request, transforms []string) string {
	samples, _ := json.Marshal(req.SampleValues)

	var b strings.Builder
	b.WriteString("INPUT FIELD DETAILS:\n")
	fmt.Fprintf(&b, "- Field name: %q\n", req.FieldName)
	fmt.Fprintf(&b, "- Sample values: %s\n", samples)
	if req.SourceSystem != "" {
		fmt.Fprintf(&b, "- Source system: %q\n", req.SourceSystem)
	}
	b.WriteString("\nFHIR CONTEXT:\n")
	if req.TargetContext != "" {
		fmt.Fprintf(&b, "- Target: %s\n", req.TargetContext)
	}
	if len(transforms) > 0 {
		fmt.Fprintf(&b, "- Available transforms: %s\n", strings.Join(transforms, ", "))
	}
	b.WriteString(`
INSTRUCTIONS:
1. Identify the most likely FHIR R4 path for this field
2. Identify any data transformation needed, or "NONE"
3. Return ONLY valid JSON, no explanation text

RESPONSE FORMAT:
{
  "fhir_path": "Patient.birthDate",
  "transform": "DATE_NORMALIZE",
  "confidence": 0.97,
  "reasoning": "Field name contains 'dob', sample values are consistent date patterns"
}`)
	return b.String()
}

type suggestionJSON struct {
	FHIRPath        string            `json:"fhir_path"`
	SourcePath      string            `json:"source_path"`
	Transform       string            `json:"transform"`
	TransformParams map[string]string `json:"transform_params"`
	Confidence      *float64          `json:"confidence"`
	Reasoning       string            `json:"reasoning"`
}

// ParseSuggestion extracts the JSON answer from an oracle reply.
func ParseSuggestion(reply string) (*Suggestion, error) {
	raw, err := ExtractJSON(reply)
	if err != nil {
		return nil, err
	}
	var sj suggestionJSON
	if err := json.Unmarshal([]byte(raw), &sj); err != nil {
		return nil, fmt.Errorf("unmarshal suggestion: %w", err)
	}
	if sj.Confidence == nil {
		return nil, fmt.Errorf("suggestion has no confidence")
	}

	s := &Suggestion{
		TargetPath: strings.TrimSpace(sj.FHIRPath),
		SourcePath: strings.TrimSpace(sj.SourcePath),
		Confidence: *sj.Confidence,
		Reasoning:  sj.Reasoning,
	}
	if name := strings.ToUpper(strings.TrimSpace(sj.Transform)); name != "" && name != "NONE" && name != "NULL" {
		s.TransformHint = &transform.Step{Name: name, Params: sj.TransformParams}
	}
	return s, nil
}

var thinkTagPattern = regexp.MustCompile(`(?s)^\s*<think>.*?</think>\s*`)

// ExtractJSON returns the first balanced JSON object in an LLM reply, which
// may be wrapped in markdown fences or preceded by <think> blocks.
func ExtractJSON(reply string) (string, error) {
	cleaned := thinkTagPattern.ReplaceAllString(reply, "")
	if s, ok := balancedObject(cleaned); ok && json.Valid([]byte(s)) {
		return s, nil
	}
	trimmed := strings.TrimSpace(cleaned)
	if json.Valid([]byte(trimmed)) && strings.HasPrefix(trimmed, "{") {
		return trimmed, nil
	}
	return "", fmt.Errorf("no JSON object in oracle reply")
}

func balancedObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
