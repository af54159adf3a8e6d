package hl7v2

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ehr/mapper/internal/platform/extract"
)

// Locator addresses a value inside a message: segment name, 1-based
// segment occurrence, field and component. Component 0 means the whole
// repetition.
type Locator struct {
	Segment    string
	Occurrence int
	Field      int
	Component  int
}

// ParseLocator accepts "PID.5.1", "PID-5.1", "PID.7" and "OBX[2].5".
func ParseLocator(s string) (Locator, error) {
	parts := strings.FieldsFunc(strings.TrimSpace(s), func(r rune) bool { return r == '.' || r == '-' })
	if len(parts) < 2 || len(parts) > 3 {
		return Locator{}, fmt.Errorf("hl7v2: locator %q: expected SEG.field[.component]", s)
	}

	loc := Locator{Segment: parts[0], Occurrence: 1}
	if name, occ, ok := strings.Cut(parts[0], "["); ok {
		n, err := strconv.Atoi(strings.TrimSuffix(occ, "]"))
		if err != nil || n < 1 {
			return Locator{}, fmt.Errorf("hl7v2: locator %q: bad segment occurrence", s)
		}
		loc.Segment, loc.Occurrence = name, n
	}
	if len(loc.Segment) != 3 {
		return Locator{}, fmt.Errorf("hl7v2: locator %q: segment name must be 3 characters", s)
	}

	var err error
	if loc.Field, err = strconv.Atoi(parts[1]); err != nil || loc.Field < 1 {
		return Locator{}, fmt.Errorf("hl7v2: locator %q: bad field index", s)
	}
	if len(parts) == 3 {
		if loc.Component, err = strconv.Atoi(parts[2]); err != nil || loc.Component < 1 {
			return Locator{}, fmt.Errorf("hl7v2: locator %q: bad component index", s)
		}
	}
	return loc, nil
}

// Extractor reads values from one parsed message.
type Extractor struct {
	msg *Message
}

// NewExtractor parses raw and wraps the message.
func NewExtractor(raw []byte) (*Extractor, error) {
	msg, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	return &Extractor{msg: msg}, nil
}

// Message returns the parsed message.
func (e *Extractor) Message() *Message { return e.msg }

// Extract returns the value at locator path. A filter "<component> ==
// <value>" selects the field repetition whose component matches; the
// component is a 1-based index or "type"/"id_type" for the CX identifier
// type code (component 5).
func (e *Extractor) Extract(path, filter string) (string, bool, error) {
	if path == "" {
		return "", false, nil
	}
	loc, err := ParseLocator(path)
	if err != nil {
		return "", false, err
	}
	seg := e.segment(loc)
	if seg == nil {
		return "", false, nil
	}
	f := seg.field(loc.Field)
	if f == nil {
		return "", false, nil
	}

	rep := f.Repeats[0]
	if filter != "" {
		comp, want, err := parseRepetitionFilter(filter)
		if err != nil {
			return "", false, err
		}
		rep = nil
		for _, r := range f.Repeats {
			if component(r, comp) == want {
				rep = r
				break
			}
		}
		if rep == nil {
			return "", false, nil
		}
	}

	v := e.value(rep, loc.Component)
	return v, v != "", nil
}

// Samples treats field as a locator and returns its values across repeated
// segments, e.g. every OBX.5 in an ORU message.
func (e *Extractor) Samples(field string, n int) []string {
	loc, err := ParseLocator(field)
	if err != nil {
		return nil
	}
	var out []string
	for _, seg := range e.msg.GetSegments(loc.Segment) {
		if len(out) >= n {
			break
		}
		if f := seg.field(loc.Field); f != nil {
			if v := e.value(f.Repeats[0], loc.Component); v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}

func (e *Extractor) segment(loc Locator) *Segment {
	seen := 0
	for i := range e.msg.Segments {
		if e.msg.Segments[i].Name != loc.Segment {
			continue
		}
		if seen++; seen == loc.Occurrence {
			return &e.msg.Segments[i]
		}
	}
	return nil
}

func (e *Extractor) value(rep []string, comp int) string {
	if comp == 0 {
		return strings.Join(rep, string(e.msg.enc.component))
	}
	return component(rep, comp)
}

func parseRepetitionFilter(filter string) (int, string, error) {
	key, want, err := extract.ParseFilter(filter)
	if err != nil {
		return 0, "", err
	}
	if key == "type" {
		return 5, want, nil
	}
	comp, err := strconv.Atoi(key)
	if err != nil || comp < 1 {
		return 0, "", fmt.Errorf("hl7v2: filter %q: component must be a number or id_type", filter)
	}
	return comp, want, nil
}
