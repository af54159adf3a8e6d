// Package hl7v2 parses pipe-delimited HL7 v2.x messages and reads field
// values from them by locator ("PID.5.1", "PID-7", "PID.3.1" with a
// repetition filter).
package hl7v2

import (
	"fmt"
	"strings"
	"time"
)

// Message represents a parsed HL7v2 message.
type Message struct {
	Type       string    // MSH-9 message type (e.g. "ADT^A01")
	ControlID  string    // MSH-10
	Version    string    // MSH-12 (e.g. "2.5.1")
	Timestamp  time.Time // MSH-7
	SendingApp string    // MSH-3
	Segments   []Segment

	enc encoding
}

// Segment represents a single HL7v2 segment.
type Segment struct {
	Name   string // e.g. "MSH", "PID", "OBX"
	Fields []Field
}

// Field is one field value split into repetitions, each split into
// components.
type Field struct {
	Value   string
	Repeats [][]string
}

type encoding struct {
	field, component, repetition byte
}

var defaultEncoding = encoding{field: '|', component: '^', repetition: '~'}

// Parse parses raw HL7v2 message bytes into a structured Message.
// It supports \r, \n, and \r\n line endings for segment separation.
func Parse(raw []byte) (*Message, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("hl7v2: message is empty")
	}

	text := strings.ReplaceAll(string(raw), "\r\n", "\r")
	text = strings.ReplaceAll(text, "\n", "\r")

	var lines []string
	for _, line := range strings.Split(text, "\r") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("hl7v2: no segments found")
	}
	if !strings.HasPrefix(lines[0], "MSH") || len(lines[0]) < 8 {
		return nil, fmt.Errorf("hl7v2: first segment must be MSH, got %q", lines[0][:min(3, len(lines[0]))])
	}

	// MSH-1 is the field separator, MSH-2 the encoding characters.
	enc := defaultEncoding
	enc.field = lines[0][3]
	enc.component = lines[0][4]
	enc.repetition = lines[0][5]

	msg := &Message{enc: enc}
	for _, line := range lines {
		seg, err := parseSegment(line, enc)
		if err != nil {
			return nil, fmt.Errorf("hl7v2: failed to parse segment: %w", err)
		}
		msg.Segments = append(msg.Segments, seg)
	}

	msh := &msg.Segments[0]
	msg.SendingApp = msh.GetField(3)
	msg.Type = msh.GetField(9)
	msg.ControlID = msh.GetField(10)
	msg.Version = msh.GetField(12)
	if ts := msh.GetField(7); ts != "" {
		if t, err := parseHL7Timestamp(ts); err == nil {
			msg.Timestamp = t
		}
	}
	return msg, nil
}

func parseSegment(line string, enc encoding) (Segment, error) {
	if len(line) < 3 {
		return Segment{}, fmt.Errorf("segment too short: %q", line)
	}

	sep := string(enc.field)
	if strings.HasPrefix(line, "MSH") {
		// MSH-1 is the separator itself, so the split starts one field later.
		seg := Segment{Name: "MSH", Fields: []Field{{Value: sep, Repeats: [][]string{{sep}}}}}
		for i, part := range strings.Split(line[4:], sep) {
			if i == 0 {
				// MSH-2 holds the encoding characters and is not split.
				seg.Fields = append(seg.Fields, Field{Value: part, Repeats: [][]string{{part}}})
				continue
			}
			seg.Fields = append(seg.Fields, parseField(part, enc))
		}
		return seg, nil
	}

	name, rest, _ := strings.Cut(line, sep)
	seg := Segment{Name: name}
	if rest != "" {
		for _, f := range strings.Split(rest, sep) {
			seg.Fields = append(seg.Fields, parseField(f, enc))
		}
	}
	return seg, nil
}

func parseField(raw string, enc encoding) Field {
	f := Field{Value: raw}
	for _, rep := range strings.Split(raw, string(enc.repetition)) {
		f.Repeats = append(f.Repeats, strings.Split(rep, string(enc.component)))
	}
	return f
}

// parseHL7Timestamp parses an HL7v2 timestamp string (YYYYMMDDHHmmss or YYYYMMDD).
func parseHL7Timestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	switch {
	case len(s) >= 14:
		return time.Parse("20060102150405", s[:14])
	case len(s) >= 12:
		return time.Parse("200601021504", s[:12])
	case len(s) >= 8:
		return time.Parse("20060102", s[:8])
	default:
		return time.Time{}, fmt.Errorf("hl7v2: unrecognized timestamp format: %q", s)
	}
}

// GetSegment returns the first segment with the given name, or nil if not found.
func (m *Message) GetSegment(name string) *Segment {
	for i := range m.Segments {
		if m.Segments[i].Name == name {
			return &m.Segments[i]
		}
	}
	return nil
}

// GetSegments returns all segments with the given name.
func (m *Message) GetSegments(name string) []Segment {
	var result []Segment
	for _, seg := range m.Segments {
		if seg.Name == name {
			result = append(result, seg)
		}
	}
	return result
}

func (s *Segment) field(index int) *Field {
	idx := index - 1
	if idx < 0 || idx >= len(s.Fields) {
		return nil
	}
	return &s.Fields[idx]
}

// GetField returns the raw value of a field by 1-based index. For MSH,
// index 1 is the field separator.
func (s *Segment) GetField(index int) string {
	if f := s.field(index); f != nil {
		return f.Value
	}
	return ""
}

// GetComponent returns a component of the first repetition by 1-based field
// and component indices.
func (s *Segment) GetComponent(fieldIdx, compIdx int) string {
	f := s.field(fieldIdx)
	if f == nil || len(f.Repeats) == 0 {
		return ""
	}
	return component(f.Repeats[0], compIdx)
}

func component(rep []string, compIdx int) string {
	ci := compIdx - 1
	if ci < 0 || ci >= len(rep) {
		return ""
	}
	return rep[ci]
}
