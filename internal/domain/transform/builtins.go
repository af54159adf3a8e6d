package transform

import (
	"strings"
	"time"
)

// Built-in transform names.
const (
	Trim          = "TRIM"
	Uppercase     = "UPPERCASE"
	Lowercase     = "LOWERCASE"
	DateNormalize = "DATE_NORMALIZE"
	DateYYYYMMDD  = "DATE_YYYYMMDD"
	CodeMap       = "CODE_MAP"
	OIDLookup     = "OID_LOOKUP"
	NullSafe      = "NULL_SAFE"
)

// Builtin lists every transform registered by NewRegistry.
var Builtin = []string{Trim, Uppercase, Lowercase, DateNormalize, DateYYYYMMDD, CodeMap, OIDLookup, NullSafe}

// dateLayouts is the DATE_NORMALIZE probe order; the first layout that
// parses wins.
var dateLayouts = []string{
	"02/01/2006", // dd/MM/yyyy
	"02-01-2006", // dd-MM-yyyy
	"20060102",   // yyyyMMdd
	"2006.01.02", // yyyy.MM.dd
	"01/02/2006", // MM/dd/yyyy
	"2006-01-02", // ISO-8601 date
}

const isoDate = "2006-01-02"

func builtins() map[string]Func {
	return map[string]Func{
		Trim:          mapString(strings.TrimSpace),
		Uppercase:     mapString(strings.ToUpper),
		Lowercase:     mapString(strings.ToLower),
		DateNormalize: normalizeDate,
		DateYYYYMMDD:  compactDate,
		CodeMap:       tableLookup(""),
		OIDLookup:     tableLookup("urn:oid:"),
		NullSafe:      nullSafe,
	}
}

func mapString(fn func(string) string) Func {
	return func(value *string, _ map[string]string) (*string, error) {
		if value == nil {
			return nil, nil
		}
		out := fn(*value)
		return &out, nil
	}
}

func normalizeDate(value *string, _ map[string]string) (*string, error) {
	if value == nil || *value == "" {
		return value, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, *value); err == nil {
			out := t.Format(isoDate)
			return &out, nil
		}
	}
	return nil, &UnparseableDateError{Value: *value}
}

func compactDate(value *string, _ map[string]string) (*string, error) {
	if value == nil || *value == "" {
		return value, nil
	}
	// HL7 TS values may carry a time part: 19900415083000, 19900415083000.12+0530
	raw := *value
	if len(raw) > 8 {
		if !isTimeTail(raw[8:]) {
			return nil, &UnparseableDateError{Value: *value}
		}
		raw = raw[:8]
	}
	t, err := time.Parse("20060102", raw)
	if err != nil {
		return nil, &UnparseableDateError{Value: *value}
	}
	out := t.Format(isoDate)
	return &out, nil
}

// isTimeTail reports whether tail is the time and zone part of an HL7 TS.
func isTimeTail(tail string) bool {
	if tail[0] < '0' || tail[0] > '9' {
		return false
	}
	for i := 0; i < len(tail); i++ {
		switch c := tail[i]; {
		case c >= '0' && c <= '9', c == '.', c == '+', c == '-':
		default:
			return false
		}
	}
	return true
}

// tableLookup replaces the value with its entry in params. Values missing
// from the table pass through unchanged.
func tableLookup(stripPrefix string) Func {
	return func(value *string, params map[string]string) (*string, error) {
		if value == nil {
			return nil, nil
		}
		key := *value
		if stripPrefix != "" {
			key = strings.TrimPrefix(key, stripPrefix)
		}
		if mapped, ok := params[key]; ok {
			return &mapped, nil
		}
		return value, nil
	}
}

func nullSafe(value *string, _ map[string]string) (*string, error) {
	if value == nil {
		empty := ""
		return &empty, nil
	}
	return value, nil
}
