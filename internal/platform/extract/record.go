// Package extract reads field values out of flat structured records: a CSV
// row or a JSON object. Nested JSON is flattened to dotted keys, with array
// elements addressed by index ("identifier.0.value").
package extract

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ErrEmptyInput is returned when the input holds no record at all.
var ErrEmptyInput = errors.New("extract: input holds no record")

// Record is one parsed source record plus any sibling rows that share its
// shape. Extract reads from the record; Samples reads across all rows.
type Record struct {
	fields map[string]string
	rows   []map[string]string
}

// New wraps a flat field map. Extra rows are only used for samples.
func New(fields map[string]string, rows ...map[string]string) *Record {
	if fields == nil {
		fields = map[string]string{}
	}
	return &Record{fields: fields, rows: append([]map[string]string{fields}, rows...)}
}

// Fields returns the record's keys in sorted order.
func (r *Record) Fields() []string {
	keys := make([]string, 0, len(r.fields))
	for k := range r.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Extract returns the value at path. A filter of the form "key == value"
// selects the array element whose key matches, e.g. path "identifier.value"
// with filter "type == ABHA". Empty strings count as absent.
func (r *Record) Extract(path, filter string) (string, bool, error) {
	if path == "" {
		return "", false, nil
	}
	if filter == "" {
		v, ok := r.fields[path]
		return v, ok && v != "", nil
	}

	key, want, err := ParseFilter(filter)
	if err != nil {
		return "", false, err
	}
	parts := strings.Split(path, ".")
	for split := 1; split < len(parts); split++ {
		prefix := strings.Join(parts[:split], ".")
		rest := strings.Join(parts[split:], ".")
		for i := 0; ; i++ {
			elem := prefix + "." + strconv.Itoa(i)
			got, exists := r.fields[elem+"."+key]
			if !exists && !r.hasPrefix(elem+".") {
				break
			}
			if exists && got == want {
				v, ok := r.fields[elem+"."+rest]
				return v, ok && v != "", nil
			}
		}
	}
	return "", false, nil
}

// Samples returns up to n non-empty values of field across the record and
// its sibling rows. A bare field name also matches nested keys ending in it.
func (r *Record) Samples(field string, n int) []string {
	var out []string
	for _, row := range r.rows {
		if len(out) >= n {
			break
		}
		if v := lookupLoose(row, field); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func (r *Record) hasPrefix(prefix string) bool {
	for k := range r.fields {
		if strings.HasPrefix(k, prefix) {
			return true
		}
	}
	return false
}

func lookupLoose(row map[string]string, field string) string {
	if v, ok := row[field]; ok {
		return v
	}
	suffix := "." + field
	var keys []string
	for k := range row {
		if strings.HasSuffix(k, suffix) {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)
	return row[keys[0]]
}

// ParseFilter splits "key == value". Surrounding quotes on the value are
// dropped, and id_type is accepted as an alias for type.
func ParseFilter(filter string) (key, value string, err error) {
	lhs, rhs, ok := strings.Cut(filter, "==")
	if !ok {
		return "", "", fmt.Errorf("extract: filter %q: expected \"key == value\"", filter)
	}
	key = strings.TrimSpace(lhs)
	value = strings.Trim(strings.TrimSpace(rhs), `"'`)
	if key == "" {
		return "", "", fmt.Errorf("extract: filter %q: missing key", filter)
	}
	if key == "id_type" {
		key = "type"
	}
	return key, value, nil
}
