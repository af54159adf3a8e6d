package extract

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// FromJSON parses a JSON object, or an array of objects whose first element
// is the record and the rest sample rows.
func FromJSON(data []byte) (*Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyInput
		}
		return nil, fmt.Errorf("extract: decode JSON: %w", err)
	}

	switch v := doc.(type) {
	case map[string]interface{}:
		return New(flatten(v)), nil
	case []interface{}:
		var rows []map[string]string
		for i, item := range v {
			obj, ok := item.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("extract: element %d is not an object", i)
			}
			rows = append(rows, flatten(obj))
		}
		if len(rows) == 0 {
			return nil, ErrEmptyInput
		}
		return New(rows[0], rows[1:]...), nil
	default:
		return nil, fmt.Errorf("extract: expected a JSON object, got %T", doc)
	}
}

// FromCSV parses a header row followed by one or more data rows. The first
// data row is the record.
func FromCSV(r io.Reader) (*Record, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyInput
		}
		return nil, fmt.Errorf("extract: read CSV header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var rows []map[string]string
	for {
		line, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("extract: read CSV row %d: %w", len(rows)+1, err)
		}
		row := make(map[string]string, len(header))
		for i, name := range header {
			if i < len(line) {
				row[name] = strings.TrimSpace(line[i])
			}
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, ErrEmptyInput
	}
	return New(rows[0], rows[1:]...), nil
}

func flatten(obj map[string]interface{}) map[string]string {
	out := make(map[string]string)
	flattenInto(out, "", obj)
	return out
}

func flattenInto(out map[string]string, prefix string, v interface{}) {
	join := func(k string) string {
		if prefix == "" {
			return k
		}
		return prefix + "." + k
	}
	switch t := v.(type) {
	case map[string]interface{}:
		for k, child := range t {
			flattenInto(out, join(k), child)
		}
	case []interface{}:
		for i, child := range t {
			flattenInto(out, join(strconv.Itoa(i)), child)
		}
	case string:
		out[prefix] = t
	case json.Number:
		out[prefix] = t.String()
	case bool:
		out[prefix] = strconv.FormatBool(t)
	case nil:
	}
}
