package extract

import (
	"errors"
	"strings"
	"testing"
)

const patientJSON = `{
  "patient_id": "P-001",
  "name": {"family": " Sharma ", "given": "Ananya"},
  "dob": 19900415,
  "active": true,
  "notes": null,
  "identifier": [
    {"type": "MRN", "value": "MRN-77"},
    {"type": "ABHA", "value": "91-1234-5678-9012"}
  ]
}`

func TestFromJSON_Flattens(t *testing.T) {
	rec, err := FromJSON([]byte(patientJSON))
	if err != nil {
		t.Fatalf("FromJSON() error: %v", err)
	}

	tests := []struct {
		path, filter string
		want         string
		found        bool
	}{
		{"patient_id", "", "P-001", true},
		{"name.family", "", " Sharma ", true},
		{"dob", "", "19900415", true},
		{"active", "", "true", true},
		{"notes", "", "", false},
		{"identifier.1.value", "", "91-1234-5678-9012", true},
		{"identifier.value", "type == ABHA", "91-1234-5678-9012", true},
		{"identifier.value", "id_type == MRN", "MRN-77", true},
		{"identifier.value", "type == 'PAN'", "", false},
		{"missing", "", "", false},
		{"", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.path+"|"+tt.filter, func(t *testing.T) {
			got, found, err := rec.Extract(tt.path, tt.filter)
			if err != nil {
				t.Fatalf("Extract() error: %v", err)
			}
			if got != tt.want || found != tt.found {
				t.Errorf("Extract(%q, %q) = %q, %v; want %q, %v", tt.path, tt.filter, got, found, tt.want, tt.found)
			}
		})
	}
}

func TestExtract_BadFilter(t *testing.T) {
	rec := New(map[string]string{"a": "b"})
	if _, _, err := rec.Extract("a", "type = ABHA"); err == nil {
		t.Error("expected error for filter without ==")
	}
	if _, _, err := rec.Extract("a", " == ABHA"); err == nil {
		t.Error("expected error for filter without key")
	}
}

func TestFromJSON_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"scalar", `"hello"`},
		{"broken", `{"a":`},
		{"array of scalars", `[1, 2]`},
		{"empty array", `[]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := FromJSON([]byte(tt.input)); err == nil {
				t.Error("expected error")
			}
		})
	}
	if _, err := FromJSON(nil); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("expected ErrEmptyInput, got %v", err)
	}
}

func TestFromJSON_ArraySamples(t *testing.T) {
	rec, err := FromJSON([]byte(`[
		{"pat_dob_str": "22-11-1985", "mrn": "1"},
		{"pat_dob_str": "03-02-1979", "mrn": "2"},
		{"mrn": "3"},
		{"pat_dob_str": "30-06-2001"}
	]`))
	if err != nil {
		t.Fatalf("FromJSON() error: %v", err)
	}
	if v, _, _ := rec.Extract("mrn", ""); v != "1" {
		t.Errorf("expected first row to be the record, got mrn=%q", v)
	}

	got := rec.Samples("pat_dob_str", 2)
	want := []string{"22-11-1985", "03-02-1979"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Samples() = %v, want %v", got, want)
	}
	if got := rec.Samples("pat_dob_str", 10); len(got) != 3 {
		t.Errorf("expected 3 samples, got %v", got)
	}
}

func TestSamples_NestedSuffix(t *testing.T) {
	rec, _ := FromJSON([]byte(`{"demographics": {"pat_dob_str": "22-11-1985"}}`))
	got := rec.Samples("pat_dob_str", 3)
	if len(got) != 1 || got[0] != "22-11-1985" {
		t.Errorf("Samples() = %v", got)
	}
	if got := rec.Samples("unknown", 3); len(got) != 0 {
		t.Errorf("expected no samples, got %v", got)
	}
}

func TestFromCSV(t *testing.T) {
	input := "family, given, dob, gender\nSharma, Ananya, 19900415, F\nRao,Vikram,19791102,M\n"
	rec, err := FromCSV(strings.NewReader(input))
	if err != nil {
		t.Fatalf("FromCSV() error: %v", err)
	}

	if v, ok, _ := rec.Extract("given", ""); !ok || v != "Ananya" {
		t.Errorf("Extract(given) = %q, %v", v, ok)
	}
	if got := rec.Samples("gender", 5); strings.Join(got, ",") != "F,M" {
		t.Errorf("Samples(gender) = %v", got)
	}
	if fields := rec.Fields(); strings.Join(fields, ",") != "dob,family,gender,given" {
		t.Errorf("Fields() = %v", fields)
	}
}

func TestFromCSV_Errors(t *testing.T) {
	if _, err := FromCSV(strings.NewReader("")); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("expected ErrEmptyInput for empty input, got %v", err)
	}
	if _, err := FromCSV(strings.NewReader("a,b\n")); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("expected ErrEmptyInput for header only, got %v", err)
	}
	if _, err := FromCSV(strings.NewReader("a,b\n1,2,3\n")); err == nil {
		t.Error("expected error for ragged row")
	}
}

func TestParseFilter(t *testing.T) {
	tests := []struct {
		filter, key, value string
	}{
		{"type == ABHA", "type", "ABHA"},
		{"id_type == \"ABHA\"", "type", "ABHA"},
		{"system==urn:oid:1.2", "system", "urn:oid:1.2"},
	}
	for _, tt := range tests {
		k, v, err := ParseFilter(tt.filter)
		if err != nil {
			t.Fatalf("ParseFilter(%q) error: %v", tt.filter, err)
		}
		if k != tt.key || v != tt.value {
			t.Errorf("ParseFilter(%q) = %q, %q", tt.filter, k, v)
		}
	}
}
