package hl7v2

import (
	"strings"
	"testing"
)

// =========== Sample Messages ===========

const sampleADT = "MSH|^~\\&|HIS|CityHospital|MAPPER|NHCX|20240115143025||ADT^A01|MSG00001|P|2.5.1\r" +
	"EVN|A01|20240115143025\r" +
	"PID|1||MRN12345^^^CityHospital^MR~91-1234-5678-9012^^^ABDM^ABHA||Sharma^Ananya||19900415|F\r" +
	"PV1|1|E|ER^01||||1234^Rao^Vikram"

const sampleORU = "MSH|^~\\&|LabSystem|LabFac|EHR|EHRFac|20240115150000||ORU^R01|MSG00002|P|2.5.1\r" +
	"PID|1||MRN12345^^^MRNAuth||Sharma^Ananya||19900415|F\r" +
	"OBR|1|ORD001|LAB001|85025^CBC^LN|||20240115140000\r" +
	"OBX|1|NM|718-7^Hemoglobin^LN||13.5|g/dL|12.0-17.5|N|||F\r" +
	"OBX|2|NM|4544-3^Hematocrit^LN||40.1|%|36.0-53.0|N|||F"

// =========== Parser Tests ===========

func TestParse_Header(t *testing.T) {
	msg, err := Parse([]byte(sampleADT))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if msg.Type != "ADT^A01" {
		t.Errorf("expected Type 'ADT^A01', got %q", msg.Type)
	}
	if msg.ControlID != "MSG00001" {
		t.Errorf("expected ControlID 'MSG00001', got %q", msg.ControlID)
	}
	if msg.Version != "2.5.1" {
		t.Errorf("expected Version '2.5.1', got %q", msg.Version)
	}
	if msg.SendingApp != "HIS" {
		t.Errorf("expected SendingApp 'HIS', got %q", msg.SendingApp)
	}
	if msg.Timestamp.Year() != 2024 || msg.Timestamp.Month() != 1 || msg.Timestamp.Day() != 15 {
		t.Errorf("unexpected timestamp: %v", msg.Timestamp)
	}
}

func TestParse_Segments(t *testing.T) {
	msg, err := Parse([]byte(sampleADT))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	names := []string{"MSH", "EVN", "PID", "PV1"}
	if len(msg.Segments) != len(names) {
		t.Fatalf("expected %d segments, got %d", len(names), len(msg.Segments))
	}
	for i, name := range names {
		if msg.Segments[i].Name != name {
			t.Errorf("expected segment %d to be %q, got %q", i, name, msg.Segments[i].Name)
		}
	}

	pid := msg.GetSegment("PID")
	if got := pid.GetComponent(5, 1); got != "Sharma" {
		t.Errorf("expected PID-5.1 'Sharma', got %q", got)
	}
	if got := pid.GetField(7); got != "19900415" {
		t.Errorf("expected PID-7 '19900415', got %q", got)
	}
	if got := len(pid.Fields[2].Repeats); got != 2 {
		t.Errorf("expected 2 PID-3 repetitions, got %d", got)
	}
	if got := pid.GetComponent(99, 1); got != "" {
		t.Errorf("expected empty for out-of-range field, got %q", got)
	}
	if got := msg.GetSegment("MSH").GetField(2); got != "^~\\&" {
		t.Errorf("expected MSH-2 encoding characters, got %q", got)
	}
	if msg.GetSegment("ZZZ") != nil {
		t.Error("expected nil for missing segment")
	}
}

func TestParse_LineEndings(t *testing.T) {
	for name, sep := range map[string]string{"windows": "\r\n", "unix": "\n"} {
		t.Run(name, func(t *testing.T) {
			msg, err := Parse([]byte(strings.ReplaceAll(sampleORU, "\r", sep)))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(msg.GetSegments("OBX")) != 2 {
				t.Errorf("expected 2 OBX segments, got %d", len(msg.GetSegments("OBX")))
			}
		})
	}
}

func TestParse_CustomEncoding(t *testing.T) {
	msg, err := Parse([]byte("MSH#$*\\&#HIS#FAC\rPID#1##A1$$$X*B2$$$Y##Rao$Vikram"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pid := msg.GetSegment("PID")
	if got := pid.GetComponent(5, 2); got != "Vikram" {
		t.Errorf("expected custom component separator to apply, got %q", got)
	}
	if got := len(pid.Fields[2].Repeats); got != 2 {
		t.Errorf("expected custom repetition separator to apply, got %d repeats", got)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
	}{
		{"nil", nil},
		{"empty", []byte{}},
		{"whitespace", []byte("\r\n  \n")},
		{"no MSH", []byte("PID|1||MRN12345\rPV1|1|I")},
		{"short MSH", []byte("MSH|^")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.input); err == nil {
				t.Error("expected error")
			}
		})
	}
}
