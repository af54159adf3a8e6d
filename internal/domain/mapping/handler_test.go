package mapping

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func newMappingRequest(t *testing.T, h *Handler, sourceSystem, contentType, body string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, contentType)
	req.Header.Set(ConversionIDHeader, "conv-http")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("sourceSystem")
	c.SetParamValues(sourceSystem)
	return rec, h.Execute(c)
}

func TestHandler_Execute_JSON(t *testing.T) {
	svc, store, _ := newTestService(t, nil)
	publish(t, store, patientProfile())
	h := NewHandler(svc)

	body := `{"PID.5.1":"Sharma","PID.5.2":"Ananya","PID.7":"19900415","PID.8":"F"}`
	rec, err := newMappingRequest(t, h, "HIS", echo.MIMEApplicationJSON, body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get(ConversionIDHeader) != "conv-http" {
		t.Errorf("expected conversion id echoed, got %q", rec.Header().Get(ConversionIDHeader))
	}

	var res Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if res.Status != StatusComplete || len(res.Payload) != 4 || len(res.Audit) != 4 {
		t.Errorf("unexpected result: %s, %d fields", res.Status, len(res.Payload))
	}
	if v := res.Values()["gender"]; str(v) != "female" {
		t.Errorf("expected female, got %s", str(v))
	}
}

func TestHandler_Execute_HL7v2(t *testing.T) {
	svc, store, _ := newTestService(t, nil)
	publish(t, store, patientProfile())
	h := NewHandler(svc)

	msg := "MSH|^~\\&|HIS|CityHospital|MAPPER|NHCX|20240115143025||ADT^A01|MSG1|P|2.5.1\r" +
		"PID|1||MRN12345||Sharma ^Ananya||19900415|F"
	rec, err := newMappingRequest(t, h, "HIS", "x-application/hl7-v2+er7", msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var res Result
	json.Unmarshal(rec.Body.Bytes(), &res)
	if str(res.Values()["family_name"]) != "Sharma" || str(res.Values()["date_of_birth"]) != "1990-04-15" {
		t.Errorf("unexpected payload: %+v", res.Payload)
	}
}

func TestHandler_Execute_FailedRuns(t *testing.T) {
	svc, store, _ := newTestService(t, nil)
	publish(t, store, patientProfile())
	h := NewHandler(svc)
	down := NewHandler(NewService(failingProfiles{err: errors.New("connection reset")}, newTestEngine(nil, defaultOptions()), nil, zerolog.Nop()))

	tests := []struct {
		name         string
		handler      *Handler
		sourceSystem string
		contentType  string
		body         string
		want         int
		kind         ErrorKind
	}{
		{"unknown source system", h, "NOPE", echo.MIMEApplicationJSON, `{"a":"b"}`, http.StatusNotFound, KindProfileNotFound},
		{"broken JSON", h, "HIS", echo.MIMEApplicationJSON, `{"a":`, http.StatusBadRequest, KindMalformedInput},
		{"not HL7", h, "HIS", "text/hl7v2", `PID|1`, http.StatusBadRequest, KindMalformedInput},
		{"empty CSV", h, "HIS", "text/csv", ``, http.StatusBadRequest, KindMalformedInput},
		{"profile store down", down, "HIS", echo.MIMEApplicationJSON, `{"a":"b"}`, http.StatusInternalServerError, KindProfileUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := newMappingRequest(t, tt.handler, tt.sourceSystem, tt.contentType, tt.body)
			if err != nil {
				t.Fatalf("expected the failed result as the response, got error %v", err)
			}
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rec.Code)
			}

			var res Result
			if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if res.Status != StatusFailed || res.ConversionID != "conv-http" {
				t.Errorf("unexpected result: %s %q", res.Status, res.ConversionID)
			}
			if len(res.Errors) != 1 || res.Errors[0].Kind != tt.kind {
				t.Errorf("expected one %s error, got %+v", tt.kind, res.Errors)
			}
			if rec.Header().Get(ConversionIDHeader) != "conv-http" {
				t.Errorf("expected conversion id header, got %q", rec.Header().Get(ConversionIDHeader))
			}
		})
	}
}

func TestFormatSelection(t *testing.T) {
	contentTypes := map[string]string{
		"application/json":         FormatJSON,
		"text/csv; charset=utf-8":  FormatCSV,
		"x-application/hl7-v2+er7": FormatHL7v2,
		"":                         FormatJSON,
	}
	for ct, want := range contentTypes {
		if got := FormatFromContentType(ct); got != want {
			t.Errorf("FormatFromContentType(%q) = %s, want %s", ct, got, want)
		}
	}

	paths := []struct {
		path, data, want string
	}{
		{"adt.hl7", "", FormatHL7v2},
		{"rows.CSV", "", FormatCSV},
		{"record.json", "", FormatJSON},
		{"message", "MSH|^~\\&|", FormatHL7v2},
		{"record", `{"a":1}`, FormatJSON},
	}
	for _, tt := range paths {
		if got := FormatFromPath(tt.path, []byte(tt.data)); got != tt.want {
			t.Errorf("FormatFromPath(%q) = %s, want %s", tt.path, got, tt.want)
		}
	}

	if _, err := DecodeInput("xml", []byte("<a/>")); err == nil {
		t.Error("expected unsupported format error")
	}
}
