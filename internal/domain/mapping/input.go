package mapping

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ehr/mapper/internal/platform/extract"
	"github.com/ehr/mapper/internal/platform/hl7v2"
)

// Input formats accepted by DecodeInput.
const (
	FormatJSON  = "json"
	FormatCSV   = "csv"
	FormatHL7v2 = "hl7v2"
)

// FormatFromContentType picks an input format from an HTTP content type.
// Anything unrecognised is treated as JSON.
func FormatFromContentType(contentType string) string {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "hl7"):
		return FormatHL7v2
	case strings.Contains(ct, "csv"):
		return FormatCSV
	default:
		return FormatJSON
	}
}

// FormatFromPath picks an input format from a file extension, falling back
// to sniffing the content.
func FormatFromPath(path string, data []byte) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".hl7", ".txt":
		return FormatHL7v2
	case ".csv":
		return FormatCSV
	case ".json":
		return FormatJSON
	}
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("MSH")) {
		return FormatHL7v2
	}
	return FormatJSON
}

// DecodeInput parses data in the given format. Parse failures wrap
// ErrMalformedInput.
func DecodeInput(format string, data []byte) (Input, error) {
	var (
		in  Input
		err error
	)
	switch format {
	case FormatHL7v2:
		in, err = hl7v2.NewExtractor(data)
	case FormatCSV:
		in, err = extract.FromCSV(bytes.NewReader(data))
	case FormatJSON:
		in, err = extract.FromJSON(data)
	default:
		return nil, fmt.Errorf("%w: unsupported format %q", ErrMalformedInput, format)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	return in, nil
}
