package terminology

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// FHIRTranslator calls ConceptMap/$translate on a FHIR terminology server.
type FHIRTranslator struct {
	baseURL string
	client  *http.Client
}

// NewFHIRTranslator creates a translator for the server at baseURL
// (e.g. "https://tx.example.org/fhir"). Per-call deadlines come from the
// context.
func NewFHIRTranslator(baseURL string, client *http.Client) *FHIRTranslator {
	if client == nil {
		client = http.DefaultClient
	}
	return &FHIRTranslator{baseURL: strings.TrimSuffix(baseURL, "/"), client: client}
}

type translateParameters struct {
	ResourceType string               `json:"resourceType"`
	Parameter    []translateParameter `json:"parameter"`
}

type translateParameter struct {
	Name         string               `json:"name"`
	ValueBoolean *bool                `json:"valueBoolean,omitempty"`
	ValueString  string               `json:"valueString,omitempty"`
	ValueCode    string               `json:"valueCode,omitempty"`
	ValueCoding  *Coding              `json:"valueCoding,omitempty"`
	Part         []translateParameter `json:"part,omitempty"`
}

// Translate implements Translator.
func (t *FHIRTranslator) Translate(ctx context.Context, code, sourceSystem, targetSystem string) (*Coding, error) {
	q := url.Values{}
	q.Set("code", code)
	q.Set("system", sourceSystem)
	q.Set("targetsystem", targetSystem)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/ConceptMap/$translate?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build translate request: %w", err)
	}
	req.Header.Set("Accept", "application/fhir+json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("translate request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("translate: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var params translateParameters
	if err := json.NewDecoder(resp.Body).Decode(&params); err != nil {
		return nil, fmt.Errorf("decode translate response: %w", err)
	}

	found := false
	for _, p := range params.Parameter {
		if p.Name == "result" && p.ValueBoolean != nil {
			found = *p.ValueBoolean
		}
	}
	if !found {
		return nil, ErrNotFound
	}

	for _, p := range params.Parameter {
		if p.Name != "match" {
			continue
		}
		for _, part := range p.Part {
			if part.Name == "concept" && part.ValueCoding != nil && part.ValueCoding.Code != "" {
				c := *part.ValueCoding
				if c.System == "" {
					c.System = targetSystem
				}
				return &c, nil
			}
		}
	}
	return nil, ErrNotFound
}
