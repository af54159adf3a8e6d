package gapfill

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestOpenAIOracle_Suggest(t *testing.T) {
	var gotPrompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if body.Model != "gpt-4o-mini" || len(body.Messages) != 2 {
			t.Errorf("unexpected request: %+v", body)
		} else {
			gotPrompt = body.Messages[1].Content
		}

		reply, _ := json.Marshal(recordedReply)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"chatcmpl-1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
			"choices":[{"index":0,"message":{"role":"assistant","content":`+string(reply)+`},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":10,"completion_tokens":10,"total_tokens":20}}`)
	}))
	defer srv.Close()

	oracle, err := NewOpenAIOracle(srv.URL+"/v1", "test-key", "gpt-4o-mini", []string{"DATE_NORMALIZE"})
	if err != nil {
		t.Fatalf("NewOpenAIOracle() error: %v", err)
	}
	c := NewClient(oracle, zerolog.Nop())
	out := c.Suggest(context.Background(), Request{FieldName: "pat_dob_str", SampleValues: []string{"22-11-1985"}}, 0.75)

	if out.Decision != Accepted || out.Suggestion.TargetPath != "Patient.birthDate" {
		t.Errorf("unexpected outcome: %+v", out)
	}
	if out.Model != "gpt-4o-mini" {
		t.Errorf("expected model gpt-4o-mini, got %q", out.Model)
	}
	if !strings.Contains(gotPrompt, "pat_dob_str") || !strings.Contains(gotPrompt, "22-11-1985") {
		t.Errorf("prompt missing field context: %s", gotPrompt)
	}
}

func TestOpenAIOracle_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"error":{"message":"boom","type":"server_error"}}`)
	}))
	defer srv.Close()

	oracle, _ := NewOpenAIOracle(srv.URL, "", "gpt-4o-mini", nil)
	out := NewClient(oracle, zerolog.Nop()).Suggest(context.Background(), Request{FieldName: "x"}, 0)
	if out.Decision != OracleFailed {
		t.Errorf("expected oracle_error, got %s", out.Decision)
	}
}

func TestNewOpenAIOracle_Validation(t *testing.T) {
	if _, err := NewOpenAIOracle("", "", "m", nil); err == nil {
		t.Error("expected error for missing endpoint")
	}
	if _, err := NewOpenAIOracle("http://localhost", "", "", nil); err == nil {
		t.Error("expected error for missing model")
	}
}

func TestAnthropicOracle_Suggest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/messages") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("X-Api-Key") != "test-key" {
			t.Errorf("missing api key header")
		}
		reply, _ := json.Marshal("```json\n" + recordedReply + "\n```")
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"msg_1","type":"message","role":"assistant","model":"claude-test",
			"content":[{"type":"text","text":`+string(reply)+`}],
			"stop_reason":"end_turn","usage":{"input_tokens":10,"output_tokens":10}}`)
	}))
	defer srv.Close()

	oracle, err := NewAnthropicOracle("test-key", srv.URL, "claude-test", nil)
	if err != nil {
		t.Fatalf("NewAnthropicOracle() error: %v", err)
	}
	out := NewClient(oracle, zerolog.Nop()).Suggest(context.Background(), Request{FieldName: "pat_dob_str"}, 0)
	if out.Decision != Accepted || out.Suggestion.Confidence != 0.97 {
		t.Errorf("unexpected outcome: %+v", out)
	}
}

func TestNewAnthropicOracle_Validation(t *testing.T) {
	if _, err := NewAnthropicOracle("", "", "m", nil); err == nil {
		t.Error("expected error for missing api key")
	}
	if _, err := NewAnthropicOracle("k", "", "", nil); err == nil {
		t.Error("expected error for missing model")
	}
}
