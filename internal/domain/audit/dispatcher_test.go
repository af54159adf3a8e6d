package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// =========== Fake Sink ===========

type fakeSink struct {
	mu       sync.Mutex
	batches  [][]Record
	failures int
	calls    int
	block    chan struct{}
}

func (s *fakeSink) Write(ctx context.Context, batch []Record) error {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failures > 0 {
		s.failures--
		return errors.New("connection refused")
	}
	s.batches = append(s.batches, batch)
	return nil
}

func (s *fakeSink) snapshot() ([][]Record, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]Record(nil), s.batches...), s.calls
}

func batchOf(conversionID string, n int) []Record {
	out := make([]Record, n)
	for i := range out {
		out[i] = Record{ConversionID: conversionID, Seq: i, SourceField: "f", Timestamp: time.Now()}
	}
	return out
}

// =========== Dispatcher Tests ===========

func TestDispatcher_DeliversInOrder(t *testing.T) {
	sink := &fakeSink{}
	d := NewDispatcher(sink, zerolog.Nop())

	for _, id := range []string{"c1", "c2", "c3"} {
		if !d.Submit(batchOf(id, 2)) {
			t.Fatalf("Submit(%s) rejected", id)
		}
	}
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	batches, _ := sink.snapshot()
	if len(batches) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(batches))
	}
	for i, id := range []string{"c1", "c2", "c3"} {
		if batches[i][0].ConversionID != id {
			t.Errorf("batch %d: expected %s, got %s", i, id, batches[i][0].ConversionID)
		}
	}
	if d.Delivered() != 6 || d.Dropped() != 0 {
		t.Errorf("expected 6 delivered / 0 dropped, got %d / %d", d.Delivered(), d.Dropped())
	}
}

func TestDispatcher_RetriesTransientFailure(t *testing.T) {
	sink := &fakeSink{failures: 2}
	d := NewDispatcher(sink, zerolog.Nop(), WithRetry(3, time.Millisecond))

	d.Submit(batchOf("c1", 3))
	d.Close(context.Background())

	batches, calls := sink.snapshot()
	if len(batches) != 1 || calls != 3 {
		t.Errorf("expected success on third attempt, got %d batches after %d calls", len(batches), calls)
	}
	if d.Delivered() != 3 {
		t.Errorf("expected 3 delivered, got %d", d.Delivered())
	}
}

func TestDispatcher_DropsAfterRetries(t *testing.T) {
	sink := &fakeSink{failures: 100}
	d := NewDispatcher(sink, zerolog.Nop(), WithRetry(2, time.Millisecond))

	if !d.Submit(batchOf("c1", 4)) {
		t.Fatal("expected batch to be queued")
	}
	d.Close(context.Background())

	_, calls := sink.snapshot()
	if calls != 3 {
		t.Errorf("expected 1 attempt + 2 retries, got %d calls", calls)
	}
	if d.Dropped() != 4 {
		t.Errorf("expected 4 dropped records, got %d", d.Dropped())
	}
}

func TestDispatcher_SubmitNeverBlocks(t *testing.T) {
	sink := &fakeSink{block: make(chan struct{})}
	d := NewDispatcher(sink, zerolog.Nop(), WithBuffer(1))

	accepted := 0
	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			if d.Submit(batchOf("c", 1)) {
				accepted++
			}
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Submit blocked on a stalled sink")
	}
	if accepted > 2 {
		t.Errorf("expected at most 2 batches accepted (one in flight, one buffered), got %d", accepted)
	}
	if d.Dropped() == 0 {
		t.Error("expected overflow batches to be counted as dropped")
	}

	close(sink.block)
	d.Close(context.Background())
}

func TestDispatcher_SubmitAfterClose(t *testing.T) {
	d := NewDispatcher(&fakeSink{}, zerolog.Nop())
	d.Close(context.Background())
	if d.Submit(batchOf("late", 1)) {
		t.Error("expected Submit after Close to be rejected")
	}
	if err := d.Close(context.Background()); err != nil {
		t.Errorf("second Close() error: %v", err)
	}
}

func TestDispatcher_CloseDeadline(t *testing.T) {
	sink := &fakeSink{block: make(chan struct{})}
	d := NewDispatcher(sink, zerolog.Nop())
	d.Submit(batchOf("stuck", 1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline error, got %v", err)
	}
}

func TestDispatcher_EmptyBatch(t *testing.T) {
	sink := &fakeSink{}
	d := NewDispatcher(sink, zerolog.Nop())
	if !d.Submit(nil) {
		t.Error("expected empty batch to be accepted")
	}
	d.Close(context.Background())
	if _, calls := sink.snapshot(); calls != 0 {
		t.Errorf("expected no sink call for empty batch, got %d", calls)
	}
}

// =========== Log Sink ===========

func TestLogSink_Write(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(zerolog.New(&buf))

	after := "1985-11-22"
	err := sink.Write(context.Background(), []Record{
		{ConversionID: "c1", Seq: 0, SourceField: "pat_dob_str", TargetPath: "Patient.birthDate",
			ValueAfter: &after, TransformChain: []string{"DATE_NORMALIZE"}, Confidence: 0.97,
			GapFilled: true, OracleModel: "gpt-4o-mini"},
		{ConversionID: "c1", Seq: 1, SourceField: "dx", ErrorKind: "unresolvable_code", Error: "unresolvable code"},
	})
	if err != nil {
		t.Fatalf("Write() error: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d", len(lines))
	}
	var first map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if first["oracle_model"] != "gpt-4o-mini" || first["gap_filled"] != true || first["component"] != "audit" {
		t.Errorf("unexpected log fields: %v", first)
	}
	if !strings.Contains(lines[1], `"error_kind":"unresolvable_code"`) {
		t.Errorf("expected error kind in second line: %s", lines[1])
	}
}
