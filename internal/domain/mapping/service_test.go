package mapping

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/mapper/internal/domain/audit"
	"github.com/ehr/mapper/internal/domain/gapfill"
	"github.com/ehr/mapper/internal/domain/profile"
	"github.com/ehr/mapper/internal/domain/transform"
)

type fakeSubmitter struct {
	mu      sync.Mutex
	batches [][]audit.Record
	reject  bool
}

func (s *fakeSubmitter) Submit(batch []audit.Record) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reject {
		return false
	}
	s.batches = append(s.batches, batch)
	return true
}

func (s *fakeSubmitter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

type failingProfiles struct{ err error }

func (f failingProfiles) GetActive(context.Context, string) (*profile.Profile, error) { return nil, f.err }
func (f failingProfiles) Invalidate(string)                                         {}

func newTestService(t *testing.T, oracle gapfill.Oracle) (*Service, *profile.Store, *fakeSubmitter) {
	t.Helper()
	store := profile.NewStore(profile.NewMemoryRepository(), time.Minute, zerolog.Nop())
	sub := &fakeSubmitter{}
	return NewService(store, newTestEngine(oracle, defaultOptions()), sub, zerolog.Nop()), store, sub
}

func publish(t *testing.T, store *profile.Store, p *profile.Profile) {
	t.Helper()
	if err := store.Publish(context.Background(), p); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}
}

func TestService_ExecuteMapping(t *testing.T) {
	svc, store, sub := newTestService(t, nil)
	publish(t, store, patientProfile())

	res, err := svc.ExecuteMapping(context.Background(), sharmaInput(), "HIS", "conv-42")
	if err != nil {
		t.Fatalf("ExecuteMapping() error: %v", err)
	}
	if res.ConversionID != "conv-42" || res.Status != StatusComplete {
		t.Errorf("unexpected result: %s %s", res.ConversionID, res.Status)
	}
	if sub.count() != 1 || len(sub.batches[0]) != 4 {
		t.Errorf("expected one audit batch of 4 records, got %d batches", sub.count())
	}
}

func TestService_GeneratesConversionID(t *testing.T) {
	svc, store, _ := newTestService(t, nil)
	publish(t, store, patientProfile())

	res, _ := svc.ExecuteMapping(context.Background(), sharmaInput(), "HIS", "")
	if len(res.ConversionID) != 36 {
		t.Errorf("expected generated UUID conversion id, got %q", res.ConversionID)
	}
	for _, rec := range res.Audit {
		if rec.ConversionID != res.ConversionID {
			t.Errorf("audit record carries %q, want %q", rec.ConversionID, res.ConversionID)
		}
	}
}

func TestService_ProfileNotFound(t *testing.T) {
	svc, _, sub := newTestService(t, nil)

	res, err := svc.ExecuteMapping(context.Background(), sharmaInput(), "NOPE", "c")
	var notFound *profile.ProfileNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ProfileNotFoundError, got %v", err)
	}
	if res.Status != StatusFailed || len(res.Errors) != 1 || res.Errors[0].Kind != KindProfileNotFound {
		t.Errorf("expected failed result with profile_not_found, got %+v", res)
	}
	if sub.count() != 0 {
		t.Error("no audit expected when the run never started")
	}
}

func TestService_ProfileUnavailable(t *testing.T) {
	svc := NewService(failingProfiles{err: errors.New("connection reset")}, newTestEngine(nil, defaultOptions()), nil, zerolog.Nop())

	res, err := svc.ExecuteMapping(context.Background(), sharmaInput(), "HIS", "c")
	if err == nil || res.Errors[0].Kind != KindProfileUnavailable {
		t.Errorf("expected profile_unavailable, got %v / %+v", err, res.Errors)
	}
}

func TestService_AuditRejectionDoesNotFailRun(t *testing.T) {
	svc, store, sub := newTestService(t, nil)
	sub.reject = true
	publish(t, store, patientProfile())

	res, err := svc.ExecuteMapping(context.Background(), sharmaInput(), "HIS", "c")
	if err != nil || res.Status != StatusComplete {
		t.Errorf("audit rejection must not affect the mapping, got %v / %s", err, res.Status)
	}
}

func TestService_LoadAndInvalidate(t *testing.T) {
	svc, store, _ := newTestService(t, nil)
	publish(t, store, patientProfile())

	p, err := svc.LoadActiveProfile(context.Background(), "HIS")
	if err != nil || p.Version != "1.0.0" {
		t.Fatalf("LoadActiveProfile() = %v, %v", p, err)
	}

	next := patientProfile()
	next.Version = "1.1.0"
	publish(t, store, next)
	svc.InvalidateProfileCache("HIS")

	p, _ = svc.LoadActiveProfile(context.Background(), "HIS")
	if p.Version != "1.1.0" {
		t.Errorf("expected 1.1.0 after invalidation, got %s", p.Version)
	}
}

// A run that started before a publish finishes on the version it loaded.
func TestService_HotReloadKeepsInFlightVersion(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	oracle := &fakeOracle{
		suggestion: &gapfill.Suggestion{TargetPath: "Patient.birthDate", Confidence: 0.99, TransformHint: &transform.Step{Name: transform.DateNormalize}},
		onCall: func() {
			close(started)
			<-release
		},
	}
	svc, store, _ := newTestService(t, oracle)
	publish(t, store, gapFillProfile())

	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := svc.ExecuteMapping(context.Background(), dobInput(), "LEGACY", "in-flight")
		done <- outcome{res, err}
	}()

	<-started
	next := gapFillProfile()
	next.Version = "2.0.0"
	next.FieldRules = next.FieldRules[:1]
	publish(t, store, next)
	svc.InvalidateProfileCache("LEGACY")

	p, err := svc.LoadActiveProfile(context.Background(), "LEGACY")
	if err != nil || p.Version != "2.0.0" {
		t.Fatalf("expected new version to be active, got %v (%v)", p, err)
	}
	close(release)

	out := <-done
	if out.err != nil {
		t.Fatalf("in-flight run error: %v", out.err)
	}
	if out.res.ProfileVersion != "1.0.0" || len(out.res.Payload) != 2 {
		t.Errorf("in-flight run switched profile: version %s, %d fields", out.res.ProfileVersion, len(out.res.Payload))
	}
	for _, rec := range out.res.Audit {
		if rec.ProfileVersion != "1.0.0" {
			t.Errorf("audit record from version %s", rec.ProfileVersion)
		}
	}
}
