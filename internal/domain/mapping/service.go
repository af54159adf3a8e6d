package mapping

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/mapper/internal/domain/audit"
	"github.com/ehr/mapper/internal/domain/profile"
)

// ProfileSource serves active profiles and accepts hot-reload triggers.
type ProfileSource interface {
	GetActive(ctx context.Context, sourceSystem string) (*profile.Profile, error)
	Invalidate(sourceSystem string)
}

// AuditSubmitter accepts audit batches without blocking.
type AuditSubmitter interface {
	Submit(batch []audit.Record) bool
}

type Service struct {
	profiles ProfileSource
	engine   *Engine
	audit    AuditSubmitter
	logger   zerolog.Logger
}

func NewService(profiles ProfileSource, engine *Engine, auditSink AuditSubmitter, logger zerolog.Logger) *Service {
	return &Service{
		profiles: profiles,
		engine:   engine,
		audit:    auditSink,
		logger:   logger.With().Str("component", "mapping").Logger(),
	}
}

func (s *Service) LoadActiveProfile(ctx context.Context, sourceSystem string) (*profile.Profile, error) {
	return s.profiles.GetActive(ctx, sourceSystem)
}

func (s *Service) InvalidateProfileCache(sourceSystem string) {
	s.profiles.Invalidate(sourceSystem)
}

// ExecuteMapping loads the active profile for sourceSystem once and maps in
// against it. The profile snapshot is held for the whole run, so a publish
// that lands mid-run does not affect it. A failed result is returned along
// with the error when the profile or input is unusable. Audit delivery is
// best-effort and never fails the run.
func (s *Service) ExecuteMapping(ctx context.Context, in Input, sourceSystem, conversionID string) (*Result, error) {
	if conversionID == "" {
		conversionID = uuid.New().String()
	}

	p, err := s.profiles.GetActive(ctx, sourceSystem)
	if err != nil {
		kind := KindProfileNotFound
		var notFound *profile.ProfileNotFoundError
		if !errors.As(err, &notFound) {
			kind = KindProfileUnavailable
			s.logger.Error().Err(err).Str("source_system", sourceSystem).Msg("profile load failed")
		}
		return FailedResult(conversionID, kind, err), err
	}

	res, err := s.engine.Execute(ctx, in, p, conversionID)
	if res != nil && len(res.Audit) > 0 && s.audit != nil {
		if !s.audit.Submit(res.Audit) {
			s.logger.Warn().Str("conversion_id", conversionID).Msg("audit batch not accepted")
		}
	}
	return res, err
}

// FailedResult is the result of a run that could not start.
func FailedResult(conversionID string, kind ErrorKind, err error) *Result {
	return &Result{
		ConversionID: conversionID,
		Status:       StatusFailed,
		Payload:      []MappedField{},
		Audit:        []audit.Record{},
		Errors:       []FieldError{{Kind: kind, Message: err.Error()}},
	}
}
