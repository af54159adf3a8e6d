// Package mapping runs a mapping profile against one source record and
// produces the ordered FHIR field payload plus its per-field audit trail.
package mapping

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/rs/zerolog"

	"github.com/ehr/mapper/internal/domain/audit"
	"github.com/ehr/mapper/internal/domain/gapfill"
	"github.com/ehr/mapper/internal/domain/profile"
	"github.com/ehr/mapper/internal/domain/terminology"
	"github.com/ehr/mapper/internal/domain/transform"
)

// CodeResolver resolves a source code to a target coding.
type CodeResolver interface {
	Resolve(ctx context.Context, q terminology.Query) (terminology.Coding, error)
}

// Suggester proposes mappings for fields without a value.
type Suggester interface {
	Enabled() bool
	Suggest(ctx context.Context, req gapfill.Request, minConfidence float64) gapfill.Outcome
}

// Options are the engine-wide policies layered over each profile.
type Options struct {
	// GapFillEnabled is a global kill switch; a profile must also enable it.
	GapFillEnabled bool
	// MinConfidence combines with the profile's minimum by max.
	MinConfidence float64
	// ExcludedFields is unioned with each profile's exclusions.
	ExcludedFields mapset.Set[string]
	MaxSamples     int
}

// Engine executes profiles. It holds no per-run state and is safe for
// concurrent use.
type Engine struct {
	transforms *transform.Registry
	resolver   CodeResolver
	suggester  Suggester
	opts       Options
	logger     zerolog.Logger
	now        func() time.Time
}

// NewEngine creates an engine. suggester may be nil when gap-fill is not
// configured.
func NewEngine(transforms *transform.Registry, resolver CodeResolver, suggester Suggester, opts Options, logger zerolog.Logger) *Engine {
	if opts.ExcludedFields == nil {
		opts.ExcludedFields = mapset.NewSet[string]()
	}
	if opts.MaxSamples <= 0 {
		opts.MaxSamples = 3
	}
	return &Engine{
		transforms: transforms,
		resolver:   resolver,
		suggester:  suggester,
		opts:       opts,
		logger:     logger.With().Str("component", "mapping_engine").Logger(),
		now:        time.Now,
	}
}

// Execute maps in against p. Field failures are isolated and recorded; only
// a missing profile or unreadable input returns an error. When ctx is
// cancelled no further fields are started and the result is tagged
// cancelled.
func (e *Engine) Execute(ctx context.Context, in Input, p *profile.Profile, conversionID string) (*Result, error) {
	if p == nil {
		return nil, errors.New("mapping: profile is required")
	}
	res := &Result{
		ConversionID:   conversionID,
		ProfileID:      p.ProfileID,
		ProfileVersion: p.Version,
		Status:         StatusComplete,
		Payload:        make([]MappedField, 0, len(p.FieldRules)),
		Audit:          make([]audit.Record, 0, len(p.FieldRules)),
	}
	if in == nil {
		res.Status = StatusFailed
		res.Errors = []FieldError{{Kind: KindMalformedInput, Message: ErrMalformedInput.Error()}}
		return res, ErrMalformedInput
	}

	start := e.now()
	r := &run{
		engine:        e,
		in:            in,
		profile:       p,
		res:           res,
		minConfidence: math.Max(e.opts.MinConfidence, p.MinConfidence),
		gapFillOn:     e.opts.GapFillEnabled && p.GapFillEnabled && e.suggester != nil && e.suggester.Enabled(),
	}

	for i, rule := range p.FieldRules {
		if err := ctx.Err(); err != nil {
			r.cancel(rule.FieldName, err)
			break
		}
		if err := r.field(ctx, i, rule); err != nil {
			if errors.Is(err, ErrMalformedInput) {
				res.Status = StatusFailed
				res.Errors = append(res.Errors, FieldError{Field: rule.FieldName, Kind: KindMalformedInput, Message: err.Error()})
				return res, err
			}
			r.cancel(rule.FieldName, err)
			break
		}
	}

	if res.Status == StatusComplete && len(res.Errors) > 0 {
		res.Status = StatusPartial
	}
	e.logger.Info().
		Str("conversion_id", conversionID).
		Str("profile_id", p.ProfileID).
		Str("profile_version", p.Version).
		Str("status", string(res.Status)).
		Int("fields", len(res.Payload)).
		Int("errors", len(res.Errors)).
		Int("pending_reviews", len(res.PendingReviews)).
		Dur("elapsed", e.now().Sub(start)).
		Msg("mapping run finished")
	return res, nil
}

// run carries the state of one Execute call.
type run struct {
	engine        *Engine
	in            Input
	profile       *profile.Profile
	res           *Result
	minConfidence float64
	gapFillOn     bool
}

func (r *run) cancel(field string, err error) {
	r.res.Status = StatusCancelled
	r.res.Errors = append(r.res.Errors, FieldError{Field: field, Kind: KindCancelled, Message: err.Error()})
}

// fieldState accumulates one field's outcome as it moves through the steps.
type fieldState struct {
	rule       profile.FieldRule
	target     string
	chain      []transform.Step
	raw        *string
	value      *string
	coding     *terminology.Coding
	confidence float64
	gapFilled  bool
	model      string
	outcome    *gapfill.Outcome
	errKind    ErrorKind
	err        error
}

// field processes one rule. It returns an error only for cancellation or
// unusable input; field failures are recorded on the result.
func (r *run) field(ctx context.Context, seq int, rule profile.FieldRule) error {
	st := &fieldState{
		rule:       rule,
		target:     rule.TargetPath,
		chain:      rule.Transforms,
		confidence: 1.0,
	}

	// Extract
	if rule.SourcePath != "" {
		v, ok, err := r.in.Extract(rule.SourcePath, rule.Filter)
		switch {
		case errors.Is(err, ErrMalformedInput):
			return err
		case err != nil:
			st.fail(KindExtraction, err)
		case ok:
			st.raw = &v
		}
	}

	// Gap-fill
	if st.raw == nil && st.err == nil && r.eligible(rule.FieldName) {
		if err := r.gapFill(ctx, st); err != nil {
			return err
		}
	}

	// Transform
	if st.err == nil {
		out, err := r.engine.transforms.Apply(st.raw, st.chain)
		if err != nil {
			st.fail(transformKind(err), err)
		} else {
			st.value = out
		}
	}

	// Resolve
	if st.err == nil && st.value != nil && rule.RequiresCodeResolution {
		q := terminology.Query{
			Code:         *st.value,
			SourceSystem: sourceCodeSystem(rule, r.profile),
			TargetSystem: rule.CodeSystem,
			Local:        rule.CodeTable,
		}
		coding, err := r.resolve(ctx, q)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			st.fail(KindUnresolvableCode, err)
		} else {
			st.coding = &coding
			code := coding.Code
			st.value = &code
		}
	}

	r.emit(seq, st)
	return nil
}

func (r *run) resolve(ctx context.Context, q terminology.Query) (terminology.Coding, error) {
	if r.engine.resolver == nil {
		return terminology.Coding{}, &terminology.UnresolvableCodeError{SourceCode: q.Code, SourceSystem: q.SourceSystem, TargetSystem: q.TargetSystem}
	}
	return r.engine.resolver.Resolve(ctx, q)
}

func (r *run) eligible(field string) bool {
	if !r.gapFillOn {
		return false
	}
	return !r.profile.Excluded(field) && !r.engine.opts.ExcludedFields.Contains(field)
}

func (r *run) gapFill(ctx context.Context, st *fieldState) error {
	samples := r.in.Samples(st.rule.FieldName, r.engine.opts.MaxSamples)
	if len(samples) == 0 {
		return nil
	}

	targetContext := st.rule.TargetPath
	if targetContext == "" && r.profile.BundleType != "" {
		targetContext = "FHIR R4 " + r.profile.BundleType + " bundle"
	}
	out := r.engine.suggester.Suggest(ctx, gapfill.Request{
		FieldName:     st.rule.FieldName,
		SampleValues:  samples,
		TargetContext: targetContext,
		SourceSystem:  r.profile.SourceSystem,
	}, r.minConfidence)
	// A result that arrives after cancellation is discarded.
	if err := ctx.Err(); err != nil {
		return err
	}

	st.outcome = &out
	st.model = out.Model
	switch out.Decision {
	case gapfill.Accepted, gapfill.AcceptedReviewable:
		s := out.Suggestion
		st.target = s.TargetPath
		st.chain = nil
		if s.TransformHint != nil {
			st.chain = []transform.Step{*s.TransformHint}
		}
		st.confidence = s.Confidence
		st.gapFilled = true
		if s.SourcePath != "" && s.SourcePath != st.rule.SourcePath {
			v, ok, err := r.in.Extract(s.SourcePath, "")
			if errors.Is(err, ErrMalformedInput) {
				return err
			}
			if err == nil && ok {
				st.raw = &v
				return nil
			}
		}
		raw := samples[0]
		st.raw = &raw
	case gapfill.PendingReview:
		st.confidence = 0
		s := out.Suggestion
		review := PendingReview{
			FieldName:  st.rule.FieldName,
			TargetPath: s.TargetPath,
			Confidence: s.Confidence,
			Model:      out.Model,
			Reasoning:  s.Reasoning,
		}
		if s.TransformHint != nil {
			review.Transform = s.TransformHint.Name
		}
		r.res.PendingReviews = append(r.res.PendingReviews, review)
	case gapfill.Rejected:
		st.confidence = 0
	case gapfill.OracleTimedOut:
		st.confidence = 0
		st.fail(KindOracleTimeout, out.Err)
	case gapfill.OracleFailed:
		st.confidence = 0
		st.fail(KindOracleError, out.Err)
	}
	return nil
}

func (r *run) emit(seq int, st *fieldState) {
	field := MappedField{
		FieldName:      st.rule.FieldName,
		TargetPath:     st.target,
		Value:          st.value,
		TransformNames: transform.Names(st.chain),
		Confidence:     st.confidence,
		GapFilled:      st.gapFilled,
	}
	if st.coding != nil {
		field.ResolvedViaTerminology = true
		field.System = st.coding.System
		field.Display = st.coding.Display
	}

	rec := audit.Record{
		ConversionID:   r.res.ConversionID,
		Seq:            seq,
		ProfileID:      r.profile.ProfileID,
		ProfileVersion: r.profile.Version,
		SourceField:    st.rule.FieldName,
		TargetPath:     st.target,
		ValueBefore:    st.raw,
		ValueAfter:     st.value,
		TransformChain: transform.Names(st.chain),
		Confidence:     st.confidence,
		GapFilled:      st.gapFilled,
		OracleModel:    st.model,
		Timestamp:      r.engine.now().UTC(),
	}
	if o := st.outcome; o != nil {
		if o.Suggestion != nil {
			rec.Confidence = o.Suggestion.Confidence
			if rec.TargetPath == "" {
				rec.TargetPath = o.Suggestion.TargetPath
			}
		}
		rec.Reviewable = o.Decision == gapfill.AcceptedReviewable
		rec.PendingReview = o.Decision == gapfill.PendingReview
		rec.Rejected = o.Decision == gapfill.Rejected
	}
	if st.err != nil {
		field.Value = nil
		rec.ValueAfter = nil
		rec.ErrorKind = string(st.errKind)
		rec.Error = st.err.Error()
		r.res.Errors = append(r.res.Errors, FieldError{Field: st.rule.FieldName, Kind: st.errKind, Message: st.err.Error()})
	}

	r.res.Payload = append(r.res.Payload, field)
	r.res.Audit = append(r.res.Audit, rec)

	ev := r.engine.logger.Debug().
		Str("conversion_id", r.res.ConversionID).
		Str("field", st.rule.FieldName).
		Str("target_path", st.target).
		Bool("has_value", field.Value != nil).
		Bool("gap_filled", st.gapFilled)
	if st.err != nil {
		ev = ev.Str("error_kind", string(st.errKind)).Err(st.err)
	}
	ev.Msg("field mapped")
}

func (st *fieldState) fail(kind ErrorKind, err error) {
	if err == nil {
		err = fmt.Errorf("%s", kind)
	}
	st.errKind = kind
	st.err = err
	st.value = nil
}

func transformKind(err error) ErrorKind {
	var unknown *transform.UnknownTransformError
	var badDate *transform.UnparseableDateError
	switch {
	case errors.As(err, &unknown):
		return KindUnknownTransform
	case errors.As(err, &badDate):
		return KindUnparseableDate
	default:
		return KindTransform
	}
}

func sourceCodeSystem(rule profile.FieldRule, p *profile.Profile) string {
	if rule.SourceCodeSystem != "" {
		return rule.SourceCodeSystem
	}
	return p.SourceSystem
}
