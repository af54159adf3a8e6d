package gapfill

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

// Confidence tiers.
const (
	AutoAcceptThreshold  = 0.90
	ReviewThreshold      = 0.75
	HumanReviewThreshold = 0.50
)

const maxSampleLen = 256

// Boundary returns the lowest confidence accepted without human review. A
// profile's minimum may raise the default but never lower it.
func Boundary(minConfidence float64) float64 {
	return math.Max(ReviewThreshold, minConfidence)
}

// Classify maps a confidence to its acceptance tier.
func Classify(confidence, minConfidence float64) Decision {
	b := Boundary(minConfidence)
	switch {
	case confidence >= math.Max(AutoAcceptThreshold, b):
		return Accepted
	case confidence >= b:
		return AcceptedReviewable
	case confidence >= HumanReviewThreshold:
		return PendingReview
	default:
		return Rejected
	}
}

// Client is the bounded, data-minimising boundary to an Oracle.
type Client struct {
	oracle     Oracle
	timeout    time.Duration
	maxSamples int
	logger     zerolog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeout bounds each oracle call.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// WithMaxSamples caps the sample values sent per field.
func WithMaxSamples(n int) ClientOption {
	return func(c *Client) { c.maxSamples = n }
}

// NewClient wraps oracle. A nil oracle yields a client whose outcomes are
// always Disabled.
func NewClient(oracle Oracle, logger zerolog.Logger, opts ...ClientOption) *Client {
	c := &Client{
		oracle:     oracle,
		timeout:    5 * time.Second,
		maxSamples: 3,
		logger:     logger.With().Str("component", "gapfill").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enabled reports whether an oracle is configured.
func (c *Client) Enabled() bool {
	return c != nil && c.oracle != nil
}

// Suggest asks the oracle about one unmapped field and classifies the
// answer. Failures are reported in the Outcome, never returned.
func (c *Client) Suggest(ctx context.Context, req Request, minConfidence float64) Outcome {
	if !c.Enabled() {
		return Outcome{Decision: Disabled}
	}
	model := c.oracle.Model()
	req.SampleValues = c.minimise(req.SampleValues)

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type result struct {
		s   *Suggestion
		err error
	}
	done := make(chan result, 1)
	start := time.Now()
	go func() {
		s, err := c.oracle.Suggest(callCtx, req)
		done <- result{s: s, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return Outcome{Decision: OracleFailed, Model: model, Err: &OracleError{Model: model, Cause: ctx.Err()}}
		}
		c.logger.Warn().Str("field", req.FieldName).Dur("timeout", c.timeout).Msg("oracle timed out")
		return Outcome{Decision: OracleTimedOut, Model: model, Err: ErrOracleTimeout}
	}

	if res.err != nil {
		if errors.Is(res.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return Outcome{Decision: OracleTimedOut, Model: model, Err: ErrOracleTimeout}
		}
		c.logger.Warn().Err(res.err).Str("field", req.FieldName).Msg("oracle call failed")
		return Outcome{Decision: OracleFailed, Model: model, Err: &OracleError{Model: model, Cause: res.err}}
	}
	if err := validate(res.s); err != nil {
		c.logger.Warn().Err(err).Str("field", req.FieldName).Msg("oracle returned an unusable suggestion")
		return Outcome{Decision: OracleFailed, Model: model, Err: &OracleError{Model: model, Cause: err}}
	}

	decision := Classify(res.s.Confidence, minConfidence)
	c.logger.Debug().
		Str("field", req.FieldName).
		Str("target_path", res.s.TargetPath).
		Float64("confidence", res.s.Confidence).
		Str("decision", string(decision)).
		Dur("elapsed", time.Since(start)).
		Msg("gap-fill suggestion")
	return Outcome{Decision: decision, Suggestion: res.s, Model: model}
}

func (c *Client) minimise(samples []string) []string {
	n := len(samples)
	if c.maxSamples >= 0 && n > c.maxSamples {
		n = c.maxSamples
	}
	out := make([]string, 0, n)
	for _, s := range samples[:n] {
		if len(s) > maxSampleLen {
			cut := maxSampleLen
			for cut > 0 && !utf8.RuneStart(s[cut]) {
				cut--
			}
			s = s[:cut]
		}
		out = append(out, s)
	}
	return out
}

func validate(s *Suggestion) error {
	if s == nil {
		return errors.New("empty suggestion")
	}
	if math.IsNaN(s.Confidence) || s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("confidence %v outside [0,1]", s.Confidence)
	}
	if s.TargetPath == "" {
		return errors.New("suggestion has no target path")
	}
	return nil
}
