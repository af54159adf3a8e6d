package gapfill

import (
	"errors"
	"fmt"
)

// ErrOracleTimeout is returned when the oracle does not answer in time.
var ErrOracleTimeout = errors.New("gapfill: oracle timed out")

// OracleError wraps a failed oracle call or an unusable answer.
type OracleError struct {
	Model string
	Cause error
}

func (e *OracleError) Error() string {
	if e.Model == "" {
		return fmt.Sprintf("oracle error: %v", e.Cause)
	}
	return fmt.Sprintf("oracle error (model=%s): %v", e.Model, e.Cause)
}

func (e *OracleError) Unwrap() error { return e.Cause }
