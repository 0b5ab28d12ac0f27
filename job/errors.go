package job

import (
	"errors"
	"fmt"

	"gigflow/escrow"
)

var (
	ErrValidation   = errors.New("job: validation failed")
	ErrUnauthorized = errors.New("job: actor not permitted")
	ErrInvalidState = errors.New("job: invalid state for operation")
	// ErrConflict is returned by Store.ConditionalUpdate when the stored record no longer matches the condition.
	ErrConflict = errors.New("job: concurrent modification")
	ErrNotFound = errors.New("job: not found")
)

// ConflictError is surfaced when a transition lost a race and the fresh record
// no longer allows it.
type ConflictError struct {
	JobID    string
	Expected Status
	Actual   Status
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("job: %s changed concurrently (expected %s, found %s)", e.JobID, e.Expected, e.Actual)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// Rule is the client-facing classification of an error.
type Rule string

const (
	RuleValidation       Rule = "validation"
	RuleAuthorization    Rule = "authorization"
	RuleState            Rule = "state"
	RuleConflict         Rule = "conflict"
	RuleNotFound         Rule = "not_found"
	RuleGatewayTransient Rule = "gateway_transient"
	RuleGatewayFatal     Rule = "gateway_fatal"
	RuleInternal         Rule = "internal"
)

// Classify maps err to the rule a caller broke, or to the gateway failure class.
func Classify(err error) Rule {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return RuleValidation
	case errors.Is(err, ErrUnauthorized):
		return RuleAuthorization
	case errors.Is(err, ErrInvalidState):
		return RuleState
	case errors.Is(err, ErrConflict):
		return RuleConflict
	case errors.Is(err, ErrNotFound):
		return RuleNotFound
	case escrow.IsTransient(err):
		return RuleGatewayTransient
	case escrow.IsFatal(err):
		return RuleGatewayFatal
	default:
		return RuleInternal
	}
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}

func unauthorizedf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrUnauthorized}, args...)...)
}

func invalidStatef(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidState}, args...)...)
}
