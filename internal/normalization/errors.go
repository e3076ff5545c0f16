package normalization

import (
	"errors"
	"fmt"
)

// Sentinel errors matched by the typed rejections below.
var (
	// ErrMalformedInput is matched by every MalformedInputError.
	ErrMalformedInput = errors.New("malformed input")

	// ErrClockSkew is matched by every ClockSkewError.
	ErrClockSkew = errors.New("clock skew")
)

// Rejection reason codes.
const (
	ReasonMissingField     = "missing_field"
	ReasonInvalidNumber    = "invalid_number"
	ReasonNegativeValue    = "negative_value"
	ReasonInvalidDirection = "invalid_direction"
	ReasonInvalidAddress   = "invalid_address"
	ReasonProgramAddress   = "program_address"

	ReasonFutureTimestamp = "future_timestamp"
	ReasonBeforeFirstSeen = "before_first_seen"
	ReasonOutOfOrder      = "out_of_order"
)

// Rejection kinds, used as metric labels.
const (
	KindMalformed = "malformed"
	KindClockSkew = "clock_skew"
)

// MalformedInputError reports a raw event that cannot become a Transaction.
type MalformedInputError struct {
	Reason string
	Field  string
	Detail string
}

func (e *MalformedInputError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("malformed input: %s (%s)", e.Reason, e.Field)
	}
	return fmt.Sprintf("malformed input: %s (%s): %s", e.Reason, e.Field, e.Detail)
}

// Is matches ErrMalformedInput.
func (e *MalformedInputError) Is(target error) bool {
	return target == ErrMalformedInput
}

// ClockSkewError reports a timestamp outside the accepted clock bounds.
type ClockSkewError struct {
	Reason    string
	Wallet    string
	BlockTime int64 // ms
	Reference int64 // ms, the bound that was violated
}

func (e *ClockSkewError) Error() string {
	return fmt.Sprintf("clock skew: %s: wallet %s block_time %d reference %d",
		e.Reason, e.Wallet, e.BlockTime, e.Reference)
}

// Is matches ErrClockSkew.
func (e *ClockSkewError) Is(target error) bool {
	return target == ErrClockSkew
}

// Classify returns the metric kind and reason code of a rejection.
func Classify(err error) (kind, reason string) {
	var mErr *MalformedInputError
	if errors.As(err, &mErr) {
		return KindMalformed, mErr.Reason
	}
	var cErr *ClockSkewError
	if errors.As(err, &cErr) {
		return KindClockSkew, cErr.Reason
	}
	return "other", "unknown"
}

func missing(field string) error {
	return &MalformedInputError{Reason: ReasonMissingField, Field: field}
}

func invalidNumber(field string, v any) error {
	return &MalformedInputError{Reason: ReasonInvalidNumber, Field: field, Detail: fmt.Sprintf("%v (%T)", v, v)}
}
