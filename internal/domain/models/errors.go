package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrSymbolNotFound is returned by resolvers for unknown coin symbols.
var ErrSymbolNotFound = errors.New("symbol not found")

// ErrQuoteMissing marks a pair the remote omitted from an otherwise successful response.
var ErrQuoteMissing = errors.New("pair missing from response")

// ErrAlreadyStarted is returned by Start on a running coordinator.
var ErrAlreadyStarted = errors.New("coordinator already started")

// ErrNotStarted is returned by coordinator operations that need a running instance.
var ErrNotStarted = errors.New("coordinator not started")

// ConfigError reports invalid configuration input.
type ConfigError struct {
	Field   string
	Message string
	Invalid []InvalidToken
}

func (e *ConfigError) Error() string {
	if len(e.Invalid) == 0 {
		return fmt.Sprintf("config %s: %s", e.Field, e.Message)
	}
	toks := make([]string, 0, len(e.Invalid))
	for _, t := range e.Invalid {
		toks = append(toks, fmt.Sprintf("%q (%s)", t.Token, t.Reason))
	}
	return fmt.Sprintf("config %s: %s: %s", e.Field, e.Message, strings.Join(toks, ", "))
}

// ResolutionError marks a pair whose coin symbol has no remote identifier.
type ResolutionError struct {
	Symbol string
	Err    error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %s: %v", e.Symbol, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// FetchErrorKind classifies remote fetch failures.
type FetchErrorKind string

const (
	FetchTimeout     FetchErrorKind = "timeout"
	FetchRateLimited FetchErrorKind = "rate_limited"
	FetchUnavailable FetchErrorKind = "unavailable"
	FetchMalformed   FetchErrorKind = "malformed"
)

// FetchError is returned by the remote client. It never carries a partial result.
type FetchError struct {
	Kind       FetchErrorKind
	Status     int
	RetryAfter time.Duration // only for rate_limited, zero when the remote gave no hint
	Err        error
}

func (e *FetchError) Error() string {
	msg := "fetch " + string(e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" retry after %s", e.RetryAfter)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

// FetchErrorKindOf extracts the kind of a fetch failure. Errors that are not
// FetchErrors count as unavailable.
func FetchErrorKindOf(err error) FetchErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return FetchUnavailable
}

// DeliveryError wraps a failure raised by a subscriber handler.
type DeliveryError struct {
	Token   SubscriptionToken
	PairKey string
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver %s to %s: %v", e.PairKey, e.Token, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
