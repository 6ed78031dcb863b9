// Package apperr defines the typed error taxonomy shared across providers,
// the orchestrator, and the document pipeline. Callers branch on Kind to
// decide retry, fallback, or remediation behavior rather than matching on
// error strings.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for dispatch purposes.
type Kind int

const (
	// KindInternal marks an invariant violation. Never retried, never
	// suppressed.
	KindInternal Kind = iota
	KindAuthentication
	KindNetwork
	KindQuota
	KindVoice
	KindFormat
	KindDependency
	KindProvider
	KindBadOption
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindNetwork:
		return "network"
	case KindQuota:
		return "quota"
	case KindVoice:
		return "voice"
	case KindFormat:
		return "format"
	case KindDependency:
		return "dependency"
	case KindProvider:
		return "provider"
	case KindBadOption:
		return "bad_option"
	case KindCancelled:
		return "cancelled"
	default:
		return "internal"
	}
}

// Error is the concrete error type produced by this module. It carries a
// Kind for dispatch, a human-readable Message, an optional wrapped Cause,
// and an optional suggestion list for Voice/BadOption errors.
type Error struct {
	Kind        Kind
	Message     string
	Cause       error
	Suggestions []string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error of the given kind wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithSuggestions attaches a suggestion list (nearest matches) and returns e
// for chaining.
func (e *Error) WithSuggestions(suggestions ...string) *Error {
	e.Suggestions = suggestions
	return e
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind == kind
	}
	return false
}

// Retriable reports whether an error's kind is retriable under the
// orchestrator's backoff schedule: transient network faults and upstream
// 5xx (KindProvider) conditions are retried; everything else surfaces
// immediately.
func Retriable(err error) bool {
	var ae *Error
	if !errors.As(err, &ae) {
		return false
	}
	switch ae.Kind {
	case KindNetwork, KindProvider:
		return true
	default:
		return false
	}
}
