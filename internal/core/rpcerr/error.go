// Package rpcerr defines the typed errors reported by remote executions and
// the classifier that produces them from raw call faults.
package rpcerr

import (
	"errors"
	"fmt"
	"maps"
	"sort"
	"strings"
)

// Kind is the classification of a failure.
type Kind string

const (
	KindConfig     Kind = "config"
	KindRPC        Kind = "rpc"
	KindPeer       Kind = "peer"
	KindTimeout    Kind = "timeout"
	KindValidation Kind = "validation"
)

// Common detail keys.
const (
	DetailPeer      = "peer"
	DetailAttempt   = "attempt"
	DetailTarget    = "target"
	DetailOperation = "operation"
	DetailFaultType = "fault_type"
	DetailField     = "field"
	DetailValue     = "value"
	DetailResolver  = "resolver"
)

// Error is a classified failure. It is immutable once created; the With*
// helpers return copies.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any

	cause error
}

// New creates an Error without an underlying cause.
func New(kind Kind, msg string, details map[string]any) *Error {
	return &Error{Kind: kind, Message: msg, Details: maps.Clone(details)}
}

// Wrap creates an Error that keeps cause for diagnostics.
func Wrap(kind Kind, cause error, msg string, details map[string]any) *Error {
	e := New(kind, msg, details)
	e.cause = cause
	return e
}

// Configf reports an invalid configuration field and the value received.
func Configf(field string, value any, format string, args ...any) *Error {
	return New(KindConfig, fmt.Sprintf(format, args...), map[string]any{
		DetailField: field,
		DetailValue: value,
	})
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(string(e.Kind))
	sb.WriteString(" error: ")
	sb.WriteString(e.Message)
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s=%v", k, e.Details[k])
		}
		sb.WriteString(")")
	}
	return sb.String()
}

// Unwrap returns the original fault, if any.
func (e *Error) Unwrap() error { return e.cause }

// Detail returns the value stored under key.
func (e *Error) Detail(key string) (any, bool) {
	v, ok := e.Details[key]
	return v, ok
}

// With returns a copy of e with key set to value.
func (e *Error) With(key string, value any) *Error {
	cp := *e
	cp.Details = maps.Clone(e.Details)
	if cp.Details == nil {
		cp.Details = make(map[string]any, 1)
	}
	cp.Details[key] = value
	return &cp
}

// KindOf reports the kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsKind reports whether err carries a typed error of the given kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
