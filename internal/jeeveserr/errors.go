// Package jeeveserr defines the error-kind taxonomy of spec §7: callers
// classify failures with errors.Is/errors.As against these sentinels rather
// than matching message strings.
package jeeveserr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is one of the five contract-level error kinds.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindTransientIO      Kind = "transient_io"
	KindProvider         Kind = "provider"
	KindConfiguration    Kind = "configuration"
	KindStateCorruption  Kind = "state_corruption"
)

// Error wraps an underlying error with a Kind and an optional machine-
// readable Code (e.g. "path_separator", "mcp_missing", "workflow_invalid").
type Error struct {
	Kind Kind
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %v", e.Kind, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, jeeveserr.KindValidation-shaped sentinel) work by
// comparing Kind on both sides.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind && (t.Code == "" || e.Code == t.Code)
	}
	return false
}

func newErr(kind Kind, code string, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Err: fmt.Errorf(format, args...)}
}

func Validation(code, format string, args ...any) *Error {
	return newErr(KindValidation, code, format, args...)
}

func TransientIO(format string, args ...any) *Error {
	return newErr(KindTransientIO, "", format, args...)
}

func Provider(code, format string, args ...any) *Error {
	return newErr(KindProvider, code, format, args...)
}

func Configuration(code, format string, args ...any) *Error {
	return newErr(KindConfiguration, code, format, args...)
}

func StateCorruption(format string, args ...any) *Error {
	return newErr(KindStateCorruption, "", format, args...)
}

// IsKind reports whether err carries the given Kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Sanitize truncates a last_error message to ~2KiB and replaces control
// characters with spaces, per spec §7's propagation policy. Never includes
// secret values; callers are responsible for not passing them in.
func Sanitize(msg string) string {
	const maxLen = 2048
	var b strings.Builder
	b.Grow(len(msg))
	for _, r := range msg {
		if r < 0x20 {
			b.WriteRune(' ')
			continue
		}
		b.WriteRune(r)
	}
	out := b.String()
	if len(out) > maxLen {
		out = out[:maxLen]
	}
	return out
}
