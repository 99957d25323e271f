package action

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind categorizes every terminal failure leaving the engine.
type ErrorKind string

const (
	PolicyRejected       ErrorKind = "policy_rejected"
	StructuralConstraint ErrorKind = "structural_constraint"
	StaleTarget          ErrorKind = "stale_target"
	SelfHealExhausted    ErrorKind = "self_heal_exhausted"
	ProtocolIO           ErrorKind = "protocol_io"
	Cancelled            ErrorKind = "cancelled"
	Timeout              ErrorKind = "timeout"
)

// ErrStaleTarget is wrapped by ports when the addressed node is no longer
// attached to the document.
var ErrStaleTarget = errors.New("target is no longer attached")

// Error is the categorized error carried by reports and returned to callers.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Op      Kind      `json:"op,omitempty"`
	Field   string    `json:"field,omitempty"`
	Message string    `json:"message"`
	Cause   error     `json:"-"`
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.Op, e.Kind, e.Message)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error of the same kind, so errors.Is(err, &Error{Kind: Timeout}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Retryable reports whether the caller's own retry policy may try again.
func (e *Error) Retryable() bool {
	return e.Kind == ProtocolIO
}

// KindOf extracts the error kind, or "" for uncategorized errors.
func KindOf(err error) ErrorKind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

func newError(kind ErrorKind, op Kind, field, msg string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Field: field, Message: msg, Cause: cause}
}

func rejected(op Kind, field, format string, args ...any) *Error {
	return newError(PolicyRejected, op, field, fmt.Sprintf(format, args...), nil)
}

// classify normalizes a port error. The action context wins over the error
// value: once the caller cancelled or the deadline passed, that is the story.
func classify(ctx context.Context, op Kind, stage string, err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return contextError(op, stage, ctxErr)
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return newError(Timeout, op, "", stage+" exceeded its budget", err)
	case errors.Is(err, context.Canceled):
		return newError(Cancelled, op, "", stage+" interrupted", err)
	case errors.Is(err, ErrStaleTarget):
		return newError(StaleTarget, op, "", stage+": target detached", err)
	default:
		return newError(ProtocolIO, op, "", stage+" failed", err)
	}
}

func contextError(op Kind, stage string, ctxErr error) *Error {
	if errors.Is(ctxErr, context.DeadlineExceeded) {
		return newError(Timeout, op, "", "deadline exceeded at "+stage, ctxErr)
	}
	return newError(Cancelled, op, "", "interrupted at "+stage, ctxErr)
}
