// Package dferrors defines docforest's structured error type and the
// sentinel errors every public operation maps internal failures onto (spec
// §7). The style — a small set of sentinel errors plus a typed detail
// struct supporting errors.Is/errors.As — mirrors the teacher's
// errors.go (ErrVersionMismatch + VersionError).
package dferrors

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"docforest/internal/core"
)

// Domain classifies where an error originated.
type Domain int

const (
	// Core is an unexpected internal failure.
	Core Domain = iota
	// HTTP is a client-facing error with an HTTP-numbered code (409, 400, 410, ...).
	HTTP
	// Engine is a failure surfaced by the underlying kv.Engine.
	Engine
)

func (d Domain) String() string {
	switch d {
	case HTTP:
		return "HTTP"
	case Engine:
		return "Engine"
	default:
		return "Core"
	}
}

// Sentinel errors public operations compare against with errors.Is.
var (
	ErrNotFound    = errors.New("docforest: not found")
	ErrConflict    = errors.New("docforest: conflict")
	ErrBadRequest  = errors.New("docforest: bad request")
	ErrGone        = errors.New("docforest: gone")
	ErrIO          = errors.New("docforest: io error")
	ErrCorrupt     = errors.New("docforest: corrupt data")
	ErrUnsupported = errors.New("docforest: unsupported")
	ErrUnknown     = errors.New("docforest: unknown error")
)

// Error is the structured error every public operation returns (spec §6.2:
// "a structured error with domain ∈ {HTTP, Engine, Core} and an integer code").
type Error struct {
	Domain Domain
	Code   int
	Op     string
	Err    error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("docforest: %s: %s (domain=%s code=%d)", e.Op, e.Err, e.Domain, e.Code)
	}
	return fmt.Sprintf("docforest: %s (domain=%s code=%d)", e.Err, e.Domain, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// New builds a structured Error for op, wrapping sentinel with domain/code.
func New(op string, domain Domain, code int, sentinel error) *Error {
	return &Error{Domain: domain, Code: code, Op: op, Err: sentinel}
}

// NotFound builds the NotFound(Engine) error (spec §7).
func NotFound(op string) *Error { return New(op, Engine, 404, ErrNotFound) }

// Conflict builds the Conflict(HTTP 409) error.
func Conflict(op string) *Error { return New(op, HTTP, 409, ErrConflict) }

// BadRequest builds the BadRequest(HTTP 400) error.
func BadRequest(op string) *Error { return New(op, HTTP, 400, ErrBadRequest) }

// Gone builds the Gone(HTTP 410) error — a revision body compacted away.
func Gone(op string) *Error { return New(op, HTTP, 410, ErrGone) }

// Unknown builds the Unknown(Core, code 2) error for unexpected internal
// failures, logging it with a warning as spec §7 requires so a caller that
// only propagates the error (rather than inspecting it) never silently
// swallows an unexpected internal failure.
func Unknown(op string, cause error) *Error {
	core.Warn("unexpected internal failure", zap.String("op", op), core.Err(cause))
	return &Error{Domain: Core, Code: 2, Op: op, Err: fmt.Errorf("%w: %v", ErrUnknown, cause)}
}

// FromEngine wraps a raw kv.Engine error as an Engine-domain Error of kind
// IO (code 500). It does not inspect the cause: ErrCorrupt and
// ErrUnsupported are never produced here.
func FromEngine(op string, cause error) *Error {
	return &Error{Domain: Engine, Code: 500, Op: op, Err: fmt.Errorf("%w: %v", ErrIO, cause)}
}
