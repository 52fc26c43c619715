package rig

import (
	"context"
	"errors"
	"fmt"
)

// Error taxonomy. Every error returned by a Session wraps exactly one of
// these or a context error, test with errors.Is.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrOutOfRange      = fmt.Errorf("out of range: %w", ErrInvalidArgument)
	ErrUnsupported     = errors.New("unsupported operation")
	ErrTimeout         = errors.New("timeout")
	ErrProtocol        = errors.New("protocol error")
	ErrRejected        = fmt.Errorf("command rejected: %w", ErrProtocol)
	ErrTransport       = errors.New("transport error")
	ErrClosed          = errors.New("session not open")
)

// Error carries the operation that failed.
type Error struct {
	Op   Op
	Dir  Dir
	VFO  VFO
	Item string
	Err  error
}

func (e *Error) Error() string {
	req := Request{Op: e.Op, Dir: e.Dir, VFO: e.VFO, Item: e.Item}
	return fmt.Sprintf("%s: %v", req, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Protocolf builds an ErrProtocol with detail, for backend decoders.
func Protocolf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrProtocol, fmt.Sprintf(format, args...))
}

// Invalidf builds an ErrInvalidArgument with detail, for backend encoders.
func Invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// Code is a stable numeric error class for wire protocols.
type Code int

const (
	CodeOK Code = iota
	CodeInvalidArgument
	CodeUnsupported
	CodeTimeout
	CodeProtocol
	CodeTransport
	CodeClosed
	CodeInternal
	CodeCanceled
)

var codeNames = map[Code]string{
	CodeOK:              "ok",
	CodeInvalidArgument: "invalid_argument",
	CodeUnsupported:     "unsupported",
	CodeTimeout:         "timeout",
	CodeProtocol:        "protocol",
	CodeTransport:       "transport",
	CodeClosed:          "closed",
	CodeInternal:        "internal",
	CodeCanceled:        "canceled",
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return "unknown"
}

// CodeOf classifies err.
func CodeOf(err error) Code {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, ErrInvalidArgument):
		return CodeInvalidArgument
	case errors.Is(err, ErrUnsupported):
		return CodeUnsupported
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, ErrProtocol):
		return CodeProtocol
	case errors.Is(err, ErrTransport):
		return CodeTransport
	case errors.Is(err, ErrClosed):
		return CodeClosed
	case errors.Is(err, context.Canceled):
		return CodeCanceled
	default:
		return CodeInternal
	}
}

// classify makes sure a backend error carries a taxonomy sentinel.
func classify(err error, fallback error) error {
	if err == nil {
		return nil
	}
	if CodeOf(err) != CodeInternal {
		return err
	}
	return fmt.Errorf("%w: %w", fallback, err)
}
