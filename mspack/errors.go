package mspack

import (
	"errors"
	"fmt"
)

// Code is the flat error taxonomy shared by every operation in this module.
type Code int

const (
	OK Code = iota
	ErrArgs
	ErrOpen
	ErrRead
	ErrWrite
	ErrSeek
	ErrNoMemory
	ErrSignature
	ErrDataFormat
	ErrChecksum
	ErrCrunch
	ErrDecrunch
	// ErrMissingParts is returned by extraction when a folder spans cabinet parts that were never linked.
	ErrMissingParts
)

var codeNames = [...]string{
	OK:              "no error",
	ErrArgs:         "bad arguments",
	ErrOpen:         "error opening file",
	ErrRead:         "error reading file",
	ErrWrite:        "error writing file",
	ErrSeek:         "seek error",
	ErrNoMemory:     "out of memory",
	ErrSignature:    "bad signature",
	ErrDataFormat:   "bad or corrupt file format",
	ErrChecksum:     "bad checksum or CRC",
	ErrCrunch:       "error during compression",
	ErrDecrunch:     "error during decompression",
	ErrMissingParts: "not enough cabinet parts linked",
}

func (c Code) String() string {
	if c < 0 || int(c) >= len(codeNames) {
		return fmt.Sprintf("unknown error %d", int(c))
	}
	return codeNames[c]
}

func (c Code) Error() string {
	return c.String()
}

// Error is the error type returned by the cabinet engine and compressor.
type Error struct {
	Code Code
	Op   string
	Name string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Name != "" {
		msg += " " + e.Name
	}
	switch {
	case e.Err == nil:
		msg += ": " + e.Code.String()
	case errors.Is(e.Err, e.Code):
		msg += ": " + e.Err.Error()
	default:
		msg += ": " + e.Code.String() + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the Code carried by e.
func (e *Error) Is(target error) bool {
	code, ok := target.(Code)
	return ok && code == e.Code
}

// NewError wraps err with an operation, a file name and a code.
func NewError(code Code, op, name string, err error) *Error {
	return &Error{Code: code, Op: op, Name: name, Err: err}
}

// CodeOf returns the Code an error carries. Nil maps to OK, foreign errors to ErrArgs.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return ErrArgs
}
