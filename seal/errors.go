package seal

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSeal is returned when a seal literal can't be parsed.
	ErrInvalidSeal = errors.New("invalid seal literal")

	// ErrNoFallback is returned when a seal literal lacks its secondary
	// part.
	ErrNoFallback = errors.New("seal literal is missing the fallback or " +
		"noise part")

	// ErrInvalidPrimary is returned for an unparsable primary location.
	ErrInvalidPrimary = errors.New("invalid primary seal location")

	// ErrInvalidFallback is returned for an unparsable fallback outpoint.
	ErrInvalidFallback = errors.New("invalid fallback outpoint")

	// ErrInvalidNoise is returned for malformed blinding hex.
	ErrInvalidNoise = errors.New("invalid seal noise")

	// ErrInvalidVout is returned for a malformed output index.
	ErrInvalidVout = errors.New("invalid output index")

	// ErrInvalidToken is returned when an auth token can't be decoded.
	ErrInvalidToken = errors.New("invalid auth token")
)

// ParseError is a text parsing failure pointing at the offending token.
type ParseError struct {
	// Err is one of the sentinel errors of this package.
	Err error

	// Literal is the token that failed to parse.
	Literal string

	// Offset is the byte offset of the token in the parsed string.
	Offset int
}

// Error returns a human readable description of the failure.
func (e *ParseError) Error() string {
	return fmt.Sprintf("%v at offset %d: '%s'", e.Err, e.Offset, e.Literal)
}

// Unwrap returns the sentinel error kind.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// Shift returns a copy of the error with its offset moved by delta. Used by
// parsers that embed seal literals into larger strings.
func (e *ParseError) Shift(delta int) *ParseError {
	return &ParseError{
		Err:     e.Err,
		Literal: e.Literal,
		Offset:  e.Offset + delta,
	}
}

func parseErr(err error, lit string, offset int) *ParseError {
	return &ParseError{Err: err, Literal: lit, Offset: offset}
}
