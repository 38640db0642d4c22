package descriptor

import (
	"errors"
	"fmt"

	"github.com/lightninglabs/rgb/seal"
)

var (
	// ErrInvalidStructure is returned when the nesting or arity of a
	// descriptor expression is wrong.
	ErrInvalidStructure = errors.New("invalid descriptor structure")

	// ErrInvalidIndex is returned for a malformed derivation index.
	ErrInvalidIndex = errors.New("invalid derivation index")

	// ErrInvalidTweak is returned for a malformed tapret tweak.
	ErrInvalidTweak = errors.New("invalid tapret tweak")

	// ErrInvalidKey is returned for a malformed extended public key or
	// key origin.
	ErrInvalidKey = errors.New("invalid extended key")

	// ErrInvalidNoise is returned for a malformed noise seed.
	ErrInvalidNoise = seal.ErrInvalidNoise

	// ErrUnknownKeychain is returned when deriving on a keychain the
	// descriptor doesn't define.
	ErrUnknownKeychain = errors.New("keychain not part of descriptor")

	// ErrNotTapret is returned when a tapret operation is requested on an
	// opret descriptor.
	ErrNotTapret = errors.New("descriptor does not use tapret")
)

// ParseError is a descriptor parsing failure pointing at the offending
// token of the input.
type ParseError struct {
	// Err is the sentinel error of the failure, either from this package
	// or from the seal package.
	Err error

	// Literal is the offending token.
	Literal string

	// Offset is the byte offset of the token in the input string.
	Offset int
}

// Error returns a human readable description of the failure.
func (e *ParseError) Error() string {
	return fmt.Sprintf("%v at offset %d: '%s'", e.Err, e.Offset, e.Literal)
}

// Unwrap returns the sentinel error.
func (e *ParseError) Unwrap() error {
	return e.Err
}

func parseErr(err error, tok token) *ParseError {
	return &ParseError{Err: err, Literal: tok.s, Offset: tok.pos}
}

// fromSealErr converts a seal literal error into a descriptor parse error
// relative to the descriptor string.
func fromSealErr(err error, tok token) error {
	var sErr *seal.ParseError
	if errors.As(err, &sErr) {
		return &ParseError{
			Err:     sErr.Err,
			Literal: sErr.Literal,
			Offset:  tok.pos + sErr.Offset,
		}
	}

	return parseErr(err, tok)
}
