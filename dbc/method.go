package dbc

import (
	"errors"
	"fmt"
)

var (
	// ErrNoHost is returned when a transaction has no output able to
	// carry the commitment.
	ErrNoHost = errors.New("no commitment host output")

	// ErrMultipleHosts is returned when more than one output is eligible
	// to carry the commitment.
	ErrMultipleHosts = errors.New("multiple commitment host outputs")

	// ErrTapretRequired is returned when the tapret method is used but no
	// taproot host output exists.
	ErrTapretRequired = errors.New("taproot host output required for " +
		"tapret commitment")

	// ErrModifiable is returned when a commitment is attempted on a
	// template that still allows adding inputs or outputs.
	ErrModifiable = errors.New("transaction template is still modifiable")

	// ErrAlreadyCommitted is returned when a template already carries a
	// commitment.
	ErrAlreadyCommitted = errors.New("transaction already committed")

	// ErrCommitmentMismatch is returned when a proof doesn't match the
	// commitment found in the witness transaction.
	ErrCommitmentMismatch = errors.New("commitment does not match witness " +
		"transaction")

	// ErrUnknownMethod is returned for an unknown close method.
	ErrUnknownMethod = errors.New("unknown close method")
)

// Method is the deterministic bitcoin commitment scheme used to close seals.
type Method uint8

const (
	// MethodOpret commits into the payload of a single OP_RETURN output.
	MethodOpret Method = 0

	// MethodTapret commits into a script path leaf of a taproot output.
	MethodTapret Method = 1
)

// String returns the name of the close method.
func (m Method) String() string {
	switch m {
	case MethodOpret:
		return "opret"

	case MethodTapret:
		return "tapret"

	default:
		return fmt.Sprintf("<unknown:%d>", uint8(m))
	}
}

// ParseMethod parses the name of a close method.
func ParseMethod(s string) (Method, error) {
	switch s {
	case "opret":
		return MethodOpret, nil

	case "tapret":
		return MethodTapret, nil

	default:
		return 0, fmt.Errorf("%w: %s", ErrUnknownMethod, s)
	}
}

// MethodFromByte converts the wire encoding of a method.
func MethodFromByte(b byte) (Method, error) {
	m := Method(b)
	if m != MethodOpret && m != MethodTapret {
		return 0, fmt.Errorf("%w: %#x", ErrUnknownMethod, b)
	}

	return m, nil
}
