package contract

import "errors"

var (
	// ErrInvalidID is returned for a malformed identifier.
	ErrInvalidID = errors.New("invalid identifier")

	// ErrUnrelatedTransition is returned when merging two transitions
	// with different operation ids.
	ErrUnrelatedTransition = errors.New("unrelated transitions can't be " +
		"merged")

	// ErrAmountOverflow is returned when a fungible sum overflows.
	ErrAmountOverflow = errors.New("fungible amount overflow")

	// ErrUnknownVersion is returned when decoding a consignment with an
	// unsupported version.
	ErrUnknownVersion = errors.New("unknown consignment version")

	// ErrUnknownRequiredType is returned when decoding a record of an
	// unknown even type.
	ErrUnknownRequiredType = errors.New("unknown required tlv type")

	// ErrTooManyItems is returned when a decoded list exceeds its limit.
	ErrTooManyItems = errors.New("too many items in list")

	// ErrNoAnchorProof is returned when a witness anchor has no MPC proof
	// for a contract.
	ErrNoAnchorProof = errors.New("no anchor proof for contract")
)
