package invoice

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidScheme is returned for URIs not using the rgb scheme.
	ErrInvalidScheme = errors.New("invoice: invalid scheme")

	// ErrInvalidPath is returned when the URI path doesn't have the
	// contract, interface and beneficiary segments.
	ErrInvalidPath = errors.New("invoice: invalid path")

	// ErrInvalidContractID is returned for malformed contract ids.
	ErrInvalidContractID = errors.New("invoice: invalid contract id")

	// ErrInvalidIface is returned for malformed interface names.
	ErrInvalidIface = errors.New("invoice: invalid interface name")

	// ErrContractNoIface is returned when an invoice names a contract
	// without an interface.
	ErrContractNoIface = errors.New("invoice: contract id without " +
		"interface")

	// ErrInvalidAmount is returned for malformed amounts.
	ErrInvalidAmount = errors.New("invoice: invalid amount")

	// ErrInvalidBeneficiary is returned when the beneficiary is neither
	// an auth token nor a bitcoin address.
	ErrInvalidBeneficiary = errors.New("invoice: invalid beneficiary")

	// ErrInvalidExpiry is returned for malformed expiry timestamps.
	ErrInvalidExpiry = errors.New("invoice: invalid expiry")

	// ErrUnknownNetwork is returned for unsupported network names.
	ErrUnknownNetwork = errors.New("invoice: unknown network")

	// ErrInvalidTransport is returned for malformed endpoints.
	ErrInvalidTransport = errors.New("invoice: invalid transport")
)

// NetworkMismatchError is returned when the beneficiary address doesn't
// belong to the network of the invoice.
type NetworkMismatchError struct {
	Address string
	Network string
}

// Error implements the error interface.
func (e *NetworkMismatchError) Error() string {
	return fmt.Sprintf("invoice: address %s is not valid on %s",
		e.Address, e.Network)
}
