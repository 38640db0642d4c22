package rgbpsbt

import (
	"errors"

	"github.com/btcsuite/btcd/btcutil/psbt"
)

// customPsbtField is a type alias psbt.Unknown to make it more clear that we
// are using the Unknown struct to represent a custom PSBT field.
type customPsbtField = psbt.Unknown

const (
	// PsbtKeyTypeProprietary is the BIP-174 key type of proprietary
	// fields, valid in the global, input and output maps.
	PsbtKeyTypeProprietary byte = 0xfc

	// PsbtKeyTypeGlobalTxModifiable is the BIP-370 global key holding the
	// modifiable flags of the transaction.
	PsbtKeyTypeGlobalTxModifiable byte = 0x06
)

var (
	// NamespaceRGB is the proprietary identifier of RGB fields.
	NamespaceRGB = []byte("RGB")

	// NamespaceOpret is the proprietary identifier of opret fields.
	NamespaceOpret = []byte("OPRET")

	// NamespaceTapret is the proprietary identifier of tapret fields.
	NamespaceTapret = []byte("TAPRET")

	// NamespaceMPC is the proprietary identifier of multi protocol
	// commitment fields.
	NamespaceMPC = []byte("MPC")
)

const (
	// RgbGlobalTransition holds a serialized transition, keyed by its
	// operation id.
	RgbGlobalTransition uint64 = 0x01

	// RgbGlobalCloseMethod holds the one byte close method.
	RgbGlobalCloseMethod uint64 = 0x02

	// RgbInputConsumer holds the operation id consuming the input, keyed
	// by contract id.
	RgbInputConsumer uint64 = 0x01

	// RgbOutputVelocity holds the one byte velocity hint of the output.
	RgbOutputVelocity uint64 = 0x01

	// OpretOutputHost marks the output hosting an opret commitment.
	OpretOutputHost uint64 = 0x00

	// OpretGlobalCommitment holds the embedded opret commitment.
	OpretGlobalCommitment uint64 = 0x01

	// TapretOutputHost marks the output hosting a tapret commitment.
	TapretOutputHost uint64 = 0x00

	// TapretOutputCommitment holds the tapret commitment of the host.
	TapretOutputCommitment uint64 = 0x01

	// TapretOutputProof holds the serialized tapret proof of the host.
	TapretOutputProof uint64 = 0x02

	// MPCGlobalMessage holds the message of a protocol, keyed by protocol
	// id.
	MPCGlobalMessage uint64 = 0x00

	// MPCGlobalCommitment holds the MPC root.
	MPCGlobalCommitment uint64 = 0x01
)

const (
	// ModifiableInputs is the modifiable flag bit allowing new inputs.
	ModifiableInputs byte = 0x01

	// ModifiableOutputs is the modifiable flag bit allowing new outputs.
	ModifiableOutputs byte = 0x02
)

var (
	// ErrKeyNotFound is returned when a key is not found among the unknown
	// fields of a packet.
	ErrKeyNotFound = errors.New("rgbpsbt: key not found")

	// ErrAlreadySet is returned when a field already holds a different
	// value.
	ErrAlreadySet = errors.New("rgbpsbt: key already set to a different " +
		"value")

	// ErrMalformed is returned when a proprietary value can't be decoded.
	ErrMalformed = errors.New("rgbpsbt: malformed proprietary value")

	// ErrIncompleteContract is returned when inputs are consumed by
	// operations of a contract whose transitions are missing.
	ErrIncompleteContract = errors.New("rgbpsbt: contract has consumed " +
		"inputs but no known transitions")

	// ErrUnconsumedTransition is returned when the packet carries a
	// transition consuming none of its inputs.
	ErrUnconsumedTransition = errors.New("rgbpsbt: transition consumes " +
		"no input")

	// ErrCloseMethodUnset is returned when the close method isn't set.
	ErrCloseMethodUnset = errors.New("rgbpsbt: close method not set")

	// ErrCloseMethodInvalid is returned for an unknown close method.
	ErrCloseMethodInvalid = errors.New("rgbpsbt: invalid close method")

	// ErrIndexOutOfRange is returned for an input or output index the
	// packet doesn't have.
	ErrIndexOutOfRange = errors.New("rgbpsbt: index out of range")
)
