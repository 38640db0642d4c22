package contract

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightninglabs/rgb/mpc"
)

var (
	// contractIDTag is the tagged hash domain of contract ids.
	contractIDTag = []byte("urn:lnp-bp:rgb:genesis#2024-02-03")

	// opIDTag is the tagged hash domain of operation ids.
	opIDTag = []byte("urn:lnp-bp:rgb:operation#2024-02-03")

	// bundleIDTag is the tagged hash domain of bundle ids.
	bundleIDTag = []byte("urn:lnp-bp:rgb:bundle#2024-02-03")
)

// ContractID is the unique identifier of a contract, the tagged hash of its
// concealed genesis.
type ContractID [32]byte

// String returns the hex form of the id in the same byte order as bitcoin
// transaction ids.
func (c ContractID) String() string {
	return chainhash.Hash(c).String()
}

// ProtocolID returns the MPC slot of the contract.
func (c ContractID) ProtocolID() mpc.ProtocolID {
	return mpc.ProtocolID(c)
}

// ParseContractID parses the hex form of a contract id.
func ParseContractID(s string) (ContractID, error) {
	if len(s) != chainhash.MaxHashStringSize {
		return ContractID{}, fmt.Errorf("%w: '%s'", ErrInvalidID, s)
	}

	hash, err := chainhash.NewHashFromStr(s)
	if err != nil {
		return ContractID{}, fmt.Errorf("%w: %v", ErrInvalidID, err)
	}

	return ContractID(*hash), nil
}

// OpID identifies a contract operation. The id of a genesis equals the
// contract id.
type OpID [32]byte

// String returns the hex form of the operation id.
func (o OpID) String() string {
	return chainhash.Hash(o).String()
}

// ParseOpID parses the hex form of an operation id.
func ParseOpID(s string) (OpID, error) {
	id, err := ParseContractID(s)
	return OpID(id), err
}

// BundleID identifies a transition bundle. It is the message committed to
// in the MPC slot of the contract.
type BundleID [32]byte

// String returns the hex form of the bundle id.
func (b BundleID) String() string {
	return chainhash.Hash(b).String()
}

// Message returns the bundle id as an MPC message.
func (b BundleID) Message() mpc.Message {
	return mpc.Message(b)
}

// AssignmentType is the schema defined type of an owned state.
type AssignmentType uint16

const (
	// AssignmentVoid is the type of a state without value, used by
	// declarative rights.
	AssignmentVoid AssignmentType = 0

	// AssignmentAsset is the type of fungible asset ownership.
	AssignmentAsset AssignmentType = 4000
)

// String returns the decimal form of the type.
func (t AssignmentType) String() string {
	return strconv.FormatUint(uint64(t), 10)
}

// TransitionType is the schema defined type of a state transition.
type TransitionType uint16

const (
	// TransitionTransfer moves state to new owners.
	TransitionTransfer TransitionType = 10000

	// TransitionBlank carries state unchanged to new seals.
	TransitionBlank TransitionType = 0xffff
)

// String returns the name of the transition type.
func (t TransitionType) String() string {
	switch t {
	case TransitionTransfer:
		return "transfer"

	case TransitionBlank:
		return "blank"

	default:
		return fmt.Sprintf("<unknown:%d>", uint16(t))
	}
}

// Opout points at a single assignment of an operation.
type Opout struct {
	Op   OpID
	Type AssignmentType
	No   uint16
}

// String returns the `<opid>/<type>/<no>` form.
func (o Opout) String() string {
	return fmt.Sprintf("%v/%d/%d", o.Op, o.Type, o.No)
}

// Bytes returns the fixed size key form of the opout.
func (o Opout) Bytes() []byte {
	b := make([]byte, 0, 36)
	b = append(b, o.Op[:]...)
	b = binary.BigEndian.AppendUint16(b, uint16(o.Type))
	return binary.BigEndian.AppendUint16(b, o.No)
}

// OpoutFromBytes is the inverse of Opout.Bytes.
func OpoutFromBytes(b []byte) (Opout, error) {
	if len(b) != 36 {
		return Opout{}, fmt.Errorf("%w: opout of %d bytes",
			ErrInvalidID, len(b))
	}

	var o Opout
	copy(o.Op[:], b[:32])
	o.Type = AssignmentType(binary.BigEndian.Uint16(b[32:34]))
	o.No = binary.BigEndian.Uint16(b[34:])

	return o, nil
}

// ParseOpout parses the `<opid>/<type>/<no>` form.
func ParseOpout(s string) (Opout, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return Opout{}, fmt.Errorf("%w: '%s'", ErrInvalidID, s)
	}

	op, err := ParseOpID(parts[0])
	if err != nil {
		return Opout{}, err
	}
	typ, err := strconv.ParseUint(parts[1], 10, 16)
	if err != nil {
		return Opout{}, fmt.Errorf("%w: %v", ErrInvalidID, err)
	}
	no, err := strconv.ParseUint(parts[2], 10, 16)
	if err != nil {
		return Opout{}, fmt.Errorf("%w: %v", ErrInvalidID, err)
	}

	return Opout{Op: op, Type: AssignmentType(typ), No: uint16(no)}, nil
}

// VelocityHint classifies how soon an allocation is expected to move again.
type VelocityHint uint8

const (
	VelocityUnspecified   VelocityHint = 0
	VelocitySeldom        VelocityHint = 15
	VelocityEpisodic      VelocityHint = 31
	VelocityRegular       VelocityHint = 63
	VelocityFrequent      VelocityHint = 127
	VelocityHighFrequency VelocityHint = 255
)

var velocityNames = map[VelocityHint]string{
	VelocityUnspecified:   "unspecified",
	VelocitySeldom:        "seldom",
	VelocityEpisodic:      "episodic",
	VelocityRegular:       "regular",
	VelocityFrequent:      "frequent",
	VelocityHighFrequency: "highFrequency",
}

// String returns the name of the hint.
func (v VelocityHint) String() string {
	if name, ok := velocityNames[v]; ok {
		return name
	}
	return fmt.Sprintf("<unknown:%d>", uint8(v))
}

// VelocityFromByte converts the wire form of a hint. Unknown values are
// read as unspecified.
func VelocityFromByte(b byte) VelocityHint {
	v := VelocityHint(b)
	if _, ok := velocityNames[v]; !ok {
		return VelocityUnspecified
	}
	return v
}

// ParseVelocity parses the name of a hint.
func ParseVelocity(s string) (VelocityHint, error) {
	for v, name := range velocityNames {
		if strings.EqualFold(name, s) {
			return v, nil
		}
	}
	return 0, fmt.Errorf("unknown velocity hint '%s'", s)
}
