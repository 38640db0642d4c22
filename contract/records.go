package contract

import (
	"io"

	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/rgb/seal"
	"github.com/lightningnetwork/lnd/tlv"
)

// TransitionTlvType is the tlv type of transition fields.
type TransitionTlvType = tlv.Type

const (
	TransitionContractID  TransitionTlvType = 0
	TransitionKind        TransitionTlvType = 2
	TransitionInputs      TransitionTlvType = 4
	TransitionAssignments TransitionTlvType = 6
	TransitionNonce       TransitionTlvType = 8
)

// GenesisTlvType is the tlv type of genesis fields.
type GenesisTlvType = tlv.Type

const (
	GenesisIface       GenesisTlvType = 0
	GenesisTicker      GenesisTlvType = 2
	GenesisName        GenesisTlvType = 4
	GenesisVelocity    GenesisTlvType = 6
	GenesisAssignments GenesisTlvType = 8
)

// ConsignmentTlvType is the tlv type of consignment fields.
type ConsignmentTlvType = tlv.Type

const (
	ConsignmentVersion   ConsignmentTlvType = 0
	ConsignmentGenesis   ConsignmentTlvType = 2
	ConsignmentBundles   ConsignmentTlvType = 4
	ConsignmentTerminals ConsignmentTlvType = 6
	ConsignmentWitnesses ConsignmentTlvType = 8
)

func (t *Transition) records() []tlv.Record {
	contractID := (*[32]byte)(&t.ContractID)
	typ := (*uint16)(&t.Type)

	return []tlv.Record{
		tlv.MakePrimitiveRecord(TransitionContractID, contractID),
		tlv.MakePrimitiveRecord(TransitionKind, typ),
		tlv.MakeDynamicRecord(
			TransitionInputs, &t.Inputs,
			encodedSize(&t.Inputs, OpoutsEncoder),
			OpoutsEncoder, OpoutsDecoder,
		),
		tlv.MakeDynamicRecord(
			TransitionAssignments, &t.Assignments,
			encodedSize(&t.Assignments, AssignmentsEncoder),
			AssignmentsEncoder, AssignmentsDecoder,
		),
		tlv.MakePrimitiveRecord(TransitionNonce, &t.Nonce),
	}
}

func (g *Genesis) records() []tlv.Record {
	velocity := (*uint8)(&g.Velocity)

	return []tlv.Record{
		newStringRecord(GenesisIface, &g.Iface),
		newStringRecord(GenesisTicker, &g.Ticker),
		newStringRecord(GenesisName, &g.Name),
		tlv.MakePrimitiveRecord(GenesisVelocity, velocity),
		tlv.MakeDynamicRecord(
			GenesisAssignments, &g.Assignments,
			encodedSize(&g.Assignments, AssignmentsEncoder),
			AssignmentsEncoder, AssignmentsDecoder,
		),
	}
}

func newStringRecord(typ tlv.Type, s *string) tlv.Record {
	return tlv.MakeDynamicRecord(
		typ, s, func() uint64 { return uint64(len(*s)) },
		StringEncoder, StringDecoder,
	)
}

func newVersionRecord(version *uint8) tlv.Record {
	return tlv.MakePrimitiveRecord(ConsignmentVersion, version)
}

func newGenesisRecord(genesis **Genesis) tlv.Record {
	return tlv.MakeDynamicRecord(
		ConsignmentGenesis, genesis,
		encodedSize(genesis, GenesisEncoder),
		GenesisEncoder, GenesisDecoder,
	)
}

// anchoredBundlesEncoder is a tlv encoder for *[]AnchoredBundle.
func anchoredBundlesEncoder(w io.Writer, val any, buf *[8]byte) error {
	if t, ok := val.(*[]AnchoredBundle); ok {
		return encodeList(w, *t, buf, encodeAnchoredBundle)
	}
	return tlv.NewTypeForEncodingErr(val, "*[]AnchoredBundle")
}

func anchoredBundlesDecoder(r io.Reader, val any, buf *[8]byte,
	l uint64) error {

	if t, ok := val.(*[]AnchoredBundle); ok {
		items, err := decodeList(r, buf, decodeAnchoredBundle)
		if err != nil {
			return err
		}
		*t = items
		return nil
	}
	return tlv.NewTypeForDecodingErr(val, "*[]AnchoredBundle", l, l)
}

func newAnchoredBundlesRecord(bundles *[]AnchoredBundle) tlv.Record {
	return tlv.MakeDynamicRecord(
		ConsignmentBundles, bundles,
		encodedSize(bundles, anchoredBundlesEncoder),
		anchoredBundlesEncoder, anchoredBundlesDecoder,
	)
}

// tokensEncoder is a tlv encoder for *[]seal.AuthToken.
func tokensEncoder(w io.Writer, val any, buf *[8]byte) error {
	if t, ok := val.(*[]seal.AuthToken); ok {
		return encodeList(w, *t, buf, encodeToken)
	}
	return tlv.NewTypeForEncodingErr(val, "*[]seal.AuthToken")
}

func tokensDecoder(r io.Reader, val any, buf *[8]byte, l uint64) error {
	if t, ok := val.(*[]seal.AuthToken); ok {
		items, err := decodeList(r, buf, decodeToken)
		if err != nil {
			return err
		}
		*t = items
		return nil
	}
	return tlv.NewTypeForDecodingErr(val, "*[]seal.AuthToken", l, l)
}

func newTokensRecord(typ tlv.Type, tokens *[]seal.AuthToken) tlv.Record {
	return tlv.MakeDynamicRecord(
		typ, tokens, encodedSize(tokens, tokensEncoder),
		tokensEncoder, tokensDecoder,
	)
}

// witnessesEncoder is a tlv encoder for *[]*wire.MsgTx.
func witnessesEncoder(w io.Writer, val any, buf *[8]byte) error {
	if t, ok := val.(*[]*wire.MsgTx); ok {
		return encodeList(w, *t, buf, encodeWitness)
	}
	return tlv.NewTypeForEncodingErr(val, "*[]*wire.MsgTx")
}

func witnessesDecoder(r io.Reader, val any, buf *[8]byte, l uint64) error {
	if t, ok := val.(*[]*wire.MsgTx); ok {
		items, err := decodeList(r, buf, decodeWitness)
		if err != nil {
			return err
		}
		*t = items
		return nil
	}
	return tlv.NewTypeForDecodingErr(val, "*[]*wire.MsgTx", l, l)
}

func newWitnessesRecord(witnesses *[]*wire.MsgTx) tlv.Record {
	return tlv.MakeDynamicRecord(
		ConsignmentWitnesses, witnesses,
		encodedSize(witnesses, witnessesEncoder),
		witnessesEncoder, witnessesDecoder,
	)
}
