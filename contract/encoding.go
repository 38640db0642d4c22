package contract

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/rgb/dbc"
	"github.com/lightninglabs/rgb/mpc"
	"github.com/lightninglabs/rgb/seal"
	"github.com/lightningnetwork/lnd/tlv"
	"golang.org/x/exp/maps"
)

// maxBytes limits the size of decoded byte slices.
const maxBytes = (2 << 24) - 1

// VarBytesEncoder writes a length prefixed byte slice.
func VarBytesEncoder(w io.Writer, val any, buf *[8]byte) error {
	if t, ok := val.(*[]byte); ok {
		if err := tlv.WriteVarInt(w, uint64(len(*t)), buf); err != nil {
			return err
		}
		return tlv.EVarBytes(w, t, buf)
	}
	return tlv.NewTypeForEncodingErr(val, "[]byte")
}

// VarBytesDecoder reads a length prefixed byte slice.
func VarBytesDecoder(r io.Reader, val any, buf *[8]byte, _ uint64) error {
	if typ, ok := val.(*[]byte); ok {
		bytesLen, err := tlv.ReadVarInt(r, buf)
		if err != nil {
			return err
		}
		if bytesLen > maxBytes {
			return fmt.Errorf("%w: %d bytes", ErrTooManyItems,
				bytesLen)
		}

		var b []byte
		if err := tlv.DVarBytes(r, &b, buf, bytesLen); err != nil {
			return err
		}
		*typ = b
		return nil
	}
	return tlv.NewTypeForDecodingErr(val, "[]byte", 0, 0)
}

// encodeList writes the number of items followed by every item as a length
// prefixed blob.
func encodeList[T any](w io.Writer, items []T, buf *[8]byte,
	enc func(io.Writer, *T) error) error {

	if err := tlv.WriteVarInt(w, uint64(len(items)), buf); err != nil {
		return err
	}
	for i := range items {
		var b bytes.Buffer
		if err := enc(&b, &items[i]); err != nil {
			return err
		}

		itemBytes := b.Bytes()
		if err := VarBytesEncoder(w, &itemBytes, buf); err != nil {
			return err
		}
	}

	return nil
}

// decodeList reads a list written by encodeList.
func decodeList[T any](r io.Reader, buf *[8]byte,
	dec func(io.Reader, *T) error) ([]T, error) {

	numItems, err := tlv.ReadVarInt(r, buf)
	if err != nil {
		return nil, err
	}
	if numItems > math.MaxUint16 {
		return nil, fmt.Errorf("%w: %d", ErrTooManyItems, numItems)
	}
	if numItems == 0 {
		return nil, nil
	}

	items := make([]T, numItems)
	for i := range items {
		var itemBytes []byte
		if err := VarBytesDecoder(r, &itemBytes, buf, 0); err != nil {
			return nil, err
		}
		if err := dec(bytes.NewReader(itemBytes), &items[i]); err != nil {
			return nil, err
		}
	}

	return items, nil
}

// encodedSize returns the size of the encoding produced by enc.
func encodedSize(val any, enc tlv.Encoder) func() uint64 {
	return func() uint64 {
		var (
			b   bytes.Buffer
			buf [8]byte
		)
		if err := enc(&b, val, &buf); err != nil {
			panic(err)
		}
		return uint64(b.Len())
	}
}

func encodeOpout(w io.Writer, o *Opout) error {
	_, err := w.Write(o.Bytes())
	return err
}

func decodeOpout(r io.Reader, o *Opout) error {
	var b [36]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return err
	}

	var err error
	*o, err = OpoutFromBytes(b[:])
	return err
}

const (
	sealConcealed uint8 = 0
	sealRevealed  uint8 = 1
)

func encodeAssignment(w io.Writer, a *Assignment) error {
	var buf [8]byte
	if err := tlv.EUint16T(w, uint16(a.Type), &buf); err != nil {
		return err
	}

	if a.Seal.Revealed != nil {
		if err := tlv.EUint8T(w, sealRevealed, &buf); err != nil {
			return err
		}
		if err := a.Seal.Revealed.Encode(w); err != nil {
			return err
		}
	} else {
		if err := tlv.EUint8T(w, sealConcealed, &buf); err != nil {
			return err
		}
		token := [32]byte(a.Seal.Concealed)
		if err := tlv.EBytes32(w, &token, &buf); err != nil {
			return err
		}
	}

	if err := tlv.EUint8T(w, uint8(a.State.Kind), &buf); err != nil {
		return err
	}
	return tlv.EUint64T(w, a.State.Amount, &buf)
}

func decodeAssignment(r io.Reader, a *Assignment) error {
	var (
		buf  [8]byte
		typ  uint16
		kind uint8
	)
	if err := tlv.DUint16(r, &typ, &buf, 2); err != nil {
		return err
	}
	a.Type = AssignmentType(typ)

	if err := tlv.DUint8(r, &kind, &buf, 1); err != nil {
		return err
	}
	switch kind {
	case sealRevealed:
		var s seal.Seal
		if err := s.Decode(r); err != nil {
			return err
		}
		a.Seal = Revealed(s)

	case sealConcealed:
		var token [32]byte
		if err := tlv.DBytes32(r, &token, &buf, 32); err != nil {
			return err
		}
		a.Seal = Concealed(token)

	default:
		return fmt.Errorf("unknown seal encoding %d", kind)
	}

	if err := tlv.DUint8(r, &kind, &buf, 1); err != nil {
		return err
	}
	a.State.Kind = StateKind(kind)

	return tlv.DUint64(r, &a.State.Amount, &buf, 8)
}

// OpoutsEncoder is a tlv encoder for *[]Opout.
func OpoutsEncoder(w io.Writer, val any, buf *[8]byte) error {
	if t, ok := val.(*[]Opout); ok {
		return encodeList(w, *t, buf, encodeOpout)
	}
	return tlv.NewTypeForEncodingErr(val, "*[]Opout")
}

// OpoutsDecoder is a tlv decoder for *[]Opout.
func OpoutsDecoder(r io.Reader, val any, buf *[8]byte, l uint64) error {
	if t, ok := val.(*[]Opout); ok {
		items, err := decodeList(r, buf, decodeOpout)
		if err != nil {
			return err
		}
		*t = items
		return nil
	}
	return tlv.NewTypeForDecodingErr(val, "*[]Opout", l, l)
}

// AssignmentsEncoder is a tlv encoder for *[]Assignment.
func AssignmentsEncoder(w io.Writer, val any, buf *[8]byte) error {
	if t, ok := val.(*[]Assignment); ok {
		return encodeList(w, *t, buf, encodeAssignment)
	}
	return tlv.NewTypeForEncodingErr(val, "*[]Assignment")
}

// AssignmentsDecoder is a tlv decoder for *[]Assignment.
func AssignmentsDecoder(r io.Reader, val any, buf *[8]byte, l uint64) error {
	if t, ok := val.(*[]Assignment); ok {
		items, err := decodeList(r, buf, decodeAssignment)
		if err != nil {
			return err
		}
		*t = items
		return nil
	}
	return tlv.NewTypeForDecodingErr(val, "*[]Assignment", l, l)
}

// StringEncoder is a tlv encoder for *string.
func StringEncoder(w io.Writer, val any, buf *[8]byte) error {
	if t, ok := val.(*string); ok {
		b := []byte(*t)
		return tlv.EVarBytes(w, &b, buf)
	}
	return tlv.NewTypeForEncodingErr(val, "*string")
}

// StringDecoder is a tlv decoder for *string.
func StringDecoder(r io.Reader, val any, buf *[8]byte, l uint64) error {
	if t, ok := val.(*string); ok {
		var b []byte
		if err := tlv.DVarBytes(r, &b, buf, l); err != nil {
			return err
		}
		*t = string(b)
		return nil
	}
	return tlv.NewTypeForDecodingErr(val, "*string", l, l)
}

// TransitionEncoder is a tlv encoder for **Transition.
func TransitionEncoder(w io.Writer, val any, _ *[8]byte) error {
	if t, ok := val.(**Transition); ok {
		return (*t).Encode(w)
	}
	return tlv.NewTypeForEncodingErr(val, "**Transition")
}

// TransitionDecoder is a tlv decoder for **Transition.
func TransitionDecoder(r io.Reader, val any, _ *[8]byte, l uint64) error {
	if t, ok := val.(**Transition); ok {
		var transition Transition
		err := transition.Decode(io.LimitReader(r, int64(l)))
		if err != nil {
			return err
		}
		*t = &transition
		return nil
	}
	return tlv.NewTypeForDecodingErr(val, "**Transition", l, l)
}

// GenesisEncoder is a tlv encoder for **Genesis.
func GenesisEncoder(w io.Writer, val any, _ *[8]byte) error {
	if t, ok := val.(**Genesis); ok {
		return (*t).Encode(w)
	}
	return tlv.NewTypeForEncodingErr(val, "**Genesis")
}

// GenesisDecoder is a tlv decoder for **Genesis.
func GenesisDecoder(r io.Reader, val any, _ *[8]byte, l uint64) error {
	if t, ok := val.(**Genesis); ok {
		var genesis Genesis
		err := genesis.Decode(io.LimitReader(r, int64(l)))
		if err != nil {
			return err
		}
		*t = &genesis
		return nil
	}
	return tlv.NewTypeForDecodingErr(val, "**Genesis", l, l)
}

// decodeStrict decodes the stream and fails on records of an unknown even
// type. Unknown odd records are skipped.
func decodeStrict(stream *tlv.Stream, r io.Reader) error {
	parsed, err := stream.DecodeWithParsedTypes(r)
	if err != nil {
		return err
	}

	for typ, val := range parsed {
		if val != nil && typ%2 == 0 {
			return fmt.Errorf("%w: %d", ErrUnknownRequiredType, typ)
		}
	}
	return nil
}

// Encode writes the transition as a tlv stream.
func (t *Transition) Encode(w io.Writer) error {
	stream, err := tlv.NewStream(t.records()...)
	if err != nil {
		return err
	}
	return stream.Encode(w)
}

// Decode reads a transition from a tlv stream.
func (t *Transition) Decode(r io.Reader) error {
	stream, err := tlv.NewStream(t.records()...)
	if err != nil {
		return err
	}
	return decodeStrict(stream, r)
}

// Encode writes the genesis as a tlv stream.
func (g *Genesis) Encode(w io.Writer) error {
	stream, err := tlv.NewStream(g.records()...)
	if err != nil {
		return err
	}
	return stream.Encode(w)
}

// Decode reads a genesis from a tlv stream.
func (g *Genesis) Decode(r io.Reader) error {
	stream, err := tlv.NewStream(g.records()...)
	if err != nil {
		return err
	}
	return decodeStrict(stream, r)
}

// Encode writes the bundle: contract id, input map and transitions.
func (b *Bundle) Encode(w io.Writer) error {
	var buf [8]byte

	id := [32]byte(b.ContractID)
	if err := tlv.EBytes32(w, &id, &buf); err != nil {
		return err
	}

	type vinOp struct {
		vin uint32
		op  OpID
	}
	vins := maps.Keys(b.InputMap)
	sort.Slice(vins, func(i, j int) bool { return vins[i] < vins[j] })

	inputs := make([]vinOp, 0, len(vins))
	for _, vin := range vins {
		inputs = append(inputs, vinOp{vin: vin, op: b.InputMap[vin]})
	}
	err := encodeList(w, inputs, &buf, func(w io.Writer, i *vinOp) error {
		var buf [8]byte
		if err := tlv.EUint32T(w, i.vin, &buf); err != nil {
			return err
		}
		op := [32]byte(i.op)
		return tlv.EBytes32(w, &op, &buf)
	})
	if err != nil {
		return err
	}

	transitions := b.Transitions()
	return encodeList(w, transitions, &buf,
		func(w io.Writer, t **Transition) error {
			return (*t).Encode(w)
		},
	)
}

// Decode reads a bundle written by Encode.
func (b *Bundle) Decode(r io.Reader) error {
	var (
		buf [8]byte
		id  [32]byte
	)
	if err := tlv.DBytes32(r, &id, &buf, 32); err != nil {
		return err
	}
	*b = *NewBundle(id)

	type vinOp struct {
		vin uint32
		op  OpID
	}
	inputs, err := decodeList(r, &buf, func(r io.Reader, i *vinOp) error {
		var buf [8]byte
		if err := tlv.DUint32(r, &i.vin, &buf, 4); err != nil {
			return err
		}
		var op [32]byte
		if err := tlv.DBytes32(r, &op, &buf, 32); err != nil {
			return err
		}
		i.op = op
		return nil
	})
	if err != nil {
		return err
	}
	for _, input := range inputs {
		b.InputMap[input.vin] = input.op
	}

	transitions, err := decodeList(r, &buf,
		func(r io.Reader, t **Transition) error {
			var transition Transition
			if err := transition.Decode(r); err != nil {
				return err
			}
			*t = &transition
			return nil
		},
	)
	if err != nil {
		return err
	}
	for _, t := range transitions {
		b.Known[t.OpID()] = t
	}

	return nil
}

// Encode writes the anchor: witness txid, MPC proof and DBC proof.
func (a *Anchor) Encode(w io.Writer) error {
	var buf [8]byte
	txid := [32]byte(a.WitnessTxid)
	if err := tlv.EBytes32(w, &txid, &buf); err != nil {
		return err
	}
	if err := a.MPCProof.Encode(w); err != nil {
		return err
	}
	return dbc.EncodeProof(w, a.DBCProof)
}

// Decode reads an anchor written by Encode.
func (a *Anchor) Decode(r io.Reader) error {
	var (
		buf  [8]byte
		txid [32]byte
	)
	if err := tlv.DBytes32(r, &txid, &buf, 32); err != nil {
		return err
	}
	a.WitnessTxid = chainhash.Hash(txid)

	a.MPCProof = &mpc.Proof{}
	if err := a.MPCProof.Decode(r); err != nil {
		return err
	}

	proof, err := dbc.DecodeProof(r)
	if err != nil {
		return err
	}
	a.DBCProof = proof

	return nil
}

func encodeAnchoredBundle(w io.Writer, ab *AnchoredBundle) error {
	var (
		buf    [8]byte
		anchor bytes.Buffer
	)
	if err := ab.Anchor.Encode(&anchor); err != nil {
		return err
	}
	anchorBytes := anchor.Bytes()
	if err := VarBytesEncoder(w, &anchorBytes, &buf); err != nil {
		return err
	}

	return ab.Bundle.Encode(w)
}

func decodeAnchoredBundle(r io.Reader, ab *AnchoredBundle) error {
	var (
		buf         [8]byte
		anchorBytes []byte
	)
	if err := VarBytesDecoder(r, &anchorBytes, &buf, 0); err != nil {
		return err
	}

	ab.Anchor = &Anchor{}
	if err := ab.Anchor.Decode(bytes.NewReader(anchorBytes)); err != nil {
		return err
	}

	ab.Bundle = &Bundle{}
	return ab.Bundle.Decode(r)
}

func encodeToken(w io.Writer, t *seal.AuthToken) error {
	_, err := w.Write(t[:])
	return err
}

func decodeToken(r io.Reader, t *seal.AuthToken) error {
	_, err := io.ReadFull(r, t[:])
	return err
}

func encodeWitness(w io.Writer, tx **wire.MsgTx) error {
	return (*tx).Serialize(w)
}

func decodeWitness(r io.Reader, tx **wire.MsgTx) error {
	msg := &wire.MsgTx{}
	if err := msg.Deserialize(r); err != nil {
		return err
	}
	*tx = msg
	return nil
}

// EncodeAnchoredBundle writes an anchored bundle, as stored by contract
// stores.
func EncodeAnchoredBundle(w io.Writer, ab *AnchoredBundle) error {
	return encodeAnchoredBundle(w, ab)
}

// DecodeAnchoredBundle reads an anchored bundle written by
// EncodeAnchoredBundle.
func DecodeAnchoredBundle(r io.Reader) (*AnchoredBundle, error) {
	ab := &AnchoredBundle{}
	if err := decodeAnchoredBundle(r, ab); err != nil {
		return nil, err
	}
	return ab, nil
}
