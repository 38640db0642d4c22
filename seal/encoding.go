package seal

import (
	"fmt"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/tlv"
)

func writeUint32(w io.Writer, v uint32, buf *[8]byte) error {
	return tlv.EUint32T(w, v, buf)
}

func writeUint64(w io.Writer, v uint64, buf *[8]byte) error {
	return tlv.EUint64T(w, v, buf)
}

func encodeOutPoint(w io.Writer, op wire.OutPoint, buf *[8]byte) error {
	hash := [32]byte(op.Hash)
	if err := tlv.EBytes32(w, &hash, buf); err != nil {
		return err
	}

	return tlv.EUint32T(w, op.Index, buf)
}

func decodeOutPoint(r io.Reader, op *wire.OutPoint, buf *[8]byte) error {
	var hash [32]byte
	if err := tlv.DBytes32(r, &hash, buf, 32); err != nil {
		return err
	}

	var index uint32
	if err := tlv.DUint32(r, &index, buf, 4); err != nil {
		return err
	}

	*op = wire.OutPoint{Hash: chainhash.Hash(hash), Index: index}
	return nil
}

func encodePrimary(w io.Writer, p Primary, buf *[8]byte) error {
	if err := tlv.EUint8T(w, uint8(p.Kind), buf); err != nil {
		return err
	}

	switch p.Kind {
	case PrimaryExtern:
		return encodeOutPoint(w, p.Outpoint, buf)

	case PrimaryWout:
		return tlv.EUint32T(w, p.Vout, buf)

	default:
		return fmt.Errorf("unknown primary kind %d", p.Kind)
	}
}

// Encode writes the canonical encoding of the seal. The same encoding is
// hashed into the auth token.
func (s Seal) Encode(w io.Writer) error {
	var buf [8]byte
	if err := encodePrimary(w, s.Primary, &buf); err != nil {
		return err
	}

	if err := tlv.EUint8T(w, uint8(s.Secondary.Kind), &buf); err != nil {
		return err
	}

	switch s.Secondary.Kind {
	case SecondaryNoise:
		noise := [32]byte(s.Secondary.Noise)
		return tlv.EBytes32(w, &noise, &buf)

	case SecondaryFallback:
		return encodeOutPoint(w, s.Secondary.Fallback, &buf)

	default:
		return fmt.Errorf("unknown secondary kind %d", s.Secondary.Kind)
	}
}

// Decode reads a seal in its canonical encoding.
func (s *Seal) Decode(r io.Reader) error {
	var (
		buf  [8]byte
		kind uint8
	)
	if err := tlv.DUint8(r, &kind, &buf, 1); err != nil {
		return err
	}

	switch PrimaryKind(kind) {
	case PrimaryExtern:
		var op wire.OutPoint
		if err := decodeOutPoint(r, &op, &buf); err != nil {
			return err
		}
		s.Primary = Extern(op)

	case PrimaryWout:
		var vout uint32
		if err := tlv.DUint32(r, &vout, &buf, 4); err != nil {
			return err
		}
		s.Primary = Wout(vout)

	default:
		return fmt.Errorf("unknown primary kind %d", kind)
	}

	if err := tlv.DUint8(r, &kind, &buf, 1); err != nil {
		return err
	}

	switch SecondaryKind(kind) {
	case SecondaryNoise:
		var noise [32]byte
		if err := tlv.DBytes32(r, &noise, &buf, 32); err != nil {
			return err
		}
		s.Secondary = WithNoise(noise)

	case SecondaryFallback:
		var op wire.OutPoint
		if err := decodeOutPoint(r, &op, &buf); err != nil {
			return err
		}
		s.Secondary = WithFallback(op)

	default:
		return fmt.Errorf("unknown secondary kind %d", kind)
	}

	return nil
}

// SealEncoder is a tlv encoder for *Seal values.
func SealEncoder(w io.Writer, val any, _ *[8]byte) error {
	if t, ok := val.(*Seal); ok {
		return t.Encode(w)
	}
	return tlv.NewTypeForEncodingErr(val, "*seal.Seal")
}

// SealDecoder is a tlv decoder for *Seal values.
func SealDecoder(r io.Reader, val any, _ *[8]byte, l uint64) error {
	if t, ok := val.(*Seal); ok {
		return t.Decode(io.LimitReader(r, int64(l)))
	}
	return tlv.NewTypeForDecodingErr(val, "*seal.Seal", l, l)
}

// OutPointEncoder is a tlv encoder for *wire.OutPoint values.
func OutPointEncoder(w io.Writer, val any, buf *[8]byte) error {
	if t, ok := val.(*wire.OutPoint); ok {
		return encodeOutPoint(w, *t, buf)
	}
	return tlv.NewTypeForEncodingErr(val, "*wire.OutPoint")
}

// OutPointDecoder is a tlv decoder for *wire.OutPoint values.
func OutPointDecoder(r io.Reader, val any, buf *[8]byte, l uint64) error {
	if t, ok := val.(*wire.OutPoint); ok && l == 36 {
		return decodeOutPoint(r, t, buf)
	}
	return tlv.NewTypeForDecodingErr(val, "*wire.OutPoint", l, 36)
}
