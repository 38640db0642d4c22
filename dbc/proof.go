package dbc

import (
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/tlv"
)

// Proof is the close method specific part of an anchor.
type Proof interface {
	// Method returns the close method the proof is for.
	Method() Method

	// Verify checks that the witness transaction commits to msg.
	Verify(msg [32]byte, tx *wire.MsgTx) error
}

// EncodeProof writes the method byte followed by the method specific data.
func EncodeProof(w io.Writer, p Proof) error {
	var buf [8]byte
	if err := tlv.EUint8T(w, uint8(p.Method()), &buf); err != nil {
		return err
	}

	switch t := p.(type) {
	case *OpretProof:
		return nil

	case *TapretProof:
		var key [32]byte
		copy(key[:], schnorr.SerializePubKey(t.InternalKey))
		if err := tlv.EBytes32(w, &key, &buf); err != nil {
			return err
		}
		return tlv.EUint8T(w, t.Nonce, &buf)

	default:
		return fmt.Errorf("%w: %T", ErrUnknownMethod, p)
	}
}

// DecodeProof reads a proof written by EncodeProof.
func DecodeProof(r io.Reader) (Proof, error) {
	var (
		buf    [8]byte
		method uint8
	)
	if err := tlv.DUint8(r, &method, &buf, 1); err != nil {
		return nil, err
	}

	m, err := MethodFromByte(method)
	if err != nil {
		return nil, err
	}

	switch m {
	case MethodOpret:
		return &OpretProof{}, nil

	default:
		var key [32]byte
		if err := tlv.DBytes32(r, &key, &buf, 32); err != nil {
			return nil, err
		}
		internal, err := schnorr.ParsePubKey(key[:])
		if err != nil {
			return nil, err
		}

		var nonce uint8
		if err := tlv.DUint8(r, &nonce, &buf, 1); err != nil {
			return nil, err
		}

		return &TapretProof{InternalKey: internal, Nonce: nonce}, nil
	}
}
