package stock

import (
	"bytes"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/rgb/contract"
	"github.com/lightninglabs/rgb/seal"
	"github.com/lightningnetwork/lnd/tlv"
)

const (
	allocHasSeal    byte = 1 << 0
	allocHasWitness byte = 1 << 1
	allocIsSpent    byte = 1 << 2
)

func encodeHash(w io.Writer, h chainhash.Hash, buf *[8]byte) error {
	b := [32]byte(h)
	return tlv.EBytes32(w, &b, buf)
}

func decodeHash(r io.Reader, buf *[8]byte) (*chainhash.Hash, error) {
	var b [32]byte
	if err := tlv.DBytes32(r, &b, buf, 32); err != nil {
		return nil, err
	}
	h := chainhash.Hash(b)
	return &h, nil
}

// EncodeAllocation writes the allocation in its storage encoding.
func EncodeAllocation(w io.Writer, a *Allocation) error {
	var buf [8]byte

	var flags byte
	if a.Seal != nil {
		flags |= allocHasSeal
	}
	if a.Witness != nil {
		flags |= allocHasWitness
	}
	if a.SpentBy != nil && a.SpentWitness != nil {
		flags |= allocIsSpent
	}

	id := [32]byte(a.ContractID)
	if err := tlv.EBytes32(w, &id, &buf); err != nil {
		return err
	}
	if _, err := w.Write(a.Opout.Bytes()); err != nil {
		return err
	}
	if err := tlv.EUint8T(w, flags, &buf); err != nil {
		return err
	}

	if a.Seal != nil {
		var b bytes.Buffer
		if err := a.Seal.Encode(&b); err != nil {
			return err
		}
		sealBytes := b.Bytes()
		err := contract.VarBytesEncoder(w, &sealBytes, &buf)
		if err != nil {
			return err
		}
	}

	token := [32]byte(a.Token)
	if err := tlv.EBytes32(w, &token, &buf); err != nil {
		return err
	}
	if err := seal.OutPointEncoder(w, &a.Outpoint, &buf); err != nil {
		return err
	}
	if err := tlv.EUint8T(w, uint8(a.State.Kind), &buf); err != nil {
		return err
	}
	if err := tlv.EUint64T(w, a.State.Amount, &buf); err != nil {
		return err
	}

	if a.Witness != nil {
		if err := encodeHash(w, *a.Witness, &buf); err != nil {
			return err
		}
	}
	if flags&allocIsSpent != 0 {
		spentBy := chainhash.Hash(*a.SpentBy)
		if err := encodeHash(w, spentBy, &buf); err != nil {
			return err
		}
		return encodeHash(w, *a.SpentWitness, &buf)
	}

	return nil
}

// DecodeAllocation reads an allocation written by EncodeAllocation.
func DecodeAllocation(r io.Reader) (*Allocation, error) {
	var (
		buf [8]byte
		a   Allocation
	)

	id, err := decodeHash(r, &buf)
	if err != nil {
		return nil, err
	}
	a.ContractID = contract.ContractID(*id)

	var opout [36]byte
	if _, err := io.ReadFull(r, opout[:]); err != nil {
		return nil, err
	}
	if a.Opout, err = contract.OpoutFromBytes(opout[:]); err != nil {
		return nil, err
	}

	var flags uint8
	if err := tlv.DUint8(r, &flags, &buf, 1); err != nil {
		return nil, err
	}

	if flags&allocHasSeal != 0 {
		var sealBytes []byte
		err := contract.VarBytesDecoder(r, &sealBytes, &buf, 0)
		if err != nil {
			return nil, err
		}

		var s seal.Seal
		if err := s.Decode(bytes.NewReader(sealBytes)); err != nil {
			return nil, err
		}
		a.Seal = &s
	}

	token, err := decodeHash(r, &buf)
	if err != nil {
		return nil, err
	}
	a.Token = seal.AuthToken(*token)

	if err := seal.OutPointDecoder(r, &a.Outpoint, &buf, 36); err != nil {
		return nil, err
	}

	var kind uint8
	if err := tlv.DUint8(r, &kind, &buf, 1); err != nil {
		return nil, err
	}
	a.State.Kind = contract.StateKind(kind)
	if err := tlv.DUint64(r, &a.State.Amount, &buf, 8); err != nil {
		return nil, err
	}

	if flags&allocHasWitness != 0 {
		if a.Witness, err = decodeHash(r, &buf); err != nil {
			return nil, err
		}
	}
	if flags&allocIsSpent != 0 {
		spentBy, err := decodeHash(r, &buf)
		if err != nil {
			return nil, err
		}
		op := contract.OpID(*spentBy)
		a.SpentBy = &op

		if a.SpentWitness, err = decodeHash(r, &buf); err != nil {
			return nil, err
		}
	}

	return &a, nil
}

// EncodeWitness writes the witness in its storage encoding.
func EncodeWitness(w io.Writer, wit *Witness) error {
	var buf [8]byte
	if err := tlv.EUint8T(w, uint8(wit.Ord.Status), &buf); err != nil {
		return err
	}
	if err := tlv.EUint32T(w, wit.Ord.Height, &buf); err != nil {
		return err
	}
	if err := tlv.EUint64T(w, uint64(wit.Ord.Time), &buf); err != nil {
		return err
	}

	return wit.Tx.Serialize(w)
}

// DecodeWitness reads a witness written by EncodeWitness.
func DecodeWitness(r io.Reader) (*Witness, error) {
	var (
		buf    [8]byte
		status uint8
		t      uint64
		wit    Witness
	)
	if err := tlv.DUint8(r, &status, &buf, 1); err != nil {
		return nil, err
	}
	if status > uint8(WitnessGenesis) {
		return nil, fmt.Errorf("unknown witness status %d", status)
	}
	wit.Ord.Status = WitnessStatus(status)

	if err := tlv.DUint32(r, &wit.Ord.Height, &buf, 4); err != nil {
		return nil, err
	}
	if err := tlv.DUint64(r, &t, &buf, 8); err != nil {
		return nil, err
	}
	wit.Ord.Time = int64(t)

	wit.Tx = &wire.MsgTx{}
	if err := wit.Tx.Deserialize(r); err != nil {
		return nil, err
	}

	return &wit, nil
}
