package dbc

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

const (
	// tapretPadding is the number of OP_RESERVED opcodes heading a tapret
	// leaf script. The padding makes the leaf 64 bytes long so it can't
	// be confused with a tap branch.
	tapretPadding = 29

	// TapretScriptSize is the size of a tapret leaf script.
	TapretScriptSize = tapretPadding + 2 + TapretCommitmentSize

	// TapretCommitmentSize is the size of a tapret commitment.
	TapretCommitmentSize = 33
)

// TapretCommitment is the value pushed by a tapret leaf: the 32 byte
// message followed by a one byte nonce.
type TapretCommitment [TapretCommitmentSize]byte

// NewTapretCommitment returns the commitment for the message and nonce.
func NewTapretCommitment(msg [32]byte, nonce uint8) TapretCommitment {
	var c TapretCommitment
	copy(c[:32], msg[:])
	c[32] = nonce

	return c
}

// Message returns the committed message.
func (c TapretCommitment) Message() [32]byte {
	var msg [32]byte
	copy(msg[:], c[:32])
	return msg
}

// Nonce returns the commitment nonce.
func (c TapretCommitment) Nonce() uint8 {
	return c[32]
}

// String returns the hex form of the commitment.
func (c TapretCommitment) String() string {
	return fmt.Sprintf("%x", c[:])
}

// LeafScript returns the tapret leaf script committing to c.
func (c TapretCommitment) LeafScript() []byte {
	script := bytes.Repeat([]byte{txscript.OP_RESERVED}, tapretPadding)
	script = append(script, txscript.OP_RETURN, txscript.OP_DATA_33)
	return append(script, c[:]...)
}

// TapLeaf returns the tapscript leaf committing to c.
func (c TapretCommitment) TapLeaf() txscript.TapLeaf {
	return txscript.NewBaseTapLeaf(c.LeafScript())
}

// TapretOutputKey returns the taproot output key of internal with a single
// tapret leaf as its script tree.
func TapretOutputKey(internal *btcec.PublicKey,
	c TapretCommitment) *btcec.PublicKey {

	leafHash := c.TapLeaf().TapHash()
	return txscript.ComputeTaprootOutputKey(internal, leafHash[:])
}

// P2TRScript returns the witness v1 output script of the key.
func P2TRScript(key *btcec.PublicKey) []byte {
	script := make([]byte, 0, 34)
	script = append(script, txscript.OP_1, txscript.OP_DATA_32)
	return append(script, schnorr.SerializePubKey(key)...)
}

// IsP2TR returns true for a witness v1 taproot output script.
func IsP2TR(pkScript []byte) bool {
	return len(pkScript) == 34 && pkScript[0] == txscript.OP_1 &&
		pkScript[1] == txscript.OP_DATA_32
}

// FirstTaprootOutput returns the index of the first taproot output, which is
// the only output a tapret commitment may be placed in.
func FirstTaprootOutput(tx *wire.MsgTx) (int, error) {
	for idx, out := range tx.TxOut {
		if IsP2TR(out.PkScript) {
			return idx, nil
		}
	}

	return 0, ErrTapretRequired
}

// EmbedTapret tweaks the host output of the transaction with the tapret
// commitment to msg. The host must be the first taproot output and its
// current key must be the key path only tweak of internal.
func EmbedTapret(tx *wire.MsgTx, host int, internal *btcec.PublicKey,
	msg [32]byte, nonce uint8) (*TapretProof, error) {

	first, err := FirstTaprootOutput(tx)
	if err != nil {
		return nil, err
	}
	if first != host {
		return nil, fmt.Errorf("%w: host output %d is not the first "+
			"taproot output %d", ErrTapretRequired, host, first)
	}

	bip86 := txscript.ComputeTaprootKeyNoScript(internal)
	if !bytes.Equal(tx.TxOut[host].PkScript, P2TRScript(bip86)) {
		return nil, ErrAlreadyCommitted
	}

	commitment := NewTapretCommitment(msg, nonce)
	outputKey := TapretOutputKey(internal, commitment)
	tx.TxOut[host].PkScript = P2TRScript(outputKey)

	log.Debugf("Embedded tapret commitment %v into output %d", commitment,
		host)

	return &TapretProof{
		InternalKey: internal,
		Nonce:       nonce,
	}, nil
}

// TapretProof proves a tapret commitment by revealing the internal key of
// the host output and the nonce of the commitment.
type TapretProof struct {
	// InternalKey is the internal taproot key of the host output.
	InternalKey *btcec.PublicKey

	// Nonce is the last byte of the tapret commitment.
	Nonce uint8
}

// Method returns the close method of the proof.
func (p *TapretProof) Method() Method {
	return MethodTapret
}

// Commitment returns the tapret commitment for msg.
func (p *TapretProof) Commitment(msg [32]byte) TapretCommitment {
	return NewTapretCommitment(msg, p.Nonce)
}

// Verify checks that the first taproot output of the transaction commits to
// msg.
func (p *TapretProof) Verify(msg [32]byte, tx *wire.MsgTx) error {
	if p.InternalKey == nil {
		return fmt.Errorf("%w: missing internal key",
			ErrCommitmentMismatch)
	}

	host, err := FirstTaprootOutput(tx)
	if err != nil {
		return err
	}

	expected := P2TRScript(TapretOutputKey(p.InternalKey, p.Commitment(msg)))
	if !bytes.Equal(tx.TxOut[host].PkScript, expected) {
		return fmt.Errorf("%w: tapret output %d", ErrCommitmentMismatch,
			host)
	}

	return nil
}
