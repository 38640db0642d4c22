package dbc

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// OpretHostScript is the script of an opret host output before the
// commitment is embedded.
var OpretHostScript = []byte{txscript.OP_RETURN}

// IsOpReturn returns true if the script is an OP_RETURN output script.
func IsOpReturn(pkScript []byte) bool {
	return len(pkScript) > 0 && pkScript[0] == txscript.OP_RETURN
}

// OpretScript returns the output script carrying the given commitment.
func OpretScript(msg [32]byte) []byte {
	script := make([]byte, 0, 34)
	script = append(script, txscript.OP_RETURN, txscript.OP_DATA_32)
	return append(script, msg[:]...)
}

// FindOpretHost returns the index of the only OP_RETURN output of the
// transaction.
func FindOpretHost(tx *wire.MsgTx) (int, error) {
	host := -1
	for idx, out := range tx.TxOut {
		if !IsOpReturn(out.PkScript) {
			continue
		}

		if host >= 0 {
			return 0, ErrMultipleHosts
		}
		host = idx
	}

	if host < 0 {
		return 0, ErrNoHost
	}

	return host, nil
}

// EmbedOpret writes the commitment into the OP_RETURN host of the
// transaction.
func EmbedOpret(tx *wire.MsgTx, msg [32]byte) (*OpretProof, error) {
	host, err := FindOpretHost(tx)
	if err != nil {
		return nil, err
	}

	if len(tx.TxOut[host].PkScript) > 1 {
		return nil, ErrAlreadyCommitted
	}

	tx.TxOut[host].PkScript = OpretScript(msg)

	log.Debugf("Embedded opret commitment %x into output %d", msg[:], host)

	return &OpretProof{}, nil
}

// OpretProof proves an opret commitment. The host output is found from the
// transaction itself so no data is needed.
type OpretProof struct{}

// Method returns the close method of the proof.
func (p *OpretProof) Method() Method {
	return MethodOpret
}

// Verify checks that the transaction commits to msg in its only OP_RETURN
// output.
func (p *OpretProof) Verify(msg [32]byte, tx *wire.MsgTx) error {
	host, err := FindOpretHost(tx)
	if err != nil {
		return err
	}

	if !bytes.Equal(tx.TxOut[host].PkScript, OpretScript(msg)) {
		return fmt.Errorf("%w: opret output %d", ErrCommitmentMismatch,
			host)
	}

	return nil
}
