package dbc

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

var testMsg = [32]byte{0x01, 0x02, 0x03}

func newTx(scripts ...[]byte) *wire.MsgTx {
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{})
	for _, script := range scripts {
		tx.AddTxOut(&wire.TxOut{Value: 1000, PkScript: script})
	}
	return tx
}

func p2wpkh() []byte {
	return append([]byte{txscript.OP_0, txscript.OP_DATA_20},
		bytes.Repeat([]byte{0x01}, 20)...)
}

func TestMethod(t *testing.T) {
	t.Parallel()

	for _, m := range []Method{MethodOpret, MethodTapret} {
		parsed, err := ParseMethod(m.String())
		require.NoError(t, err)
		require.Equal(t, m, parsed)

		fromByte, err := MethodFromByte(byte(m))
		require.NoError(t, err)
		require.Equal(t, m, fromByte)
	}

	_, err := ParseMethod("opcode")
	require.ErrorIs(t, err, ErrUnknownMethod)
	_, err = MethodFromByte(0x02)
	require.ErrorIs(t, err, ErrUnknownMethod)
}

func TestOpret(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		scripts [][]byte
		err     error
	}{{
		name:    "no host",
		scripts: [][]byte{p2wpkh()},
		err:     ErrNoHost,
	}, {
		name:    "multiple hosts",
		scripts: [][]byte{OpretHostScript, p2wpkh(), OpretHostScript},
		err:     ErrMultipleHosts,
	}, {
		name:    "single host",
		scripts: [][]byte{p2wpkh(), OpretHostScript},
	}}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			tx := newTx(tc.scripts...)
			proof, err := EmbedOpret(tx, testMsg)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			require.NoError(t, proof.Verify(testMsg, tx))
			require.ErrorIs(t, proof.Verify([32]byte{}, tx),
				ErrCommitmentMismatch)

			_, err = EmbedOpret(tx, testMsg)
			require.ErrorIs(t, err, ErrAlreadyCommitted)
		})
	}
}

func TestTapret(t *testing.T) {
	t.Parallel()

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	internal := priv.PubKey()

	host := P2TRScript(txscript.ComputeTaprootKeyNoScript(internal))
	tx := newTx(p2wpkh(), host, host)

	// Only the first taproot output may host the commitment.
	_, err = EmbedTapret(tx, 2, internal, testMsg, 0)
	require.ErrorIs(t, err, ErrTapretRequired)

	proof, err := EmbedTapret(tx, 1, internal, testMsg, 0)
	require.NoError(t, err)
	require.NoError(t, proof.Verify(testMsg, tx))
	require.ErrorIs(t, proof.Verify([32]byte{0xff}, tx),
		ErrCommitmentMismatch)

	_, err = EmbedTapret(tx, 1, internal, testMsg, 0)
	require.ErrorIs(t, err, ErrAlreadyCommitted)

	// A different nonce yields a different output key.
	other := &TapretProof{InternalKey: internal, Nonce: 1}
	require.ErrorIs(t, other.Verify(testMsg, tx), ErrCommitmentMismatch)

	_, err = EmbedTapret(newTx(p2wpkh()), 0, internal, testMsg, 0)
	require.ErrorIs(t, err, ErrTapretRequired)
}

func TestTapretLeafScript(t *testing.T) {
	t.Parallel()

	c := NewTapretCommitment(testMsg, 7)
	script := c.LeafScript()
	require.Len(t, script, TapretScriptSize)
	require.Len(t, script, 64)
	require.Equal(t, byte(txscript.OP_RESERVED), script[0])
	require.Equal(t, byte(txscript.OP_RETURN), script[29])
	require.Equal(t, testMsg, c.Message())
	require.Equal(t, uint8(7), c.Nonce())
}

func TestProofEncoding(t *testing.T) {
	t.Parallel()

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	proofs := []Proof{
		&OpretProof{},
		&TapretProof{InternalKey: priv.PubKey(), Nonce: 3},
	}
	for _, p := range proofs {
		var b bytes.Buffer
		require.NoError(t, EncodeProof(&b, p))

		decoded, err := DecodeProof(&b)
		require.NoError(t, err)
		require.Equal(t, p.Method(), decoded.Method())

		if tp, ok := p.(*TapretProof); ok {
			dp := decoded.(*TapretProof)
			require.Equal(t, tp.Nonce, dp.Nonce)
			require.Equal(t,
				schnorr.SerializePubKey(tp.InternalKey),
				schnorr.SerializePubKey(dp.InternalKey),
			)
		}
	}
}
