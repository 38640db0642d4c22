package rgbpsbt

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/rgb/contract"
	"github.com/lightninglabs/rgb/dbc"
	"github.com/lightninglabs/rgb/seal"
	"github.com/stretchr/testify/require"
)

var (
	contractA = contract.ContractID{0xaa}
	contractB = contract.ContractID{0xbb}
)

func testInternalKey() *btcec.PublicKey {
	_, pub := btcec.PrivKeyFromBytes([]byte{
		0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
		0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
		0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
		0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
	})
	return pub
}

// testPacket returns a packet with two inputs, a P2WPKH output, a BIP86
// taproot output at index 1 and an empty OP_RETURN output at index 2.
func testPacket(t *testing.T) *psbt.Packet {
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(
		&wire.OutPoint{Hash: chainhash.Hash{0x01}}, nil, nil,
	))
	tx.AddTxIn(wire.NewTxIn(
		&wire.OutPoint{Hash: chainhash.Hash{0x02}, Index: 1}, nil, nil,
	))

	internal := testInternalKey()
	tx.AddTxOut(wire.NewTxOut(1000, append(
		[]byte{txscript.OP_0, txscript.OP_DATA_20}, make([]byte, 20)...,
	)))
	tx.AddTxOut(wire.NewTxOut(2000, dbc.P2TRScript(
		txscript.ComputeTaprootKeyNoScript(internal),
	)))
	tx.AddTxOut(wire.NewTxOut(0, []byte{txscript.OP_RETURN}))

	pkt, err := psbt.NewFromUnsignedTx(tx)
	require.NoError(t, err)
	pkt.Outputs[1].TaprootInternalKey = schnorr.SerializePubKey(internal)

	return pkt
}

func testTransition(id contract.ContractID, nonce uint64) *contract.Transition {
	return &contract.Transition{
		ContractID: id,
		Type:       contract.TransitionTransfer,
		Inputs: []contract.Opout{{
			Op:   contract.OpID(id),
			Type: contract.AssignmentAsset,
		}},
		Assignments: []contract.Assignment{{
			Type:  contract.AssignmentAsset,
			Seal:  contract.Revealed(seal.NewWout(1, seal.Noise{0x01})),
			State: contract.Amount(100),
		}},
		Nonce: nonce,
	}
}

// preparePacket pushes one transition per contract, each consuming one
// input.
func preparePacket(t *testing.T, method dbc.Method) *psbt.Packet {
	pkt := testPacket(t)
	SetCloseMethod(pkt, method)

	for vin, id := range []contract.ContractID{contractA, contractB} {
		tr := testTransition(id, 1)
		require.NoError(t, PushTransition(pkt, tr))
		require.NoError(t, SetConsumer(pkt, vin, id, tr.OpID()))
	}

	return pkt
}

func TestProprietaryKey(t *testing.T) {
	t.Parallel()

	key := ProprietaryKey(NamespaceTapret, TapretOutputProof, []byte{0x42})
	require.Equal(t, []byte{
		0xfc, 0x06, 'T', 'A', 'P', 'R', 'E', 'T', 0x02, 0x42,
	}, key)

	ns, subtype, keyData, ok := parseProprietaryKey(key)
	require.True(t, ok)
	require.Equal(t, NamespaceTapret, ns)
	require.Equal(t, TapretOutputProof, subtype)
	require.Equal(t, []byte{0x42}, keyData)

	_, _, _, ok = parseProprietaryKey([]byte{0x06})
	require.False(t, ok)
	_, _, _, ok = parseProprietaryKey([]byte{0xfc, 0x10, 'R'})
	require.False(t, ok)
}

func TestPushTransitionMergesReveal(t *testing.T) {
	t.Parallel()

	pkt := testPacket(t)
	full := testTransition(contractA, 1)

	require.NoError(t, PushTransition(pkt, full.Conceal()))
	transitions, err := Transitions(pkt)
	require.NoError(t, err)
	require.Len(t, transitions, 1)
	require.False(
		t, transitions[full.OpID()].Assignments[0].Seal.IsRevealed(),
	)

	require.NoError(t, PushTransition(pkt, full))
	require.NoError(t, PushTransition(pkt, full.Conceal()))

	transitions, err = Transitions(pkt)
	require.NoError(t, err)
	require.Len(t, transitions, 1)
	require.Equal(t, full, transitions[full.OpID()])
}

func TestConsumers(t *testing.T) {
	t.Parallel()

	pkt := testPacket(t)
	trA := testTransition(contractA, 1)
	trB := testTransition(contractB, 1)

	// Two contracts may consume the same input.
	require.NoError(t, SetConsumer(pkt, 0, contractA, trA.OpID()))
	require.NoError(t, SetConsumer(pkt, 0, contractB, trB.OpID()))
	require.NoError(t, SetConsumer(pkt, 0, contractA, trA.OpID()))

	err := SetConsumer(
		pkt, 0, contractA, testTransition(contractA, 2).OpID(),
	)
	require.ErrorIs(t, err, ErrAlreadySet)

	err = SetConsumer(pkt, 5, contractA, trA.OpID())
	require.ErrorIs(t, err, ErrIndexOutOfRange)

	consumers, err := Consumers(pkt, 0)
	require.NoError(t, err)
	require.Equal(t, map[contract.ContractID]contract.OpID{
		contractA: trA.OpID(),
		contractB: trB.OpID(),
	}, consumers)

	consumers, err = Consumers(pkt, 1)
	require.NoError(t, err)
	require.Empty(t, consumers)
}

func TestBundles(t *testing.T) {
	t.Parallel()

	pkt := preparePacket(t, dbc.MethodTapret)
	bundles, err := Bundles(pkt)
	require.NoError(t, err)
	require.Len(t, bundles, 2)

	trA := testTransition(contractA, 1)
	require.Equal(t, map[uint32]contract.OpID{0: trA.OpID()},
		bundles[contractA].InputMap)
	require.True(t, bundles[contractA].IsComplete())

	// An input consumed by an operation the packet doesn't carry makes
	// the contract incomplete.
	pkt = testPacket(t)
	require.NoError(t, SetConsumer(pkt, 0, contractA, trA.OpID()))
	_, err = Bundles(pkt)
	require.ErrorIs(t, err, ErrIncompleteContract)

	// A transition consuming no input isn't committed by the bundle id,
	// so the packet is rejected, also when its contract has a bundle.
	pkt = preparePacket(t, dbc.MethodTapret)
	require.NoError(t, PushTransition(pkt, testTransition(contractA, 2)))
	_, err = Bundles(pkt)
	require.ErrorIs(t, err, ErrUnconsumedTransition)

	pkt = testPacket(t)
	require.NoError(t, PushTransition(pkt, trA))
	_, err = Bundles(pkt)
	require.ErrorIs(t, err, ErrUnconsumedTransition)

	// Committing fails the same way.
	pkt = preparePacket(t, dbc.MethodOpret)
	require.NoError(t, PushTransition(pkt, testTransition(contractB, 2)))
	_, err = Commit(pkt)
	require.ErrorIs(t, err, ErrUnconsumedTransition)
}

func TestCloseMethod(t *testing.T) {
	t.Parallel()

	pkt := testPacket(t)
	_, err := CloseMethod(pkt)
	require.ErrorIs(t, err, ErrCloseMethodUnset)

	SetCloseMethod(pkt, dbc.MethodTapret)
	method, err := CloseMethod(pkt)
	require.NoError(t, err)
	require.Equal(t, dbc.MethodTapret, method)

	SetCloseMethod(pkt, dbc.Method(9))
	_, err = CloseMethod(pkt)
	require.ErrorIs(t, err, ErrCloseMethodInvalid)
}

func TestVelocityHint(t *testing.T) {
	t.Parallel()

	pkt := testPacket(t)
	hint, ok := VelocityHint(pkt, 0)
	require.False(t, ok)
	require.Equal(t, contract.VelocityUnspecified, hint)

	require.NoError(t, SetVelocityHint(pkt, 0, contract.VelocityFrequent))
	hint, ok = VelocityHint(pkt, 0)
	require.True(t, ok)
	require.Equal(t, contract.VelocityFrequent, hint)

	require.ErrorIs(
		t, SetVelocityHint(pkt, 3, contract.VelocitySeldom),
		ErrIndexOutOfRange,
	)
}

func TestHosts(t *testing.T) {
	t.Parallel()

	pkt := testPacket(t)
	_, err := OpretHost(pkt)
	require.ErrorIs(t, err, dbc.ErrNoHost)

	require.NoError(t, SetTapretHost(pkt, 1))
	host, err := TapretHost(pkt)
	require.NoError(t, err)
	require.Equal(t, 1, host)

	require.NoError(t, SetTapretHost(pkt, 0))
	_, err = TapretHost(pkt)
	require.ErrorIs(t, err, dbc.ErrMultipleHosts)
}

func TestModifiable(t *testing.T) {
	t.Parallel()

	pkt := testPacket(t)
	require.False(t, IsModifiable(pkt))

	SetModifiable(pkt, ModifiableInputs|ModifiableOutputs)
	require.True(t, IsModifiable(pkt))

	Lock(pkt)
	require.False(t, IsModifiable(pkt))
}

func TestCommit(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		method dbc.Method
		host   func(*psbt.Packet) error
	}{{
		name:   "opret",
		method: dbc.MethodOpret,
		host: func(pkt *psbt.Packet) error {
			return SetOpretHost(pkt, 2)
		},
	}, {
		name:   "tapret",
		method: dbc.MethodTapret,
		host: func(pkt *psbt.Packet) error {
			return SetTapretHost(pkt, 1)
		},
	}}

	for _, tc := range testCases {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			pkt := preparePacket(t, tc.method)
			require.NoError(t, tc.host(pkt))

			SetModifiable(pkt, ModifiableOutputs)
			_, err := Commit(pkt)
			require.ErrorIs(t, err, dbc.ErrModifiable)

			Lock(pkt)
			anchor, err := Commit(pkt)
			require.NoError(t, err)
			require.Equal(t, pkt.UnsignedTx.TxHash(), anchor.Txid)
			require.Equal(t, tc.method, anchor.DBCProof.Method())
			require.True(t, IsCommitted(pkt))

			bundles, err := Bundles(pkt)
			require.NoError(t, err)
			for id, bundle := range bundles {
				a, err := anchor.Anchor(id)
				require.NoError(t, err)
				require.NoError(t, a.Verify(
					id, bundle.BundleID(), pkt.UnsignedTx,
				))
			}

			_, err = Commit(pkt)
			require.ErrorIs(t, err, dbc.ErrAlreadyCommitted)
		})
	}
}

func TestCommitTapretNeedsFirstTaprootOutput(t *testing.T) {
	t.Parallel()

	pkt := preparePacket(t, dbc.MethodTapret)
	require.NoError(t, SetTapretHost(pkt, 0))

	_, err := Commit(pkt)
	require.ErrorIs(t, err, dbc.ErrTapretRequired)
}
