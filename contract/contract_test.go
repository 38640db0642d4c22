package contract

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/rgb/dbc"
	"github.com/lightninglabs/rgb/internal/test"
	"github.com/lightninglabs/rgb/mpc"
	"github.com/lightninglabs/rgb/seal"
	"github.com/stretchr/testify/require"
)

func testGenesis() *Genesis {
	return &Genesis{
		Iface:    "RGB20",
		Ticker:   "TEST",
		Name:     "Test asset",
		Velocity: VelocityEpisodic,
		Assignments: []Assignment{{
			Type: AssignmentAsset,
			Seal: Revealed(seal.NewRevealed(
				wire.OutPoint{Hash: chainhash.Hash{0x01}},
				seal.Noise{0x02},
			)),
			State: Amount(999),
		}},
	}
}

func testTransition(id ContractID) *Transition {
	return &Transition{
		ContractID: id,
		Type:       TransitionTransfer,
		Inputs: []Opout{{
			Op:   OpID(id),
			Type: AssignmentAsset,
		}},
		Assignments: []Assignment{{
			Type:  AssignmentAsset,
			Seal:  Revealed(seal.NewWout(0, seal.Noise{0x03})),
			State: Amount(900),
		}, {
			Type:  AssignmentAsset,
			Seal:  Concealed(seal.AuthToken{0x04}),
			State: Amount(99),
		}},
		Nonce: 7,
	}
}

func TestOpIDIgnoresConcealment(t *testing.T) {
	t.Parallel()

	g := testGenesis()
	require.Equal(t, g.ContractID(), g.Conceal().ContractID())
	require.Equal(t, OpID(g.ContractID()), g.OpID())

	tr := testTransition(g.ContractID())
	require.Equal(t, tr.OpID(), tr.Conceal().OpID())

	other := tr.Copy()
	other.Nonce++
	require.NotEqual(t, tr.OpID(), other.OpID())
}

func TestMergeReveal(t *testing.T) {
	t.Parallel()

	id := testGenesis().ContractID()
	full := testTransition(id)
	full.Assignments[1].Seal = Revealed(
		seal.NewRevealed(wire.OutPoint{Index: 3}, seal.Noise{0x05}),
	)

	// Build two partially concealed views of the same transition.
	a := full.Copy()
	a.Assignments[1] = a.Assignments[1].Conceal()
	b := full.Copy()
	b.Assignments[0] = b.Assignments[0].Conceal()

	ab, err := a.MergeReveal(b)
	require.NoError(t, err)
	ba, err := b.MergeReveal(a)
	require.NoError(t, err)

	require.Equal(t, ab, ba)
	require.Equal(t, full, ab)

	// Merging is idempotent.
	abab, err := ab.MergeReveal(ab)
	require.NoError(t, err)
	require.Equal(t, ab, abab)

	unrelated := full.Copy()
	unrelated.Nonce = 100
	_, err = full.MergeReveal(unrelated)
	require.ErrorIs(t, err, ErrUnrelatedTransition)
}

func TestTransitionEncoding(t *testing.T) {
	t.Parallel()

	tr := testTransition(testGenesis().ContractID())

	var b bytes.Buffer
	require.NoError(t, tr.Encode(&b))

	var decoded Transition
	require.NoError(t, decoded.Decode(&b))
	require.Equal(t, tr, &decoded)
	require.Equal(t, tr.OpID(), decoded.OpID())
}

// TestUnknownTypes tests that operations reject unknown even records and
// skip unknown odd ones.
func TestUnknownTypes(t *testing.T) {
	t.Parallel()

	g := testGenesis()
	test.RunUnknownOddTypeTest(
		t, g, func(b *bytes.Buffer, g *Genesis) error {
			return g.Encode(b)
		}, func(b *bytes.Buffer) (*Genesis, error) {
			var decoded Genesis
			return &decoded, decoded.Decode(b)
		}, func(decoded *Genesis) {
			require.Equal(t, g.ContractID(), decoded.ContractID())
		}, ErrUnknownRequiredType,
	)

	tr := testTransition(g.ContractID())
	test.RunUnknownOddTypeTest(
		t, tr, func(b *bytes.Buffer, tr *Transition) error {
			return tr.Encode(b)
		}, func(b *bytes.Buffer) (*Transition, error) {
			var decoded Transition
			return &decoded, decoded.Decode(b)
		}, func(decoded *Transition) {
			require.Equal(t, tr, decoded)
		}, ErrUnknownRequiredType,
	)
}

func TestBundle(t *testing.T) {
	t.Parallel()

	id := testGenesis().ContractID()
	tr := testTransition(id)

	bundle := NewBundle(id)
	require.NoError(t, bundle.Add(tr, 0, 2))
	require.True(t, bundle.IsComplete())
	require.Equal(t, []uint32{0, 2}, bundle.Vins(tr.OpID()))

	// Adding the concealed form merges into the known transition.
	require.NoError(t, bundle.Add(tr.Conceal(), 0))
	require.Equal(t, tr, bundle.Known[tr.OpID()])

	// A different operation can't consume the same input.
	other := tr.Copy()
	other.Nonce++
	require.Error(t, bundle.Add(other, 2))

	// The bundle id only depends on the input map.
	bundle2 := NewBundle(id)
	require.NoError(t, bundle2.Add(tr, 2, 0))
	require.Equal(t, bundle.BundleID(), bundle2.BundleID())

	var b bytes.Buffer
	require.NoError(t, bundle.Encode(&b))

	var decoded Bundle
	require.NoError(t, decoded.Decode(&b))
	require.Equal(t, bundle.BundleID(), decoded.BundleID())
	require.Equal(t, bundle.Known, decoded.Known)
}

func TestAnchorAndConsignment(t *testing.T) {
	t.Parallel()

	genesis := testGenesis()
	id := genesis.ContractID()

	bundle := NewBundle(id)
	require.NoError(t, bundle.Add(testTransition(id), 0))

	builder := mpc.NewBuilder()
	require.NoError(t, builder.Add(id.ProtocolID(),
		bundle.BundleID().Message()))
	require.NoError(t, builder.Add(mpc.ProtocolID{0xff}, mpc.Message{}))
	tree, err := builder.Build()
	require.NoError(t, err)

	witness := wire.NewMsgTx(2)
	witness.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Hash: chainhash.Hash{0x01}},
	})
	witness.AddTxOut(&wire.TxOut{PkScript: dbc.OpretHostScript})
	proof, err := dbc.EmbedOpret(witness, tree.Root())
	require.NoError(t, err)

	wa := &WitnessAnchor{
		Txid:     witness.TxHash(),
		DBCProof: proof,
		Tree:     tree,
	}
	require.ElementsMatch(t, []ContractID{id, {0xff}}, wa.Contracts())

	anchor, err := wa.Anchor(id)
	require.NoError(t, err)
	require.NoError(t, anchor.Verify(id, bundle.BundleID(), witness))
	require.ErrorIs(t,
		anchor.Verify(ContractID{0xff}, bundle.BundleID(), witness),
		dbc.ErrCommitmentMismatch,
	)
	require.Error(t, anchor.Verify(id, BundleID{}, witness))

	_, err = wa.Anchor(ContractID{0x99})
	require.ErrorIs(t, err, ErrNoAnchorProof)

	consignment := &Consignment{
		Version: ConsignmentV0,
		Genesis: genesis,
		Bundles: []AnchoredBundle{{
			Anchor: anchor,
			Bundle: bundle,
		}},
		Terminals: []seal.AuthToken{{0x04}},
		Witnesses: []*wire.MsgTx{witness},
	}

	var b bytes.Buffer
	require.NoError(t, consignment.Encode(&b))

	var decoded Consignment
	require.NoError(t, decoded.Decode(&b))
	require.Equal(t, id, decoded.ContractID())
	require.Equal(t, consignment.Terminals, decoded.Terminals)
	require.Len(t, decoded.Bundles, 1)

	decodedBundle := decoded.Bundles[0]
	require.Equal(t, bundle.BundleID(), decodedBundle.Bundle.BundleID())
	require.NoError(t, decodedBundle.Anchor.Verify(
		id, decodedBundle.Bundle.BundleID(), witness,
	))

	tx, ok := decoded.Witness(witness.TxHash())
	require.True(t, ok)
	require.Equal(t, witness.TxHash(), tx.TxHash())
	require.Len(t, decoded.Transitions(), 1)
}

func TestIdentifiers(t *testing.T) {
	t.Parallel()

	id := testGenesis().ContractID()
	parsed, err := ParseContractID(id.String())
	require.NoError(t, err)
	require.Equal(t, id, parsed)

	_, err = ParseContractID("abc")
	require.ErrorIs(t, err, ErrInvalidID)

	opout := Opout{Op: OpID(id), Type: AssignmentAsset, No: 3}
	parsedOpout, err := ParseOpout(opout.String())
	require.NoError(t, err)
	require.Equal(t, opout, parsedOpout)

	fromBytes, err := OpoutFromBytes(opout.Bytes())
	require.NoError(t, err)
	require.Equal(t, opout, fromBytes)

	for _, v := range []VelocityHint{
		VelocityUnspecified, VelocitySeldom, VelocityEpisodic,
		VelocityRegular, VelocityFrequent, VelocityHighFrequency,
	} {
		parsed, err := ParseVelocity(v.String())
		require.NoError(t, err)
		require.Equal(t, v, parsed)
		require.Equal(t, v, VelocityFromByte(byte(v)))
	}
	require.Equal(t, VelocityUnspecified, VelocityFromByte(42))
}
