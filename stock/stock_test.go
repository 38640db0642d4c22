package stock

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/rgb/contract"
	"github.com/lightninglabs/rgb/dbc"
	"github.com/lightninglabs/rgb/mpc"
	"github.com/lightninglabs/rgb/seal"
	"github.com/stretchr/testify/require"
)

var (
	genesisOutpoint = wire.OutPoint{Hash: chainhash.Hash{0x01}}

	beneficiary = seal.NewRevealed(
		wire.OutPoint{Hash: chainhash.Hash{0x09}}, seal.Noise{0x04},
	)
)

func testGenesis() *contract.Genesis {
	return &contract.Genesis{
		Iface:    "RGB20",
		Ticker:   "TEST",
		Name:     "Test asset",
		Velocity: contract.VelocityEpisodic,
		Assignments: []contract.Assignment{{
			Type: contract.AssignmentAsset,
			Seal: contract.Revealed(seal.NewRevealed(
				genesisOutpoint, seal.Noise{0x02},
			)),
			State: contract.Amount(999),
		}},
	}
}

// testTransfer spends the genesis allocation, keeping 900 as change at
// output 1 of the witness and sending 99 to the beneficiary.
func testTransfer(id contract.ContractID, nonce uint64) *contract.Transition {
	return &contract.Transition{
		ContractID: id,
		Type:       contract.TransitionTransfer,
		Inputs: []contract.Opout{{
			Op:   contract.OpID(id),
			Type: contract.AssignmentAsset,
		}},
		Assignments: []contract.Assignment{{
			Type:  contract.AssignmentAsset,
			Seal:  contract.Revealed(seal.NewWout(1, seal.Noise{0x03})),
			State: contract.Amount(900),
		}, {
			Type:  contract.AssignmentAsset,
			Seal:  contract.Concealed(beneficiary.AuthToken()),
			State: contract.Amount(99),
		}},
		Nonce: nonce,
	}
}

type anchored struct {
	witness *wire.MsgTx
	anchor  *contract.WitnessAnchor
	bundles map[contract.ContractID]*contract.Bundle
}

// anchor builds an opret witness spending the outpoints and committing to
// the transitions, each of them consuming input 0.
func anchor(t *testing.T, spends []wire.OutPoint,
	transitions ...*contract.Transition) *anchored {

	tx := wire.NewMsgTx(2)
	for i := range spends {
		tx.AddTxIn(wire.NewTxIn(&spends[i], nil, nil))
	}
	tx.AddTxOut(wire.NewTxOut(0, []byte{txscript.OP_RETURN}))
	tx.AddTxOut(wire.NewTxOut(1000, append(
		[]byte{txscript.OP_0, txscript.OP_DATA_20}, make([]byte, 20)...,
	)))

	bundles := make(map[contract.ContractID]*contract.Bundle)
	for _, tr := range transitions {
		b, ok := bundles[tr.ContractID]
		if !ok {
			b = contract.NewBundle(tr.ContractID)
			bundles[tr.ContractID] = b
		}
		require.NoError(t, b.Add(tr, 0))
	}

	builder := mpc.NewBuilder()
	for id, b := range bundles {
		require.NoError(t, builder.Add(
			id.ProtocolID(), b.BundleID().Message(),
		))
	}
	tree, err := builder.Build()
	require.NoError(t, err)

	proof, err := dbc.EmbedOpret(tx, tree.Root())
	require.NoError(t, err)

	return &anchored{
		witness: tx,
		anchor: &contract.WitnessAnchor{
			Txid:     tx.TxHash(),
			DBCProof: proof,
			Tree:     tree,
		},
		bundles: bundles,
	}
}

func (a *anchored) consume(ctx context.Context, s *Stock) error {
	return s.Consume(ctx, a.anchor, a.bundles, a.witness)
}

func (a *anchored) change() wire.OutPoint {
	return wire.OutPoint{Hash: a.anchor.Txid, Index: 1}
}

type fakeResolver struct {
	ords map[chainhash.Hash]WitnessOrd
	err  error
}

func (f *fakeResolver) WitnessStatus(_ context.Context,
	txid chainhash.Hash) (WitnessOrd, error) {

	if f.err != nil {
		return WitnessOrd{}, f.err
	}
	return f.ords[txid], nil
}

func newTestStock(t *testing.T) (*Stock, contract.ContractID) {
	s := New(NewMemBackend())
	id, err := s.ImportContract(context.Background(), testGenesis())
	require.NoError(t, err)
	return s, id
}

func amounts(allocations []*Allocation) []uint64 {
	out := make([]uint64, len(allocations))
	for i, a := range allocations {
		out[i] = a.State.Amount
	}
	return out
}

func TestConsume(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, id := newTestStock(t)

	allocs, err := s.Allocations(ctx, id, []wire.OutPoint{genesisOutpoint})
	require.NoError(t, err)
	require.Equal(t, []uint64{999}, amounts(allocs))

	_, err = s.Allocations(ctx, contract.ContractID{0xff}, nil)
	require.ErrorIs(t, err, ErrUnknownContract)

	transfer := anchor(
		t, []wire.OutPoint{genesisOutpoint}, testTransfer(id, 1),
	)
	require.NoError(t, transfer.consume(ctx, s))

	allocs, err = s.Allocations(ctx, id, []wire.OutPoint{genesisOutpoint})
	require.NoError(t, err)
	require.Empty(t, allocs)

	allocs, err = s.Allocations(ctx, id, []wire.OutPoint{transfer.change()})
	require.NoError(t, err)
	require.Equal(t, []uint64{900}, amounts(allocs))
	require.Equal(t, transfer.change(), allocs[0].Outpoint)

	ids, err := s.ContractsAt(ctx, []wire.OutPoint{
		genesisOutpoint, transfer.change(),
	})
	require.NoError(t, err)
	require.Equal(t, []contract.ContractID{id}, ids)

	// Consuming the same anchor again is a no-op.
	require.NoError(t, transfer.consume(ctx, s))
}

func TestConsumeRejectsInvalidAnchor(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, id := newTestStock(t)

	transfer := anchor(
		t, []wire.OutPoint{genesisOutpoint}, testTransfer(id, 1),
	)

	// A bundle other than the committed one fails verification and
	// leaves the store untouched.
	other := anchor(
		t, []wire.OutPoint{genesisOutpoint}, testTransfer(id, 2),
	)
	err := s.Consume(ctx, transfer.anchor, other.bundles, transfer.witness)
	require.ErrorIs(t, err, ErrInvalidAnchor)

	err = s.Consume(ctx, transfer.anchor, nil, transfer.witness)
	require.ErrorIs(t, err, ErrMissingBundle)

	err = s.Consume(ctx, transfer.anchor, transfer.bundles, other.witness)
	require.ErrorIs(t, err, ErrInvalidAnchor)

	allocs, err := s.Allocations(ctx, id, []wire.OutPoint{genesisOutpoint})
	require.NoError(t, err)
	require.Equal(t, []uint64{999}, amounts(allocs))
}

func TestSealClosedAndArchivedWitness(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, id := newTestStock(t)

	first := anchor(
		t, []wire.OutPoint{genesisOutpoint}, testTransfer(id, 1),
	)
	require.NoError(t, first.consume(ctx, s))

	second := anchor(
		t, []wire.OutPoint{genesisOutpoint}, testTransfer(id, 2),
	)
	require.ErrorIs(t, second.consume(ctx, s), ErrSealClosed)

	// Resolver failures leave the witnesses as they are.
	resolver := &fakeResolver{err: errors.New("offline")}
	require.Error(t, s.UpdateWitnesses(ctx, resolver))

	resolver = &fakeResolver{ords: map[chainhash.Hash]WitnessOrd{
		first.anchor.Txid: {Status: WitnessArchived},
	}}
	require.NoError(t, s.UpdateWitnesses(ctx, resolver))

	// The archived witness no longer defines state and its spend no
	// longer counts.
	allocs, err := s.Allocations(ctx, id, []wire.OutPoint{
		genesisOutpoint, first.change(),
	})
	require.NoError(t, err)
	require.Equal(t, []uint64{999}, amounts(allocs))

	require.NoError(t, second.consume(ctx, s))
	allocs, err = s.Allocations(ctx, id, []wire.OutPoint{
		genesisOutpoint, first.change(), second.change(),
	})
	require.NoError(t, err)
	require.Equal(t, []uint64{900}, amounts(allocs))
	require.Equal(t, second.change(), allocs[0].Outpoint)
}

func TestConsignAndAccept(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sender, id := newTestStock(t)

	transfer := anchor(
		t, []wire.OutPoint{genesisOutpoint}, testTransfer(id, 1),
	)
	require.NoError(t, transfer.consume(ctx, sender))

	token := beneficiary.AuthToken()
	c, err := sender.Consign(ctx, id, []seal.AuthToken{token})
	require.NoError(t, err)
	require.Equal(t, id, c.ContractID())
	require.Len(t, c.Bundles, 1)
	require.Len(t, c.Witnesses, 1)
	require.Equal(t, []seal.AuthToken{token}, c.Terminals)

	// Seals other than the terminal are concealed.
	require.False(t, c.Genesis.Assignments[0].Seal.IsRevealed())
	for _, tr := range c.Bundles[0].Bundle.Known {
		require.False(t, tr.Assignments[0].Seal.IsRevealed())
	}

	_, err = sender.Consign(ctx, id, []seal.AuthToken{{0x42}})
	require.ErrorIs(t, err, ErrUnknownTerminal)

	receiver := New(NewMemBackend())
	require.NoError(t, receiver.AcceptConsignment(ctx, c))

	ids, err := receiver.Contracts(ctx)
	require.NoError(t, err)
	require.Equal(t, []contract.ContractID{id}, ids)

	// Accepting twice is idempotent.
	require.NoError(t, receiver.AcceptConsignment(ctx, c))

	// The full history keeps every seal revealed and validates.
	full, err := sender.Consign(ctx, id, nil)
	require.NoError(t, err)
	require.True(t, full.Genesis.Assignments[0].Seal.IsRevealed())
	require.NoError(t, Validate(ctx, full))
}

func TestValidate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	genesis := testGenesis()
	id := genesis.ContractID()

	consignment := func(a *anchored) *contract.Consignment {
		var bundles []contract.AnchoredBundle
		for cid, b := range a.bundles {
			wa, err := a.anchor.Anchor(cid)
			if err != nil {
				panic(err)
			}
			bundles = append(bundles, contract.AnchoredBundle{
				Anchor: wa,
				Bundle: b,
			})
		}

		return &contract.Consignment{
			Genesis:   genesis,
			Bundles:   bundles,
			Witnesses: []*wire.MsgTx{a.witness},
		}
	}

	inflating := testTransfer(id, 1)
	inflating.Assignments[1].State = contract.Amount(100)

	unknownInput := testTransfer(id, 1)
	unknownInput.Inputs[0].No = 1

	testCases := []struct {
		name   string
		build  func(t *testing.T) *contract.Consignment
		expect error
	}{{
		name: "valid",
		build: func(t *testing.T) *contract.Consignment {
			return consignment(anchor(
				t, []wire.OutPoint{genesisOutpoint},
				testTransfer(id, 1),
			))
		},
	}, {
		name: "missing genesis",
		build: func(t *testing.T) *contract.Consignment {
			return &contract.Consignment{}
		},
		expect: ErrInvalidConsignment,
	}, {
		name: "inflation",
		build: func(t *testing.T) *contract.Consignment {
			return consignment(anchor(
				t, []wire.OutPoint{genesisOutpoint}, inflating,
			))
		},
		expect: ErrNonConservation,
	}, {
		name: "unknown input",
		build: func(t *testing.T) *contract.Consignment {
			return consignment(anchor(
				t, []wire.OutPoint{genesisOutpoint},
				unknownInput,
			))
		},
		expect: ErrUnknownInput,
	}, {
		name: "seal not closed",
		build: func(t *testing.T) *contract.Consignment {
			return consignment(anchor(
				t, []wire.OutPoint{{Index: 7}},
				testTransfer(id, 1),
			))
		},
		expect: ErrSealNotClosed,
	}, {
		name: "missing witness",
		build: func(t *testing.T) *contract.Consignment {
			c := consignment(anchor(
				t, []wire.OutPoint{genesisOutpoint},
				testTransfer(id, 1),
			))
			c.Witnesses = nil
			return c
		},
		expect: ErrMissingWitness,
	}, {
		name: "unknown terminal",
		build: func(t *testing.T) *contract.Consignment {
			c := consignment(anchor(
				t, []wire.OutPoint{genesisOutpoint},
				testTransfer(id, 1),
			))
			c.Terminals = []seal.AuthToken{{0x42}}
			return c
		},
		expect: ErrUnknownTerminal,
	}, {
		name: "anchor of another witness",
		build: func(t *testing.T) *contract.Consignment {
			c := consignment(anchor(
				t, []wire.OutPoint{genesisOutpoint},
				testTransfer(id, 1),
			))
			other := anchor(
				t, []wire.OutPoint{genesisOutpoint},
				testTransfer(id, 2),
			)
			c.Bundles[0].Anchor.DBCProof = other.anchor.DBCProof
			c.Witnesses[0].TxOut[0].PkScript =
				other.witness.TxOut[0].PkScript
			c.Bundles[0].Anchor.WitnessTxid = c.Witnesses[0].TxHash()
			return c
		},
		expect: ErrInvalidAnchor,
	}}

	for _, tc := range testCases {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			err := Validate(ctx, tc.build(t))
			if tc.expect == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tc.expect)
		})
	}
}

func TestFileBackendPersistence(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "stock.dat")

	backend, err := NewFileBackend(path)
	require.NoError(t, err)
	s := New(backend)

	id, err := s.ImportContract(ctx, testGenesis())
	require.NoError(t, err)
	transfer := anchor(
		t, []wire.OutPoint{genesisOutpoint}, testTransfer(id, 1),
	)
	require.NoError(t, transfer.consume(ctx, s))
	require.NoError(t, s.Close())

	backend, err = NewFileBackend(path)
	require.NoError(t, err)
	reopened := New(backend)

	allocs, err := reopened.Allocations(ctx, id, []wire.OutPoint{
		genesisOutpoint, transfer.change(),
	})
	require.NoError(t, err)
	require.Equal(t, []uint64{900}, amounts(allocs))

	c, err := reopened.Consign(ctx, id, nil)
	require.NoError(t, err)
	require.NoError(t, Validate(ctx, c))
}

func TestFileBackendRollback(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend := NewMemBackend()

	errBody := errors.New("abort")
	err := backend.ExecTx(ctx, false, func(tx StoreTx) error {
		err := tx.UpsertContract(ctx, testGenesis())
		require.NoError(t, err)
		return errBody
	})
	require.ErrorIs(t, err, errBody)

	err = backend.ExecTx(ctx, true, func(tx StoreTx) error {
		ids, err := tx.FetchContractIDs(ctx)
		require.NoError(t, err)
		require.Empty(t, ids)

		return tx.UpsertContract(ctx, testGenesis())
	})
	require.ErrorIs(t, err, ErrReadOnly)
}

func TestRevealSeals(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, id := newTestStock(t)

	transfer := anchor(
		t, []wire.OutPoint{genesisOutpoint}, testTransfer(id, 1),
	)
	require.NoError(t, transfer.consume(ctx, s))

	// The beneficiary allocation is only known by its token.
	beneficiaryOp := beneficiary.Outpoint(transfer.anchor.Txid)
	allocs, err := s.Allocations(ctx, id, []wire.OutPoint{beneficiaryOp})
	require.NoError(t, err)
	require.Empty(t, allocs)

	unrelated := seal.NewWout(3, seal.Noise{0x0f})
	n, err := s.RevealSeals(ctx, []seal.Seal{unrelated})
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = s.RevealSeals(ctx, []seal.Seal{unrelated, beneficiary})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	allocs, err = s.Allocations(ctx, id, []wire.OutPoint{beneficiaryOp})
	require.NoError(t, err)
	require.Equal(t, []uint64{99}, amounts(allocs))

	// Revealing again is a no-op.
	n, err = s.RevealSeals(ctx, []seal.Seal{beneficiary})
	require.NoError(t, err)
	require.Zero(t, n)
}
