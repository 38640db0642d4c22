package rgbdb

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
	"github.com/lightninglabs/rgb/stock"
	"github.com/stretchr/testify/require"
)

// NewTestDB opens a migrated sqlite database in a temporary directory that
// is closed when the test ends.
func NewTestDB(t *testing.T) *SqliteStore {
	t.Helper()

	dbFileName := filepath.Join(t.TempDir(), "tmp.db")
	sqlDB, err := NewSqliteStore(&SqliteConfig{
		DatabaseFileName: dbFileName,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, sqlDB.DB.Close())
	})

	return sqlDB
}

var genesisOutpoint = wire.OutPoint{Hash: chainhash.Hash{0x01}}

func testGenesis(amount uint64) *contract.Genesis {
	return &contract.Genesis{
		Iface:    "RGB20",
		Ticker:   "SQL",
		Name:     "Stored asset",
		Velocity: contract.VelocityRegular,
		Assignments: []contract.Assignment{{
			Type: contract.AssignmentAsset,
			Seal: contract.Revealed(seal.NewRevealed(
				genesisOutpoint, seal.Noise{0x02},
			)),
			State: contract.Amount(amount),
		}},
	}
}

// transfer spends the genesis allocation of id into an opret witness with
// the change at output 1.
func transfer(t *testing.T, id contract.ContractID) (*contract.WitnessAnchor,
	map[contract.ContractID]*contract.Bundle, *wire.MsgTx) {

	tr := &contract.Transition{
		ContractID: id,
		Type:       contract.TransitionTransfer,
		Inputs: []contract.Opout{{
			Op:   contract.OpID(id),
			Type: contract.AssignmentAsset,
		}},
		Assignments: []contract.Assignment{{
			Type:  contract.AssignmentAsset,
			Seal:  contract.Revealed(seal.NewWout(1, seal.Noise{0x03})),
			State: contract.Amount(400),
		}, {
			Type: contract.AssignmentAsset,
			Seal: contract.Concealed(seal.NewRevealed(
				wire.OutPoint{Hash: chainhash.Hash{0x09}},
				seal.Noise{0x04},
			).AuthToken()),
			State: contract.Amount(100),
		}},
	}

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(&genesisOutpoint, nil, nil))
	tx.AddTxOut(wire.NewTxOut(0, []byte{txscript.OP_RETURN}))
	tx.AddTxOut(wire.NewTxOut(1000, append(
		[]byte{txscript.OP_0, txscript.OP_DATA_20}, make([]byte, 20)...,
	)))

	bundle := contract.NewBundle(id)
	require.NoError(t, bundle.Add(tr, 0))

	builder := mpc.NewBuilder()
	require.NoError(t, builder.Add(
		id.ProtocolID(), bundle.BundleID().Message(),
	))
	tree, err := builder.Build()
	require.NoError(t, err)

	proof, err := dbc.EmbedOpret(tx, tree.Root())
	require.NoError(t, err)

	wa := &contract.WitnessAnchor{
		Txid:     tx.TxHash(),
		DBCProof: proof,
		Tree:     tree,
	}
	bundles := map[contract.ContractID]*contract.Bundle{id: bundle}

	return wa, bundles, tx
}

func TestSqlBackendStock(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := NewTestDB(t)
	s := stock.New(NewSqlBackend(db.BaseDB))

	id, err := s.ImportContract(ctx, testGenesis(500))
	require.NoError(t, err)

	ids, err := s.Contracts(ctx)
	require.NoError(t, err)
	require.Equal(t, []contract.ContractID{id}, ids)

	g, err := s.Contract(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "SQL", g.Ticker)

	wa, bundles, witness := transfer(t, id)
	require.NoError(t, s.Consume(ctx, wa, bundles, witness))

	allocs, err := s.Allocations(
		ctx, id, []wire.OutPoint{genesisOutpoint},
	)
	require.NoError(t, err)
	require.Empty(t, allocs)

	change := wire.OutPoint{Hash: witness.TxHash(), Index: 1}
	allocs, err = s.Allocations(ctx, id, []wire.OutPoint{change})
	require.NoError(t, err)
	require.Len(t, allocs, 1)
	require.EqualValues(t, 400, allocs[0].State.Amount)
	require.Equal(t, change, allocs[0].Outpoint)
	require.NotNil(t, allocs[0].Witness)
	require.Equal(t, witness.TxHash(), *allocs[0].Witness)

	// A second consumption of the same witness changes nothing.
	require.NoError(t, s.Consume(ctx, wa, bundles, witness))

	c, err := s.Consign(ctx, id, nil)
	require.NoError(t, err)
	require.Len(t, c.Bundles, 1)
	require.Len(t, c.Witnesses, 1)

	// The consignment is accepted by a fresh file backed stock.
	other := stock.New(stock.NewMemBackend())
	err = other.AcceptConsignment(ctx, c)
	require.NoError(t, err)
}

func TestSqlBackendWitnesses(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend := NewSqlBackend(NewTestDB(t).BaseDB)

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(&genesisOutpoint, nil, nil))
	tx.AddTxOut(wire.NewTxOut(1, []byte{txscript.OP_TRUE}))

	err := backend.ExecTx(ctx, false, func(dbTx stock.StoreTx) error {
		return dbTx.UpsertWitness(ctx, &stock.Witness{Tx: tx})
	})
	require.NoError(t, err)

	mined := stock.WitnessOrd{
		Status: stock.WitnessMined,
		Height: 812,
		Time:   1_700_000_000,
	}
	err = backend.ExecTx(ctx, false, func(dbTx stock.StoreTx) error {
		return dbTx.UpsertWitness(ctx, &stock.Witness{
			Tx:  tx,
			Ord: mined,
		})
	})
	require.NoError(t, err)

	err = backend.ExecTx(ctx, true, func(dbTx stock.StoreTx) error {
		w, err := dbTx.FetchWitness(ctx, tx.TxHash())
		if err != nil {
			return err
		}
		require.Equal(t, mined, w.Ord)
		require.Equal(t, tx.TxHash(), w.Tx.TxHash())

		all, err := dbTx.FetchWitnesses(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)

		_, err = dbTx.FetchWitness(ctx, chainhash.Hash{0xee})
		require.ErrorIs(t, err, stock.ErrUnknownWitness)

		return nil
	})
	require.NoError(t, err)
}

func TestSqlBackendRollback(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend := NewSqlBackend(NewTestDB(t).BaseDB)

	errAbort := errors.New("abort")
	g := testGenesis(1)
	err := backend.ExecTx(ctx, false, func(tx stock.StoreTx) error {
		if err := tx.UpsertContract(ctx, g); err != nil {
			return err
		}
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)

	err = backend.ExecTx(ctx, true, func(tx stock.StoreTx) error {
		_, err := tx.FetchContract(ctx, g.ContractID())
		return err
	})
	require.ErrorIs(t, err, stock.ErrUnknownContract)
}

func TestSqlErrorMapping(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := NewTestDB(t)

	const insertContract = `
INSERT INTO contracts (contract_id, genesis) VALUES ($1, $2)`
	_, err := db.ExecContext(ctx, insertContract, []byte{1}, []byte{2})
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, insertContract, []byte{1}, []byte{2})
	var uniqueErr *ErrSqlUniqueConstraintViolation
	require.ErrorAs(t, MapSQLError(err), &uniqueErr)

	// Transitions must belong to a known contract.
	q := NewQueries(db)
	err = q.UpsertTransition(ctx, UpsertTransitionParams{
		OpID:       []byte{3},
		ContractID: []byte{4},
		Transition: []byte{5},
	})
	var fkErr *ErrSqlForeignKeyViolation
	require.ErrorAs(t, MapSQLError(err), &fkErr)

	require.NoError(t, MapSQLError(nil))
}
