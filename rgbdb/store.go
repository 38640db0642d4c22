package rgbdb

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/rgb/contract"
	"github.com/lightninglabs/rgb/fn"
	"github.com/lightninglabs/rgb/seal"
	"github.com/lightninglabs/rgb/stock"
)

// SqlBackend is a contract store backend on a SQL database.
type SqlBackend struct {
	db *BaseDB

	exec *TransactionExecutor[*storeTx]
}

// NewSqlBackend returns a contract store backend running on the database.
func NewSqlBackend(db *BaseDB) *SqlBackend {
	createQuery := func(tx *sql.Tx) *storeTx {
		return &storeTx{q: NewQueries(tx)}
	}

	return &SqlBackend{
		db:   db,
		exec: NewTransactionExecutor(db, createQuery),
	}
}

// ExecTx runs txBody in a single database transaction.
func (s *SqlBackend) ExecTx(ctx context.Context, readOnly bool,
	txBody func(stock.StoreTx) error) error {

	opts := WriteTxOption()
	if readOnly {
		opts = ReadTxOption()
	}

	return s.exec.ExecTx(ctx, opts, func(tx *storeTx) error {
		return txBody(tx)
	})
}

// Close closes the database.
func (s *SqlBackend) Close() error {
	return s.db.Close()
}

var _ stock.Backend = (*SqlBackend)(nil)

// storeTx implements the contract store queries within a database
// transaction.
type storeTx struct {
	q *Queries
}

func encodeTo(enc func(w *bytes.Buffer) error) ([]byte, error) {
	var b bytes.Buffer
	if err := enc(&b); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func hashBytes(h *chainhash.Hash) []byte {
	if h == nil {
		return nil
	}
	return h[:]
}

func hashFromBytes(b []byte) (*chainhash.Hash, error) {
	if b == nil {
		return nil, nil
	}
	return chainhash.NewHash(b)
}

func outpointBytes(op wire.OutPoint) ([]byte, error) {
	return encodeTo(func(w *bytes.Buffer) error {
		var buf [8]byte
		return seal.OutPointEncoder(w, &op, &buf)
	})
}

func (t *storeTx) FetchContract(ctx context.Context,
	id contract.ContractID) (*contract.Genesis, error) {

	raw, err := t.q.FetchContract(ctx, id[:])
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, stock.ErrUnknownContract

	case err != nil:
		return nil, err
	}

	var g contract.Genesis
	if err := g.Decode(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("unable to decode genesis: %w", err)
	}
	return &g, nil
}

func (t *storeTx) FetchContractIDs(
	ctx context.Context) ([]contract.ContractID, error) {

	rows, err := t.q.FetchContractIDs(ctx)
	if err != nil {
		return nil, err
	}

	ids := make([]contract.ContractID, 0, len(rows))
	for _, row := range rows {
		if len(row) != len(contract.ContractID{}) {
			return nil, fmt.Errorf("invalid contract id length %d",
				len(row))
		}
		ids = append(ids, fn.ToArray[contract.ContractID](row))
	}
	return ids, nil
}

func (t *storeTx) UpsertContract(ctx context.Context,
	g *contract.Genesis) error {

	raw, err := encodeTo(func(w *bytes.Buffer) error {
		return g.Encode(w)
	})
	if err != nil {
		return err
	}

	id := g.ContractID()
	return t.q.UpsertContract(ctx, id[:], raw)
}

func (t *storeTx) FetchTransition(ctx context.Context,
	op contract.OpID) (*contract.Transition, error) {

	raw, err := t.q.FetchTransition(ctx, op[:])
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, stock.ErrUnknownOperation

	case err != nil:
		return nil, err
	}

	var tr contract.Transition
	if err := tr.Decode(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("unable to decode transition: %w", err)
	}
	return &tr, nil
}

func (t *storeTx) UpsertTransition(ctx context.Context,
	tr *contract.Transition) error {

	raw, err := encodeTo(func(w *bytes.Buffer) error {
		return tr.Encode(w)
	})
	if err != nil {
		return err
	}

	opID := tr.OpID()
	return t.q.UpsertTransition(ctx, UpsertTransitionParams{
		OpID:       opID[:],
		ContractID: tr.ContractID[:],
		Transition: raw,
	})
}

func (t *storeTx) UpsertAnchoredBundle(ctx context.Context,
	ab *contract.AnchoredBundle) error {

	raw, err := encodeTo(func(w *bytes.Buffer) error {
		return contract.EncodeAnchoredBundle(w, ab)
	})
	if err != nil {
		return err
	}

	return t.q.UpsertAnchoredBundle(ctx, UpsertAnchoredBundleParams{
		ContractID:     ab.Bundle.ContractID[:],
		WitnessTxid:    ab.Anchor.WitnessTxid[:],
		AnchoredBundle: raw,
	})
}

func (t *storeTx) FetchAnchoredBundles(ctx context.Context,
	id contract.ContractID) ([]*contract.AnchoredBundle, error) {

	rows, err := t.q.FetchAnchoredBundles(ctx, id[:])
	if err != nil {
		return nil, err
	}

	bundles := make([]*contract.AnchoredBundle, 0, len(rows))
	for _, row := range rows {
		ab, err := contract.DecodeAnchoredBundle(bytes.NewReader(row))
		if err != nil {
			return nil, fmt.Errorf("unable to decode bundle: %w",
				err)
		}
		bundles = append(bundles, ab)
	}
	return bundles, nil
}

func unmarshalWitness(row WitnessRow) (*stock.Witness, error) {
	tx := &wire.MsgTx{}
	if err := tx.Deserialize(bytes.NewReader(row.RawTx)); err != nil {
		return nil, fmt.Errorf("unable to decode witness: %w", err)
	}

	return &stock.Witness{
		Tx: tx,
		Ord: stock.WitnessOrd{
			Status: stock.WitnessStatus(row.Status),
			Height: uint32(row.BlockHeight),
			Time:   row.BlockTime,
		},
	}, nil
}

func (t *storeTx) FetchWitness(ctx context.Context,
	txid chainhash.Hash) (*stock.Witness, error) {

	row, err := t.q.FetchWitness(ctx, txid[:])
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, stock.ErrUnknownWitness

	case err != nil:
		return nil, err
	}

	return unmarshalWitness(row)
}

func (t *storeTx) FetchWitnesses(ctx context.Context) ([]*stock.Witness,
	error) {

	rows, err := t.q.FetchWitnesses(ctx)
	if err != nil {
		return nil, err
	}

	return fn.MapErr(rows, unmarshalWitness)
}

func (t *storeTx) UpsertWitness(ctx context.Context, w *stock.Witness) error {
	raw, err := encodeTo(func(b *bytes.Buffer) error {
		return w.Tx.Serialize(b)
	})
	if err != nil {
		return err
	}

	txid := w.Tx.TxHash()
	return t.q.UpsertWitness(ctx, WitnessRow{
		Txid:        txid[:],
		RawTx:       raw,
		Status:      int64(w.Ord.Status),
		BlockHeight: int64(w.Ord.Height),
		BlockTime:   w.Ord.Time,
	})
}

func marshalAllocation(a *stock.Allocation) (AllocationRow, error) {
	row := AllocationRow{
		Opout:        a.Opout.Bytes(),
		ContractID:   a.ContractID[:],
		AuthToken:    a.Token[:],
		StateKind:    int64(a.State.Kind),
		Amount:       int64(a.State.Amount),
		WitnessTxid:  hashBytes(a.Witness),
		SpentWitness: hashBytes(a.SpentWitness),
	}
	if a.SpentBy != nil {
		row.SpentBy = a.SpentBy[:]
	}

	if a.Seal != nil {
		var err error
		row.Seal, err = encodeTo(func(w *bytes.Buffer) error {
			return a.Seal.Encode(w)
		})
		if err != nil {
			return row, err
		}

		row.Outpoint, err = outpointBytes(a.Outpoint)
		if err != nil {
			return row, err
		}
	}

	return row, nil
}

func unmarshalAllocation(row AllocationRow) (*stock.Allocation, error) {
	opout, err := contract.OpoutFromBytes(row.Opout)
	if err != nil {
		return nil, err
	}

	a := &stock.Allocation{
		Opout: opout,
		State: contract.State{
			Kind:   contract.StateKind(row.StateKind),
			Amount: uint64(row.Amount),
		},
		ContractID: fn.ToArray[contract.ContractID](row.ContractID),
		Token:      fn.ToArray[seal.AuthToken](row.AuthToken),
	}

	if row.Seal != nil {
		var s seal.Seal
		if err := s.Decode(bytes.NewReader(row.Seal)); err != nil {
			return nil, fmt.Errorf("unable to decode seal: %w", err)
		}
		a.Seal = &s

		var buf [8]byte
		err := seal.OutPointDecoder(
			bytes.NewReader(row.Outpoint), &a.Outpoint, &buf,
			uint64(len(row.Outpoint)),
		)
		if err != nil {
			return nil, err
		}
	}

	if a.Witness, err = hashFromBytes(row.WitnessTxid); err != nil {
		return nil, err
	}
	a.SpentWitness, err = hashFromBytes(row.SpentWitness)
	if err != nil {
		return nil, err
	}
	if row.SpentBy != nil {
		a.SpentBy = fn.Ptr(fn.ToArray[contract.OpID](row.SpentBy))
	}

	return a, nil
}

func (t *storeTx) FetchAllocation(ctx context.Context,
	opout contract.Opout) (*stock.Allocation, error) {

	row, err := t.q.FetchAllocation(ctx, opout.Bytes())
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, stock.ErrUnknownAllocation

	case err != nil:
		return nil, err
	}

	return unmarshalAllocation(row)
}

func (t *storeTx) FetchAllocations(ctx context.Context,
	filter stock.AllocationFilter) ([]*stock.Allocation, error) {

	var contractID []byte
	if filter.ContractID != nil {
		contractID = filter.ContractID[:]
	}

	var rows []AllocationRow
	if filter.Outpoints == nil {
		var err error
		rows, err = t.q.FetchAllocationsByContract(ctx, contractID)
		if err != nil {
			return nil, err
		}
	}

	seen := make(map[wire.OutPoint]struct{}, len(filter.Outpoints))
	for _, op := range filter.Outpoints {
		if _, ok := seen[op]; ok {
			continue
		}
		seen[op] = struct{}{}

		key, err := outpointBytes(op)
		if err != nil {
			return nil, err
		}
		found, err := t.q.FetchAllocationsAtOutpoint(
			ctx, key, contractID,
		)
		if err != nil {
			return nil, err
		}
		rows = append(rows, found...)
	}

	return fn.MapErr(rows, unmarshalAllocation)
}

func (t *storeTx) UpsertAllocation(ctx context.Context,
	a *stock.Allocation) error {

	row, err := marshalAllocation(a)
	if err != nil {
		return err
	}
	return t.q.UpsertAllocation(ctx, row)
}

var _ stock.StoreTx = (*storeTx)(nil)
