package rgbdb

import (
	"context"
	"database/sql"
)

// DBTX is the subset of *sql.DB and *sql.Tx the queries run on.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result,
		error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows,
		error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

// Queries runs the contract store queries on a database or transaction.
type Queries struct {
	db DBTX
}

// NewQueries returns the queries running on db.
func NewQueries(db DBTX) *Queries {
	return &Queries{db: db}
}

const upsertContract = `
INSERT INTO contracts (contract_id, genesis)
VALUES ($1, $2)
ON CONFLICT (contract_id)
    DO UPDATE SET genesis = EXCLUDED.genesis
`

// UpsertContract inserts or replaces a genesis.
func (q *Queries) UpsertContract(ctx context.Context, contractID,
	genesis []byte) error {

	_, err := q.db.ExecContext(ctx, upsertContract, contractID, genesis)
	return err
}

const fetchContract = `
SELECT genesis
FROM contracts
WHERE contract_id = $1
`

// FetchContract returns the serialized genesis of a contract.
func (q *Queries) FetchContract(ctx context.Context,
	contractID []byte) ([]byte, error) {

	row := q.db.QueryRowContext(ctx, fetchContract, contractID)
	var genesis []byte
	err := row.Scan(&genesis)
	return genesis, err
}

const fetchContractIDs = `
SELECT contract_id
FROM contracts
ORDER BY contract_id
`

// FetchContractIDs returns the ids of all contracts.
func (q *Queries) FetchContractIDs(ctx context.Context) ([][]byte, error) {
	rows, err := q.db.QueryContext(ctx, fetchContractIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items [][]byte
	for rows.Next() {
		var contractID []byte
		if err := rows.Scan(&contractID); err != nil {
			return nil, err
		}
		items = append(items, contractID)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const upsertTransition = `
INSERT INTO transitions (op_id, contract_id, transition)
VALUES ($1, $2, $3)
ON CONFLICT (op_id)
    DO UPDATE SET transition = EXCLUDED.transition
`

// UpsertTransitionParams are the columns of a transition.
type UpsertTransitionParams struct {
	OpID       []byte
	ContractID []byte
	Transition []byte
}

// UpsertTransition inserts or replaces a transition.
func (q *Queries) UpsertTransition(ctx context.Context,
	arg UpsertTransitionParams) error {

	_, err := q.db.ExecContext(
		ctx, upsertTransition, arg.OpID, arg.ContractID, arg.Transition,
	)
	return err
}

const fetchTransition = `
SELECT transition
FROM transitions
WHERE op_id = $1
`

// FetchTransition returns a serialized transition.
func (q *Queries) FetchTransition(ctx context.Context,
	opID []byte) ([]byte, error) {

	row := q.db.QueryRowContext(ctx, fetchTransition, opID)
	var transition []byte
	err := row.Scan(&transition)
	return transition, err
}

const upsertAnchoredBundle = `
INSERT INTO anchored_bundles (contract_id, witness_txid, anchored_bundle)
VALUES ($1, $2, $3)
ON CONFLICT (contract_id, witness_txid)
    DO UPDATE SET anchored_bundle = EXCLUDED.anchored_bundle
`

// UpsertAnchoredBundleParams are the columns of an anchored bundle.
type UpsertAnchoredBundleParams struct {
	ContractID     []byte
	WitnessTxid    []byte
	AnchoredBundle []byte
}

// UpsertAnchoredBundle inserts an anchored bundle or replaces it in place.
func (q *Queries) UpsertAnchoredBundle(ctx context.Context,
	arg UpsertAnchoredBundleParams) error {

	_, err := q.db.ExecContext(
		ctx, upsertAnchoredBundle, arg.ContractID, arg.WitnessTxid,
		arg.AnchoredBundle,
	)
	return err
}

const fetchAnchoredBundles = `
SELECT anchored_bundle
FROM anchored_bundles
WHERE contract_id = $1
ORDER BY bundle_seq
`

// FetchAnchoredBundles returns the serialized bundles of a contract in
// insertion order.
func (q *Queries) FetchAnchoredBundles(ctx context.Context,
	contractID []byte) ([][]byte, error) {

	rows, err := q.db.QueryContext(ctx, fetchAnchoredBundles, contractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items [][]byte
	for rows.Next() {
		var bundle []byte
		if err := rows.Scan(&bundle); err != nil {
			return nil, err
		}
		items = append(items, bundle)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// WitnessRow is a stored witness transaction.
type WitnessRow struct {
	Txid        []byte
	RawTx       []byte
	Status      int64
	BlockHeight int64
	BlockTime   int64
}

const upsertWitness = `
INSERT INTO witnesses (txid, raw_tx, status, block_height, block_time)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (txid)
    DO UPDATE SET status = EXCLUDED.status,
        block_height = EXCLUDED.block_height,
        block_time = EXCLUDED.block_time
`

// UpsertWitness inserts a witness or updates its chain position.
func (q *Queries) UpsertWitness(ctx context.Context, arg WitnessRow) error {
	_, err := q.db.ExecContext(
		ctx, upsertWitness, arg.Txid, arg.RawTx, arg.Status,
		arg.BlockHeight, arg.BlockTime,
	)
	return err
}

const fetchWitness = `
SELECT txid, raw_tx, status, block_height, block_time
FROM witnesses
WHERE txid = $1
`

// FetchWitness returns a witness.
func (q *Queries) FetchWitness(ctx context.Context,
	txid []byte) (WitnessRow, error) {

	row := q.db.QueryRowContext(ctx, fetchWitness, txid)
	var i WitnessRow
	err := row.Scan(
		&i.Txid, &i.RawTx, &i.Status, &i.BlockHeight, &i.BlockTime,
	)
	return i, err
}

const fetchWitnesses = `
SELECT txid, raw_tx, status, block_height, block_time
FROM witnesses
ORDER BY txid
`

// FetchWitnesses returns all witnesses.
func (q *Queries) FetchWitnesses(ctx context.Context) ([]WitnessRow, error) {
	rows, err := q.db.QueryContext(ctx, fetchWitnesses)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []WitnessRow
	for rows.Next() {
		var i WitnessRow
		err := rows.Scan(
			&i.Txid, &i.RawTx, &i.Status, &i.BlockHeight,
			&i.BlockTime,
		)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// AllocationRow is a stored allocation. Nullable columns are nil when unset.
type AllocationRow struct {
	Opout        []byte
	ContractID   []byte
	Seal         []byte
	AuthToken    []byte
	Outpoint     []byte
	StateKind    int64
	Amount       int64
	WitnessTxid  []byte
	SpentBy      []byte
	SpentWitness []byte
}

// nullable maps an empty blob to NULL.
func nullable(b []byte) interface{} {
	if b == nil {
		return nil
	}
	return b
}

const upsertAllocation = `
INSERT INTO allocations (
    opout, contract_id, seal, auth_token, outpoint, state_kind, amount,
    witness_txid, spent_by, spent_witness
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (opout)
    DO UPDATE SET seal = EXCLUDED.seal,
        outpoint = EXCLUDED.outpoint,
        spent_by = EXCLUDED.spent_by,
        spent_witness = EXCLUDED.spent_witness
`

// UpsertAllocation inserts an allocation or updates its seal and spending
// operation.
func (q *Queries) UpsertAllocation(ctx context.Context,
	arg AllocationRow) error {

	_, err := q.db.ExecContext(
		ctx, upsertAllocation, arg.Opout, arg.ContractID,
		nullable(arg.Seal), arg.AuthToken, nullable(arg.Outpoint),
		arg.StateKind, arg.Amount, nullable(arg.WitnessTxid),
		nullable(arg.SpentBy), nullable(arg.SpentWitness),
	)
	return err
}

const allocationColumns = `opout, contract_id, seal, auth_token, outpoint,
    state_kind, amount, witness_txid, spent_by, spent_witness`

const fetchAllocation = `
SELECT ` + allocationColumns + `
FROM allocations
WHERE opout = $1
`

const fetchAllocationsByContract = `
SELECT ` + allocationColumns + `
FROM allocations
WHERE (contract_id = $1 OR $1 IS NULL)
ORDER BY opout
`

const fetchAllocationsAtOutpoint = `
SELECT ` + allocationColumns + `
FROM allocations
WHERE outpoint = $1
    AND (contract_id = $2 OR $2 IS NULL)
ORDER BY opout
`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAllocation(row scanner) (AllocationRow, error) {
	var i AllocationRow
	err := row.Scan(
		&i.Opout, &i.ContractID, &i.Seal, &i.AuthToken, &i.Outpoint,
		&i.StateKind, &i.Amount, &i.WitnessTxid, &i.SpentBy,
		&i.SpentWitness,
	)
	return i, err
}

// FetchAllocation returns the allocation at the opout.
func (q *Queries) FetchAllocation(ctx context.Context,
	opout []byte) (AllocationRow, error) {

	return scanAllocation(q.db.QueryRowContext(ctx, fetchAllocation, opout))
}

func (q *Queries) queryAllocations(ctx context.Context, query string,
	args ...interface{}) ([]AllocationRow, error) {

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []AllocationRow
	for rows.Next() {
		i, err := scanAllocation(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// FetchAllocationsByContract returns the allocations of a contract, or of
// all contracts if contractID is nil.
func (q *Queries) FetchAllocationsByContract(ctx context.Context,
	contractID []byte) ([]AllocationRow, error) {

	return q.queryAllocations(
		ctx, fetchAllocationsByContract, nullable(contractID),
	)
}

// FetchAllocationsAtOutpoint returns the allocations with a seal at the
// outpoint, restricted to a contract unless contractID is nil.
func (q *Queries) FetchAllocationsAtOutpoint(ctx context.Context, outpoint,
	contractID []byte) ([]AllocationRow, error) {

	return q.queryAllocations(
		ctx, fetchAllocationsAtOutpoint, outpoint, nullable(contractID),
	)
}
