package stock

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/rgb/contract"
	"github.com/lightninglabs/rgb/seal"
)

var (
	// ErrUnknownContract is returned when a contract isn't in the store.
	ErrUnknownContract = errors.New("stock: unknown contract")

	// ErrUnknownOperation is returned when a transition isn't in the
	// store.
	ErrUnknownOperation = errors.New("stock: unknown operation")

	// ErrUnknownAllocation is returned when an assignment isn't in the
	// store.
	ErrUnknownAllocation = errors.New("stock: unknown allocation")

	// ErrUnknownWitness is returned when a witness transaction isn't in
	// the store.
	ErrUnknownWitness = errors.New("stock: unknown witness")

	// ErrSealClosed is returned when an assignment is already spent by a
	// different operation.
	ErrSealClosed = errors.New("stock: seal already closed by another " +
		"operation")

	// ErrMissingBundle is returned when an anchor commits to a contract
	// without a matching bundle, or the other way around.
	ErrMissingBundle = errors.New("stock: anchor and bundles don't match")

	// ErrInvalidAnchor is returned when an anchor doesn't prove the
	// commitment of the witness to a bundle.
	ErrInvalidAnchor = errors.New("stock: invalid anchor")

	// ErrReadOnly is returned when writing in a read only transaction.
	ErrReadOnly = errors.New("stock: write in read only transaction")
)

// WitnessStatus is the mining status of a witness transaction.
type WitnessStatus uint8

const (
	// WitnessTentative is a witness known but not yet mined, or only
	// known off-chain.
	WitnessTentative WitnessStatus = 0

	// WitnessMined is a witness mined at a known height.
	WitnessMined WitnessStatus = 1

	// WitnessArchived is a witness that was replaced or reorganized out
	// of the chain. State defined by it is dropped.
	WitnessArchived WitnessStatus = 2

	// WitnessGenesis marks state defined by the contract genesis.
	WitnessGenesis WitnessStatus = 3
)

// String returns the name of the status.
func (s WitnessStatus) String() string {
	switch s {
	case WitnessTentative:
		return "tentative"
	case WitnessMined:
		return "mined"
	case WitnessArchived:
		return "archived"
	case WitnessGenesis:
		return "genesis"
	default:
		return fmt.Sprintf("<unknown status %d>", uint8(s))
	}
}

// WitnessOrd positions a witness transaction in the chain.
type WitnessOrd struct {
	// Status is the mining status.
	Status WitnessStatus

	// Height is the block height for mined witnesses.
	Height uint32

	// Time is the block unix timestamp for mined witnesses.
	Time int64
}

// String returns a human readable form of the position.
func (o WitnessOrd) String() string {
	if o.Status == WitnessMined {
		return fmt.Sprintf("mined@%d", o.Height)
	}
	return o.Status.String()
}

// Witness is a witness transaction with its position in the chain.
type Witness struct {
	Tx  *wire.MsgTx
	Ord WitnessOrd
}

// Allocation is an assignment of contract state to a seal.
type Allocation struct {
	// ContractID is the contract of the assignment.
	ContractID contract.ContractID

	// Opout points to the assignment.
	Opout contract.Opout

	// Seal is the seal as declared by the operation, nil if it was only
	// seen concealed.
	Seal *seal.Seal

	// Token is the auth token of the seal.
	Token seal.AuthToken

	// Outpoint is the resolved outpoint of a revealed seal.
	Outpoint wire.OutPoint

	// State is the assigned state.
	State contract.State

	// Witness is the transaction defining the assignment, nil for genesis
	// assignments.
	Witness *chainhash.Hash

	// SpentBy is the operation closing the seal, if any.
	SpentBy *contract.OpID

	// SpentWitness is the witness of SpentBy.
	SpentWitness *chainhash.Hash
}

// Copy returns a deep copy of the allocation.
func (a *Allocation) Copy() *Allocation {
	c := *a
	if a.Seal != nil {
		s := *a.Seal
		c.Seal = &s
	}
	if a.Witness != nil {
		w := *a.Witness
		c.Witness = &w
	}
	if a.SpentBy != nil {
		op := *a.SpentBy
		c.SpentBy = &op
	}
	if a.SpentWitness != nil {
		w := *a.SpentWitness
		c.SpentWitness = &w
	}
	return &c
}

// AllocationFilter restricts the allocations returned by a store.
type AllocationFilter struct {
	// ContractID restricts to a single contract if set.
	ContractID *contract.ContractID

	// Outpoints restricts to allocations with a revealed seal at one of
	// the outpoints if set.
	Outpoints []wire.OutPoint
}

// StoreTx is the set of queries a contract store backend runs in a single
// transaction. Returned genesis, transition and bundle values must not be
// mutated by callers.
type StoreTx interface {
	// FetchContract returns the genesis of the contract.
	FetchContract(ctx context.Context,
		id contract.ContractID) (*contract.Genesis, error)

	// FetchContractIDs returns the ids of all stored contracts.
	FetchContractIDs(ctx context.Context) ([]contract.ContractID, error)

	// UpsertContract stores the genesis, replacing a previous version.
	UpsertContract(ctx context.Context, g *contract.Genesis) error

	// FetchTransition returns the transition with the operation id.
	FetchTransition(ctx context.Context,
		op contract.OpID) (*contract.Transition, error)

	// UpsertTransition stores the transition, replacing a previous
	// version.
	UpsertTransition(ctx context.Context, t *contract.Transition) error

	// UpsertAnchoredBundle stores the bundle of a contract for its
	// witness. Replacing a bundle keeps its original position.
	UpsertAnchoredBundle(ctx context.Context,
		ab *contract.AnchoredBundle) error

	// FetchAnchoredBundles returns the bundles of the contract in the
	// order they were first stored.
	FetchAnchoredBundles(ctx context.Context,
		id contract.ContractID) ([]*contract.AnchoredBundle, error)

	// FetchWitness returns a witness transaction.
	FetchWitness(ctx context.Context, txid chainhash.Hash) (*Witness,
		error)

	// FetchWitnesses returns all witness transactions.
	FetchWitnesses(ctx context.Context) ([]*Witness, error)

	// UpsertWitness stores a witness transaction.
	UpsertWitness(ctx context.Context, w *Witness) error

	// FetchAllocation returns the allocation at the opout.
	FetchAllocation(ctx context.Context,
		opout contract.Opout) (*Allocation, error)

	// FetchAllocations returns the allocations matching the filter.
	FetchAllocations(ctx context.Context,
		filter AllocationFilter) ([]*Allocation, error)

	// UpsertAllocation stores the allocation.
	UpsertAllocation(ctx context.Context, a *Allocation) error
}

// Backend runs store transactions atomically.
type Backend interface {
	// ExecTx runs txBody in a single transaction. Any error returned by
	// txBody rolls back all of its writes.
	ExecTx(ctx context.Context, readOnly bool,
		txBody func(StoreTx) error) error

	// Close flushes and releases the backend.
	Close() error
}

// WitnessResolver looks up the position of witness transactions in the
// chain.
type WitnessResolver interface {
	// WitnessStatus returns the position of the transaction.
	WitnessStatus(ctx context.Context, txid chainhash.Hash) (WitnessOrd,
		error)
}
