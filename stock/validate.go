package stock

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/rgb/contract"
	"github.com/lightninglabs/rgb/fn"
	"github.com/lightninglabs/rgb/seal"
)

var (
	// ErrInvalidConsignment is returned for a structurally invalid
	// consignment.
	ErrInvalidConsignment = errors.New("stock: invalid consignment")

	// ErrUnknownInput is returned when a transition spends an assignment
	// not defined earlier in the history.
	ErrUnknownInput = errors.New("stock: transition spends unknown " +
		"assignment")

	// ErrNonConservation is returned when a transition creates or
	// destroys fungible state.
	ErrNonConservation = errors.New("stock: fungible state not conserved")

	// ErrMissingWitness is returned when a consignment lacks the witness
	// of one of its anchors.
	ErrMissingWitness = errors.New("stock: missing witness transaction")

	// ErrSealNotClosed is returned when a witness doesn't spend the
	// outpoint of a seal its transitions close.
	ErrSealNotClosed = errors.New("stock: witness doesn't close the seal")
)

// Validate checks the consignment structurally: operation ids match their
// content, inputs exist earlier in the history and are spent once, every
// transition conserves the fungible state, witnesses close the revealed
// seals they spend and every anchor proves the commitment to its bundle.
func Validate(ctx context.Context, c *contract.Consignment) error {
	if c.Genesis == nil {
		return fmt.Errorf("%w: missing genesis", ErrInvalidConsignment)
	}

	id := c.ContractID()
	genesisOp := contract.OpID(id)

	states := make(map[contract.Opout]contract.State)
	outpoints := make(map[contract.Opout]wire.OutPoint)
	tokens := make(map[seal.AuthToken]struct{})

	define := func(op contract.OpID, assignments []contract.Assignment,
		witness chainhash.Hash) {

		for no, a := range assignments {
			opout := contract.Opout{Op: op, Type: a.Type, No: uint16(no)}
			states[opout] = a.State
			tokens[a.Seal.Token()] = struct{}{}
			if a.Seal.IsRevealed() {
				outpoints[opout] = a.Seal.Revealed.Outpoint(witness)
			}
		}
	}
	define(genesisOp, c.Genesis.Assignments, chainhash.Hash{})

	spent := make(map[contract.Opout]contract.OpID)
	for i := range c.Bundles {
		ab := &c.Bundles[i]
		bundle := ab.Bundle
		if bundle == nil || ab.Anchor == nil {
			return fmt.Errorf("%w: bundle %d is empty",
				ErrInvalidConsignment, i)
		}
		if bundle.ContractID != id {
			return fmt.Errorf("%w: bundle %d is for contract %v",
				ErrInvalidConsignment, i, bundle.ContractID)
		}
		if !bundle.IsComplete() {
			return fmt.Errorf("%w: bundle %d is incomplete",
				ErrInvalidConsignment, i)
		}

		witness, ok := c.Witness(ab.Anchor.WitnessTxid)
		if !ok {
			return fmt.Errorf("%w: %v", ErrMissingWitness,
				ab.Anchor.WitnessTxid)
		}

		for opID, t := range bundle.Known {
			if t.OpID() != opID {
				return fmt.Errorf("%w: transition %v stored "+
					"under operation id %v",
					ErrInvalidConsignment, t.OpID(), opID)
			}
		}

		for _, t := range bundle.Transitions() {
			opID := t.OpID()
			if t.ContractID != id {
				return fmt.Errorf("%w: transition %v of "+
					"contract %v", ErrInvalidConsignment,
					opID, t.ContractID)
			}

			var inputSum uint64
			for _, in := range t.Inputs {
				state, ok := states[in]
				if !ok {
					return fmt.Errorf("%w: %v spent by %v",
						ErrUnknownInput, in, opID)
				}
				if prev, ok := spent[in]; ok && prev != opID {
					return fmt.Errorf("%w: %v spent by %v "+
						"and %v", ErrSealClosed, in, prev,
						opID)
				}
				spent[in] = opID

				op, ok := outpoints[in]
				if ok && !witnessSpends(witness, op) {
					return fmt.Errorf("%w: %v at %v",
						ErrSealNotClosed, in, op)
				}

				if in.Type != contract.AssignmentAsset ||
					!state.IsFungible() {

					continue
				}
				if inputSum > math.MaxUint64-state.Amount {
					return contract.ErrAmountOverflow
				}
				inputSum += state.Amount
			}

			outputSum, err := contract.SumFungible(
				t.Assignments, contract.AssignmentAsset,
			)
			if err != nil {
				return err
			}
			if inputSum != outputSum {
				return fmt.Errorf("%w: %v spends %d and assigns "+
					"%d", ErrNonConservation, opID,
					inputSum, outputSum)
			}

			define(opID, t.Assignments, ab.Anchor.WitnessTxid)
		}
	}

	for _, t := range c.Terminals {
		if _, ok := tokens[t]; !ok {
			return fmt.Errorf("%w: %v", ErrUnknownTerminal, t)
		}
	}

	err := fn.ParSlice(ctx, c.Bundles,
		func(_ context.Context, ab contract.AnchoredBundle) error {
			witness, _ := c.Witness(ab.Anchor.WitnessTxid)
			err := ab.Anchor.Verify(
				id, ab.Bundle.BundleID(), witness,
			)
			if err != nil {
				return fmt.Errorf("%w: bundle %v: %v",
					ErrInvalidAnchor, ab.Bundle.BundleID(),
					err)
			}
			return nil
		},
	)
	if err != nil {
		return err
	}

	log.Debugf("Validated consignment of contract %v: %d bundle(s), %d "+
		"terminal(s)", id, len(c.Bundles), len(c.Terminals))

	return nil
}
