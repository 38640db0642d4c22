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
	// ErrUnknownTerminal is returned when a terminal seal is not assigned
	// any state in the history of the contract.
	ErrUnknownTerminal = errors.New("stock: terminal seal not found in " +
		"contract history")

	// ErrIncompleteHistory is returned when an operation spends an
	// assignment whose defining operation isn't known.
	ErrIncompleteHistory = errors.New("stock: incomplete contract history")
)

// concealExcept conceals all seals whose token isn't in reveal.
func concealExcept(assignments []contract.Assignment,
	reveal map[seal.AuthToken]struct{}) []contract.Assignment {

	out := make([]contract.Assignment, len(assignments))
	for i, a := range assignments {
		out[i] = a
		if _, ok := reveal[a.Seal.Token()]; !ok {
			out[i] = a.Conceal()
		}
	}
	return out
}

func hasTerminal(assignments []contract.Assignment,
	terminals map[seal.AuthToken]struct{}, found map[seal.AuthToken]bool) bool {

	matched := false
	for _, a := range assignments {
		if _, ok := terminals[a.Seal.Token()]; ok {
			found[a.Seal.Token()] = true
			matched = true
		}
	}
	return matched
}

func consign(ctx context.Context, tx StoreTx, id contract.ContractID,
	terminals []seal.AuthToken) (*contract.Consignment, error) {

	genesis, err := tx.FetchContract(ctx, id)
	if err != nil {
		return nil, err
	}

	all, err := tx.FetchAnchoredBundles(ctx, id)
	if err != nil {
		return nil, err
	}

	// Bundles of archived witnesses are no longer part of the history.
	bundles := make([]*contract.AnchoredBundle, 0, len(all))
	for _, ab := range all {
		txid := ab.Anchor.WitnessTxid
		archived, err := isArchived(ctx, tx, &txid)
		if err != nil {
			return nil, err
		}
		if !archived {
			bundles = append(bundles, ab)
		}
	}

	byOp := make(map[contract.OpID]int)
	for idx, ab := range bundles {
		for opID := range ab.Bundle.Known {
			byOp[opID] = idx
		}
	}

	termSet := make(map[seal.AuthToken]struct{}, len(terminals))
	for _, t := range terminals {
		termSet[t] = struct{}{}
	}

	included := make(map[int]bool)
	if len(terminals) == 0 {
		for idx := range bundles {
			included[idx] = true
		}
	} else {
		found := make(map[seal.AuthToken]bool)
		hasTerminal(genesis.Assignments, termSet, found)

		var queue []contract.OpID
		for _, ab := range bundles {
			for opID, t := range ab.Bundle.Known {
				if hasTerminal(t.Assignments, termSet, found) {
					queue = append(queue, opID)
				}
			}
		}

		for _, t := range terminals {
			if !found[t] {
				return nil, fmt.Errorf("%w: %v",
					ErrUnknownTerminal, t)
			}
		}

		genesisOp := contract.OpID(id)
		for len(queue) > 0 {
			opID := queue[0]
			queue = queue[1:]

			idx, ok := byOp[opID]
			if !ok {
				return nil, fmt.Errorf("%w: operation %v",
					ErrIncompleteHistory, opID)
			}
			if included[idx] {
				continue
			}
			included[idx] = true

			for _, t := range bundles[idx].Bundle.Known {
				for _, in := range t.Inputs {
					if in.Op != genesisOp {
						queue = append(queue, in.Op)
					}
				}
			}
		}
	}

	consignment := &contract.Consignment{
		Version:   contract.ConsignmentV0,
		Genesis:   genesis,
		Terminals: terminals,
	}
	if len(terminals) > 0 {
		g := *genesis
		g.Assignments = concealExcept(genesis.Assignments, termSet)
		consignment.Genesis = &g
	}

	seen := make(map[chainhash.Hash]bool)
	for idx, ab := range bundles {
		if !included[idx] {
			continue
		}

		bundle := contract.NewBundle(id)
		for vin, opID := range ab.Bundle.InputMap {
			bundle.InputMap[vin] = opID
		}
		for opID, t := range ab.Bundle.Known {
			if len(terminals) > 0 {
				c := t.Copy()
				c.Assignments = concealExcept(t.Assignments, termSet)
				t = c
			}
			bundle.Known[opID] = t
		}

		consignment.Bundles = append(
			consignment.Bundles, contract.AnchoredBundle{
				Anchor: ab.Anchor,
				Bundle: bundle,
			},
		)

		txid := ab.Anchor.WitnessTxid
		if seen[txid] {
			continue
		}
		seen[txid] = true

		w, err := tx.FetchWitness(ctx, txid)
		if err != nil {
			return nil, err
		}
		consignment.Witnesses = append(consignment.Witnesses, w.Tx)
	}

	return consignment, nil
}

// witnessSpends returns true if the transaction spends the outpoint.
func witnessSpends(tx *wire.MsgTx, op wire.OutPoint) bool {
	for _, in := range tx.TxIn {
		if in.PreviousOutPoint == op {
			return true
		}
	}
	return false
}
