package stock

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/rgb/contract"
	"github.com/lightninglabs/rgb/seal"
	"golang.org/x/exp/maps"
)

// Stock keeps the contracts, their history and the state allocated to
// seals. It is the only component appending anchors and bundles.
type Stock struct {
	backend Backend
}

// New returns a stock over the backend.
func New(backend Backend) *Stock {
	return &Stock{
		backend: backend,
	}
}

// Close closes the backend, flushing any unsaved state.
func (s *Stock) Close() error {
	return s.backend.Close()
}

// ImportContract adds the contract genesis. Importing a known contract
// merges the revealed seals of both versions.
func (s *Stock) ImportContract(ctx context.Context,
	g *contract.Genesis) (contract.ContractID, error) {

	id := g.ContractID()
	err := s.backend.ExecTx(ctx, false, func(tx StoreTx) error {
		return importGenesis(ctx, tx, g)
	})
	if err != nil {
		return id, fmt.Errorf("unable to import contract %v: %w", id,
			err)
	}

	log.Infof("Imported contract %v (%v)", id, g.Ticker)

	return id, nil
}

// Contract returns the genesis of the contract.
func (s *Stock) Contract(ctx context.Context,
	id contract.ContractID) (*contract.Genesis, error) {

	var g *contract.Genesis
	err := s.backend.ExecTx(ctx, true, func(tx StoreTx) error {
		var err error
		g, err = tx.FetchContract(ctx, id)
		return err
	})
	return g, err
}

// Contracts returns the ids of all known contracts.
func (s *Stock) Contracts(ctx context.Context) ([]contract.ContractID,
	error) {

	var ids []contract.ContractID
	err := s.backend.ExecTx(ctx, true, func(tx StoreTx) error {
		var err error
		ids, err = tx.FetchContractIDs(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	sortIDs(ids)
	return ids, nil
}

// Consume registers the bundles committed to by the witness anchor. Every
// anchor is verified against the witness before the store is touched.
func (s *Stock) Consume(ctx context.Context, wa *contract.WitnessAnchor,
	bundles map[contract.ContractID]*contract.Bundle,
	witness *wire.MsgTx) error {

	if txid := witness.TxHash(); txid != wa.Txid {
		return fmt.Errorf("%w: anchor for witness %v, got %v",
			ErrInvalidAnchor, wa.Txid, txid)
	}

	ids := wa.Contracts()
	if len(ids) != len(bundles) {
		return fmt.Errorf("%w: %d anchored contracts, %d bundles",
			ErrMissingBundle, len(ids), len(bundles))
	}
	sortIDs(ids)

	anchored := make([]*contract.AnchoredBundle, 0, len(ids))
	for _, id := range ids {
		bundle, ok := bundles[id]
		if !ok {
			return fmt.Errorf("%w: no bundle for %v",
				ErrMissingBundle, id)
		}

		anchor, err := wa.Anchor(id)
		if err != nil {
			return err
		}
		err = anchor.Verify(id, bundle.BundleID(), witness)
		if err != nil {
			return fmt.Errorf("%w: contract %v: %v",
				ErrInvalidAnchor, id, err)
		}

		anchored = append(anchored, &contract.AnchoredBundle{
			Anchor: anchor,
			Bundle: bundle,
		})
	}

	err := s.backend.ExecTx(ctx, false, func(tx StoreTx) error {
		for _, ab := range anchored {
			if err := consumeBundle(ctx, tx, ab, witness); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Infof("Consumed %d bundle(s) anchored in %v", len(anchored),
		wa.Txid)

	return nil
}

// Allocations returns the unspent allocations of the contract at the given
// outpoints. State defined or spent by archived witnesses is ignored.
func (s *Stock) Allocations(ctx context.Context, id contract.ContractID,
	outpoints []wire.OutPoint) ([]*Allocation, error) {

	var allocations []*Allocation
	err := s.backend.ExecTx(ctx, true, func(tx StoreTx) error {
		if _, err := tx.FetchContract(ctx, id); err != nil {
			return err
		}
		if len(outpoints) == 0 {
			return nil
		}

		var err error
		allocations, err = liveAllocations(ctx, tx, AllocationFilter{
			ContractID: &id,
			Outpoints:  outpoints,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	return allocations, nil
}

// ContractsAt returns the contracts with unspent state at any of the
// outpoints.
func (s *Stock) ContractsAt(ctx context.Context,
	outpoints []wire.OutPoint) ([]contract.ContractID, error) {

	if len(outpoints) == 0 {
		return nil, nil
	}

	var allocations []*Allocation
	err := s.backend.ExecTx(ctx, true, func(tx StoreTx) error {
		var err error
		allocations, err = liveAllocations(ctx, tx, AllocationFilter{
			Outpoints: outpoints,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	set := make(map[contract.ContractID]struct{})
	for _, a := range allocations {
		set[a.ContractID] = struct{}{}
	}

	ids := maps.Keys(set)
	sortIDs(ids)
	return ids, nil
}

// Consign exports the history of the contract needed to validate the state
// assigned to the terminal seals. Seals other than the terminals are
// concealed. Without terminals the full history is exported unconcealed.
func (s *Stock) Consign(ctx context.Context, id contract.ContractID,
	terminals []seal.AuthToken) (*contract.Consignment, error) {

	var consignment *contract.Consignment
	err := s.backend.ExecTx(ctx, true, func(tx StoreTx) error {
		var err error
		consignment, err = consign(ctx, tx, id, terminals)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("unable to consign contract %v: %w", id,
			err)
	}

	log.Debugf("Consigned %d bundle(s) of contract %v for %d terminal(s)",
		len(consignment.Bundles), id, len(terminals))

	return consignment, nil
}

// AcceptConsignment validates the consignment and imports its history.
func (s *Stock) AcceptConsignment(ctx context.Context,
	c *contract.Consignment) error {

	if err := Validate(ctx, c); err != nil {
		return err
	}

	err := s.backend.ExecTx(ctx, false, func(tx StoreTx) error {
		if err := importGenesis(ctx, tx, c.Genesis); err != nil {
			return err
		}

		for i := range c.Bundles {
			ab := &c.Bundles[i]
			witness, _ := c.Witness(ab.Anchor.WitnessTxid)
			if err := consumeBundle(ctx, tx, ab, witness); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("unable to import consignment: %w", err)
	}

	log.Infof("Accepted consignment of contract %v with %d bundle(s)",
		c.ContractID(), len(c.Bundles))

	return nil
}

// RevealSeals reveals the allocations known only by the auth token of one
// of the seals, making them spendable. It returns the number of allocations
// revealed.
func (s *Stock) RevealSeals(ctx context.Context, seals []seal.Seal) (int,
	error) {

	known := make(map[seal.AuthToken]seal.Seal, len(seals))
	for _, sl := range seals {
		known[sl.AuthToken()] = sl
	}

	var revealed int
	err := s.backend.ExecTx(ctx, false, func(tx StoreTx) error {
		revealed = 0

		allocations, err := tx.FetchAllocations(ctx, AllocationFilter{})
		if err != nil {
			return err
		}
		for _, a := range allocations {
			if a.Seal != nil {
				continue
			}
			sl, ok := known[a.Token]
			if !ok {
				continue
			}

			var txid chainhash.Hash
			if a.Witness != nil {
				txid = *a.Witness
			}
			a.Seal = &sl
			a.Outpoint = sl.Outpoint(txid)
			if err := tx.UpsertAllocation(ctx, a); err != nil {
				return err
			}
			revealed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if revealed > 0 {
		log.Infof("Revealed %d allocation(s)", revealed)
	}

	return revealed, nil
}

// UpdateWitnesses refreshes the chain position of every witness. Resolver
// errors abort the update without changing the store.
func (s *Stock) UpdateWitnesses(ctx context.Context,
	resolver WitnessResolver) error {

	var witnesses []*Witness
	err := s.backend.ExecTx(ctx, true, func(tx StoreTx) error {
		var err error
		witnesses, err = tx.FetchWitnesses(ctx)
		return err
	})
	if err != nil {
		return err
	}

	var updated []*Witness
	for _, w := range witnesses {
		txid := w.Tx.TxHash()
		ord, err := resolver.WitnessStatus(ctx, txid)
		if err != nil {
			return fmt.Errorf("unable to resolve witness %v: %w",
				txid, err)
		}
		if ord == w.Ord {
			continue
		}

		log.Debugf("Witness %v moved from %v to %v", txid, w.Ord, ord)
		updated = append(updated, &Witness{Tx: w.Tx, Ord: ord})
	}

	if len(updated) == 0 {
		return nil
	}

	return s.backend.ExecTx(ctx, false, func(tx StoreTx) error {
		for _, w := range updated {
			if err := tx.UpsertWitness(ctx, w); err != nil {
				return err
			}
		}
		return nil
	})
}

func sortIDs(ids []contract.ContractID) {
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})
}

// mergeGenesis returns a copy of a with the seals revealed in b revealed.
func mergeGenesis(a, b *contract.Genesis) *contract.Genesis {
	merged := *a
	merged.Assignments = make([]contract.Assignment, len(a.Assignments))
	copy(merged.Assignments, a.Assignments)

	for i := range merged.Assignments {
		if i >= len(b.Assignments) {
			break
		}
		if !merged.Assignments[i].Seal.IsRevealed() &&
			b.Assignments[i].Seal.IsRevealed() {

			merged.Assignments[i].Seal = b.Assignments[i].Seal
		}
	}

	return &merged
}

func importGenesis(ctx context.Context, tx StoreTx,
	g *contract.Genesis) error {

	id := g.ContractID()
	merged := g
	existing, err := tx.FetchContract(ctx, id)
	switch {
	case errors.Is(err, ErrUnknownContract):

	case err != nil:
		return err

	default:
		merged = mergeGenesis(existing, g)
	}

	if err := tx.UpsertContract(ctx, merged); err != nil {
		return err
	}

	opID := contract.OpID(id)
	for no, a := range merged.Assignments {
		opout := contract.Opout{Op: opID, Type: a.Type, No: uint16(no)}
		err := registerAssignment(ctx, tx, id, opout, a, nil)
		if err != nil {
			return err
		}
	}

	return nil
}

// registerAssignment records the assignment, revealing the seal of an
// allocation previously seen concealed.
func registerAssignment(ctx context.Context, tx StoreTx,
	id contract.ContractID, opout contract.Opout, a contract.Assignment,
	witness *chainhash.Hash) error {

	alloc, err := tx.FetchAllocation(ctx, opout)
	switch {
	case errors.Is(err, ErrUnknownAllocation):
		alloc = &Allocation{
			ContractID: id,
			Opout:      opout,
			Token:      a.Seal.Token(),
			State:      a.State,
			Witness:    witness,
		}

	case err != nil:
		return err

	case alloc.Seal != nil || !a.Seal.IsRevealed():
		return nil
	}

	if a.Seal.IsRevealed() {
		var txid chainhash.Hash
		if witness != nil {
			txid = *witness
		}

		s := *a.Seal.Revealed
		alloc.Seal = &s
		alloc.Outpoint = s.Outpoint(txid)
	}

	return tx.UpsertAllocation(ctx, alloc)
}

func isArchived(ctx context.Context, tx StoreTx,
	txid *chainhash.Hash) (bool, error) {

	if txid == nil {
		return false, nil
	}

	w, err := tx.FetchWitness(ctx, *txid)
	switch {
	case errors.Is(err, ErrUnknownWitness):
		return false, nil

	case err != nil:
		return false, err
	}

	return w.Ord.Status == WitnessArchived, nil
}

func consumeBundle(ctx context.Context, tx StoreTx,
	ab *contract.AnchoredBundle, witness *wire.MsgTx) error {

	id := ab.Bundle.ContractID
	if _, err := tx.FetchContract(ctx, id); err != nil {
		return fmt.Errorf("%w: %v", err, id)
	}

	txid := witness.TxHash()
	stored := contract.NewBundle(id)
	for _, t := range ab.Bundle.Transitions() {
		opID := t.OpID()
		for _, in := range t.Inputs {
			alloc, err := tx.FetchAllocation(ctx, in)
			if err != nil {
				return fmt.Errorf("input %v of %v: %w", in, opID,
					err)
			}
			if alloc.ContractID != id {
				return fmt.Errorf("%w: input %v of %v belongs to "+
					"contract %v", ErrUnknownAllocation, in,
					opID, alloc.ContractID)
			}

			if alloc.SpentBy != nil && *alloc.SpentBy != opID {
				archived, err := isArchived(
					ctx, tx, alloc.SpentWitness,
				)
				if err != nil {
					return err
				}
				if !archived {
					return fmt.Errorf("%w: %v spent by %v",
						ErrSealClosed, in, alloc.SpentBy)
				}
			}

			op, spentWitness := opID, txid
			alloc.SpentBy = &op
			alloc.SpentWitness = &spentWitness
			if err := tx.UpsertAllocation(ctx, alloc); err != nil {
				return err
			}
		}

		merged := t
		prev, err := tx.FetchTransition(ctx, opID)
		switch {
		case errors.Is(err, ErrUnknownOperation):

		case err != nil:
			return err

		default:
			merged, err = prev.MergeReveal(t)
			if err != nil {
				return err
			}
		}
		if err := tx.UpsertTransition(ctx, merged); err != nil {
			return err
		}

		for no, a := range merged.Assignments {
			opout := contract.Opout{
				Op: opID, Type: a.Type, No: uint16(no),
			}
			witnessID := txid
			err := registerAssignment(
				ctx, tx, id, opout, a, &witnessID,
			)
			if err != nil {
				return err
			}
		}

		stored.Known[opID] = merged
	}
	for vin, opID := range ab.Bundle.InputMap {
		stored.InputMap[vin] = opID
	}

	err := tx.UpsertAnchoredBundle(ctx, &contract.AnchoredBundle{
		Anchor: ab.Anchor,
		Bundle: stored,
	})
	if err != nil {
		return err
	}

	_, err = tx.FetchWitness(ctx, txid)
	switch {
	case errors.Is(err, ErrUnknownWitness):
		return tx.UpsertWitness(ctx, &Witness{
			Tx:  witness,
			Ord: WitnessOrd{Status: WitnessTentative},
		})

	default:
		return err
	}
}

// liveAllocations returns the revealed allocations matching the filter that
// are defined by a non archived witness and not spent by one.
func liveAllocations(ctx context.Context, tx StoreTx,
	filter AllocationFilter) ([]*Allocation, error) {

	allocations, err := tx.FetchAllocations(ctx, filter)
	if err != nil {
		return nil, err
	}

	live := make([]*Allocation, 0, len(allocations))
	for _, a := range allocations {
		if a.Seal == nil {
			continue
		}

		archived, err := isArchived(ctx, tx, a.Witness)
		if err != nil {
			return nil, err
		}
		if archived {
			continue
		}

		if a.SpentBy != nil {
			archived, err := isArchived(ctx, tx, a.SpentWitness)
			if err != nil {
				return nil, err
			}
			if !archived {
				continue
			}
		}

		live = append(live, a)
	}

	sort.Slice(live, func(i, j int) bool {
		return bytes.Compare(
			live[i].Opout.Bytes(), live[j].Opout.Bytes(),
		) < 0
	})

	return live, nil
}
