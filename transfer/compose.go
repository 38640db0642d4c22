package transfer

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/rgb/coinselect"
	"github.com/lightninglabs/rgb/contract"
	"github.com/lightninglabs/rgb/fn"
	"github.com/lightninglabs/rgb/stock"
)

// resolve checks the invoice against the wallet and the stock.
func (p *Pipeline) resolve(ctx context.Context, pay *payment) error {
	inv := pay.inv

	if inv.IsExpired(p.cfg.Clock.Now()) {
		return fmt.Errorf("%w: expired at %v", ErrInvoiceExpired,
			inv.Expiry)
	}
	if inv.Contract == nil {
		return ErrNoContract
	}
	if inv.Iface == "" {
		return ErrNoIface
	}

	params := p.cfg.Wallet.Params()
	if inv.Network != nil && inv.Network.Name != params.Name {
		return fmt.Errorf("%w: invoice for %v, wallet on %v",
			ErrNetworkMismatch, inv.Network.Name, params.Name)
	}
	addr := inv.Beneficiary.Address
	if addr != nil && !addr.IsForNet(params) {
		return fmt.Errorf("%w: address %v", ErrNetworkMismatch, addr)
	}

	if inv.Amount == nil || *inv.Amount == 0 {
		return ErrNoAmount
	}

	genesis, err := p.cfg.Stock.Contract(ctx, *inv.Contract)
	if errors.Is(err, stock.ErrUnknownContract) {
		return fmt.Errorf("%w: %v", ErrNoContract, err)
	}
	if err != nil {
		return err
	}
	if genesis.Iface != inv.Iface {
		return fmt.Errorf("%w: contract implements %v, invoice asks "+
			"for %v", ErrIfaceMismatch, genesis.Iface, inv.Iface)
	}

	pay.genesis = genesis
	pay.script = &PaymentScript{
		Invoice:    inv,
		ContractID: *inv.Contract,
		Beneficiary: Beneficiary{
			Token:   inv.Beneficiary.Token,
			Address: inv.Beneficiary.Address,
		},
	}

	return nil
}

// selectState picks the owned allocations paying the invoice and drafts the
// main transition. Every allocation of the contract on a selected output is
// spent, so no state of the contract is left behind on a spent output.
func (p *Pipeline) selectState(ctx context.Context, pay *payment) error {
	script := pay.script
	target := *pay.inv.Amount

	allocations, err := p.cfg.Stock.Allocations(
		ctx, script.ContractID, p.cfg.Wallet.Outpoints(),
	)
	if err != nil {
		return err
	}

	candidates := fn.Filter(allocations, isAssetAllocation)

	selected, err := coinselect.Select(
		pay.strategy, candidates,
		func(a *stock.Allocation) contract.State {
			return a.State
		},
		coinselect.NewAmountCalc(target),
	)
	if err != nil {
		return fmt.Errorf("unable to cover %d of contract %v: %w",
			target, script.ContractID, err)
	}

	outpoints := make(map[wire.OutPoint]struct{}, len(selected))
	for _, a := range selected {
		if _, ok := outpoints[a.Outpoint]; ok {
			continue
		}
		outpoints[a.Outpoint] = struct{}{}
		script.Outpoints = append(script.Outpoints, a.Outpoint)
	}

	draft := &Draft{
		ContractID: script.ContractID,
		Type:       contract.TransitionTransfer,
	}
	calc := coinselect.NewAmountCalc(target)
	var carried []Output
	for _, a := range allocations {
		if _, ok := outpoints[a.Outpoint]; !ok {
			continue
		}

		draft.Inputs = append(draft.Inputs, allocationInput(a))

		if isAssetAllocation(a) {

			if err := calc.Accumulate(a.State); err != nil {
				return err
			}
			continue
		}

		carried = append(carried, Output{
			Type:     a.Opout.Type,
			State:    a.State,
			Velocity: pay.genesis.Velocity,
		})
	}

	draft.Outputs = append(draft.Outputs, Output{
		Type:        contract.AssignmentAsset,
		State:       contract.Amount(target),
		Beneficiary: true,
	})
	if surplus := calc.Surplus(); surplus > 0 {
		draft.Outputs = append(draft.Outputs, Output{
			Type:     contract.AssignmentAsset,
			State:    contract.Amount(surplus),
			Velocity: pay.genesis.Velocity,
		})
	}
	draft.Outputs = append(draft.Outputs, carried...)

	script.Main = draft

	log.Debugf("Spending %d allocation(s) on %d output(s) to pay %d, "+
		"change %d", len(draft.Inputs), len(script.Outpoints), target,
		calc.Surplus())

	return nil
}

// isAssetAllocation returns true for fungible asset allocations, the ones
// coin selection may consume.
func isAssetAllocation(a *stock.Allocation) bool {
	return a.Opout.Type == contract.AssignmentAsset && a.State.IsFungible()
}

func allocationInput(a *stock.Allocation) Input {
	return Input{
		Opout:    a.Opout,
		Outpoint: a.Outpoint,
		State:    a.State,
	}
}

// carryForward drafts a blank transition for every other contract with state
// on the spent outputs, moving that state to wallet outputs of the witness.
func (p *Pipeline) carryForward(ctx context.Context, pay *payment) error {
	script := pay.script

	ids, err := p.cfg.Stock.ContractsAt(ctx, script.Outpoints)
	if err != nil {
		return err
	}

	for _, id := range ids {
		if id == script.ContractID {
			continue
		}

		genesis, err := p.cfg.Stock.Contract(ctx, id)
		if err != nil {
			return err
		}
		allocations, err := p.cfg.Stock.Allocations(
			ctx, id, script.Outpoints,
		)
		if err != nil {
			return err
		}
		if len(allocations) == 0 {
			continue
		}

		blank := &Draft{
			ContractID: id,
			Type:       contract.TransitionBlank,
		}
		blank.Inputs = fn.Map(allocations, allocationInput)
		for _, a := range allocations {
			blank.Outputs = append(blank.Outputs, Output{
				Type:     a.Opout.Type,
				State:    a.State,
				Velocity: genesis.Velocity,
			})
		}

		log.Debugf("Carrying %d allocation(s) of contract %v forward",
			len(allocations), id)

		script.Blanks = append(script.Blanks, blank)
	}

	return nil
}
