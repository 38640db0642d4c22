package transfer

import (
	"context"
	"io"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/lightninglabs/rgb/coinselect"
	"github.com/lightninglabs/rgb/contract"
	"github.com/lightninglabs/rgb/descriptor"
	"github.com/lightninglabs/rgb/invoice"
	"github.com/lightninglabs/rgb/seal"
	"github.com/lightninglabs/rgb/stock"
	"github.com/lightninglabs/rgb/wallet"
	"github.com/lightningnetwork/lnd/clock"
)

// PipelineConfig holds the collaborators of the payment pipeline.
type PipelineConfig struct {
	// Stock keeps the contracts and their state.
	Stock *stock.Stock

	// Wallet owns the outputs state is allocated to.
	Wallet *wallet.Owner

	// Validator checks consignments before they are returned. Defaults
	// to stock.Validate.
	Validator Validator

	// Clock is used to check invoice expiry.
	Clock clock.Clock
}

// Pipeline turns invoices into committed witness transaction templates and
// consignments. A pipeline must not run payments concurrently, as they
// mutate the wallet descriptor.
type Pipeline struct {
	cfg *PipelineConfig
}

// NewPipeline returns a pipeline over the collaborators.
func NewPipeline(cfg *PipelineConfig) *Pipeline {
	if cfg.Validator == nil {
		cfg.Validator = stock.Validate
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}

	return &Pipeline{cfg: cfg}
}

// payment is the state of a payment moving through the pipeline.
type payment struct {
	state State

	inv      *invoice.Invoice
	strategy coinselect.Strategy
	params   wallet.TxParams
	giveaway btcutil.Amount

	genesis *contract.Genesis
	script  *PaymentScript

	pkt    *psbt.Packet
	prefab *PrefabBundle

	anchor      *contract.WitnessAnchor
	host        *descriptor.Terminal
	consignment *contract.Consignment
}

// advance steps the payment until it reaches the target state.
func (p *Pipeline) advance(ctx context.Context, pay *payment,
	target State) error {

	for pay.state < target {
		log.Debugf("Payment executing state: %v", pay.state)

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		next, err := p.stateStep(ctx, pay)
		if err != nil {
			log.Errorf("Error evaluating state (%v): %v", pay.state,
				err)
			return err
		}

		pay.state = next
	}

	return nil
}

// stateStep executes the current state of the payment and returns the next
// one.
func (p *Pipeline) stateStep(ctx context.Context, pay *payment) (State,
	error) {

	switch pay.state {
	case StateResolve:
		return StateSelect, p.resolve(ctx, pay)

	case StateSelect:
		return StateCarryForward, p.selectState(ctx, pay)

	case StateCarryForward:
		return StateEmit, p.carryForward(ctx, pay)

	case StateEmit:
		return StateCommit, p.emit(ctx, pay)

	case StateCommit:
		return StateFinalize, p.commit(pay)

	case StateFinalize:
		return StateComplete, p.finalize(ctx, pay)

	default:
		return pay.state, nil
	}
}

// Compose plans the payment of the invoice: it checks the invoice, selects
// the owned state to spend and the blank transitions needed to keep the
// state of other contracts sharing the spent outputs.
func (p *Pipeline) Compose(ctx context.Context, inv *invoice.Invoice,
	strategy coinselect.Strategy) (*PaymentScript, error) {

	pay := &payment{
		state:    StateResolve,
		inv:      inv,
		strategy: strategy,
	}
	if err := p.advance(ctx, pay, StateEmit); err != nil {
		return nil, err
	}

	return pay.script, nil
}

// Exec builds the witness transaction template of the payment script and
// pushes its transitions into it. Neither the stock nor the wallet
// descriptor are changed.
func (p *Pipeline) Exec(ctx context.Context, script *PaymentScript,
	params wallet.TxParams, giveaway btcutil.Amount) (*psbt.Packet,
	*PrefabBundle, error) {

	pay := &payment{
		state:    StateEmit,
		inv:      script.Invoice,
		params:   params,
		giveaway: giveaway,
		script:   script,
	}
	if err := p.advance(ctx, pay, StateCommit); err != nil {
		return nil, nil, err
	}

	return pay.pkt, pay.prefab, nil
}

// Complete commits to the bundles of the template, registers the transfer
// with the stock and the wallet and builds the consignment for the
// beneficiary.
func (p *Pipeline) Complete(ctx context.Context, pkt *psbt.Packet,
	prefab *PrefabBundle) (*Payment, error) {

	pay := &payment{
		state:  StateCommit,
		pkt:    pkt,
		prefab: prefab,
	}
	if err := p.advance(ctx, pay, StateComplete); err != nil {
		return nil, err
	}

	return pay.result(), nil
}

// Pay runs the whole pipeline for the invoice.
func (p *Pipeline) Pay(ctx context.Context, inv *invoice.Invoice,
	strategy coinselect.Strategy, params wallet.TxParams,
	giveaway btcutil.Amount) (*Payment, error) {

	pay := &payment{
		state:    StateResolve,
		inv:      inv,
		strategy: strategy,
		params:   params,
		giveaway: giveaway,
	}
	if err := p.advance(ctx, pay, StateComplete); err != nil {
		return nil, err
	}

	log.Infof("Paid %v of contract %v in witness %v",
		amountString(inv), pay.prefab.ContractID(), pay.anchor.Txid)

	return pay.result(), nil
}

// Consign writes the consignment of the contract for the terminal seals.
func (p *Pipeline) Consign(ctx context.Context, id contract.ContractID,
	terminals []seal.AuthToken, w io.Writer) error {

	c, err := p.consign(ctx, id, terminals)
	if err != nil {
		return err
	}

	return c.Encode(w)
}

func (p *Pipeline) consign(ctx context.Context, id contract.ContractID,
	terminals []seal.AuthToken) (*contract.Consignment, error) {

	c, err := p.cfg.Stock.Consign(ctx, id, terminals)
	if err != nil {
		return nil, err
	}
	if err := p.cfg.Validator(ctx, c); err != nil {
		return nil, err
	}

	return c, nil
}

func (pay *payment) result() *Payment {
	return &Payment{
		Packet:       pay.pkt,
		Prefab:       pay.prefab,
		Anchor:       pay.anchor,
		Consignment:  pay.consignment,
		HostTerminal: pay.host,
	}
}

func amountString(inv *invoice.Invoice) string {
	if inv.Amount == nil {
		return "~"
	}
	return contract.Amount(*inv.Amount).String()
}
