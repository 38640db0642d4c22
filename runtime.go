package rgb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/rgb/coinselect"
	"github.com/lightninglabs/rgb/contract"
	"github.com/lightninglabs/rgb/descriptor"
	"github.com/lightninglabs/rgb/invoice"
	"github.com/lightninglabs/rgb/seal"
	"github.com/lightninglabs/rgb/stock"
	"github.com/lightninglabs/rgb/transfer"
	"github.com/lightninglabs/rgb/wallet"
	"github.com/lightningnetwork/lnd/clock"
)

var (
	// ErrRuntimeClosed is returned when using a closed runtime.
	ErrRuntimeClosed = errors.New("runtime closed")
)

// Runtime ties a contract stock, a wallet and a chain bridge together. It
// must be closed to flush the stock and the wallet.
type Runtime struct {
	stock    *stock.Stock
	wallet   *wallet.Owner
	bridge   ChainBridge
	pipeline *transfer.Pipeline

	mu     sync.Mutex
	closed bool
}

// NewRuntime returns a runtime over its collaborators. The bridge may be nil
// for offline use.
func NewRuntime(s *stock.Stock, w *wallet.Owner, bridge ChainBridge,
	clk clock.Clock) *Runtime {

	return &Runtime{
		stock:  s,
		wallet: w,
		bridge: bridge,
		pipeline: transfer.NewPipeline(&transfer.PipelineConfig{
			Stock:  s,
			Wallet: w,
			Clock:  clk,
		}),
	}
}

// Stock returns the contract stock.
func (r *Runtime) Stock() *stock.Stock {
	return r.stock
}

// Wallet returns the wallet.
func (r *Runtime) Wallet() *wallet.Owner {
	return r.wallet
}

// Bridge returns the chain bridge, nil when offline.
func (r *Runtime) Bridge() ChainBridge {
	return r.bridge
}

// Pipeline returns the payment pipeline.
func (r *Runtime) Pipeline() *transfer.Pipeline {
	return r.pipeline
}

func (r *Runtime) checkOpen() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRuntimeClosed
	}
	return nil
}

func (r *Runtime) online() (ChainBridge, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}
	if r.bridge == nil {
		return nil, errors.New("no chain bridge configured")
	}
	return r.bridge, nil
}

// Sync refreshes the UTXO set of the wallet and the chain position of the
// witnesses in the stock.
func (r *Runtime) Sync(ctx context.Context) error {
	bridge, err := r.online()
	if err != nil {
		return err
	}

	if err := r.wallet.UpdateUtxos(ctx, bridge); err != nil {
		return fmt.Errorf("unable to update utxos: %w", err)
	}
	if err := r.stock.UpdateWitnesses(ctx, bridge); err != nil {
		return fmt.Errorf("unable to update witnesses: %w", err)
	}

	return nil
}

// BlindSeal creates and registers a blinded seal over an owned output for
// receiving state.
func (r *Runtime) BlindSeal(op wire.OutPoint) (seal.Seal, error) {
	if err := r.checkOpen(); err != nil {
		return seal.Seal{}, err
	}
	if !r.wallet.HasUtxo(op) {
		return seal.Seal{}, fmt.Errorf("%w: %v", wallet.ErrUnknownUtxo,
			op)
	}

	nonce, err := r.wallet.NextNonce()
	if err != nil {
		return seal.Seal{}, err
	}
	noise := seal.DeriveNoise(
		r.wallet.NoiseSeed(), nonce, seal.Extern(op), 0,
	)
	s := seal.NewRevealed(op, noise)

	if err := r.wallet.RegisterSeal(s); err != nil {
		return seal.Seal{}, err
	}

	return s, nil
}

// Invoice creates an invoice for an amount of the contract paid to a new
// blinded seal over the owned output.
func (r *Runtime) Invoice(id contract.ContractID, amount uint64,
	op wire.OutPoint) (*invoice.Invoice, error) {

	s, err := r.BlindSeal(op)
	if err != nil {
		return nil, err
	}

	return invoice.NewRGB20Builder(
		id, invoice.BlindedBeneficiary(s.AuthToken()), amount,
	).SetNetwork(r.wallet.Params()).Build()
}

// Pay pays the invoice with the wallet. The returned packet still needs to
// be signed.
func (r *Runtime) Pay(ctx context.Context, inv *invoice.Invoice,
	strategy coinselect.Strategy, params wallet.TxParams,
	giveaway btcutil.Amount) (*transfer.Payment, error) {

	if err := r.checkOpen(); err != nil {
		return nil, err
	}

	return r.pipeline.Pay(ctx, inv, strategy, params, giveaway)
}

// Accept validates and imports the consignment read from rd, then reveals
// the allocations assigned to seals of the wallet. It returns the number of
// allocations revealed.
func (r *Runtime) Accept(ctx context.Context, rd io.Reader) (int, error) {
	if err := r.checkOpen(); err != nil {
		return 0, err
	}

	var c contract.Consignment
	if err := c.Decode(rd); err != nil {
		return 0, fmt.Errorf("unable to decode consignment: %w", err)
	}
	if err := r.stock.AcceptConsignment(ctx, &c); err != nil {
		return 0, err
	}

	return r.stock.RevealSeals(ctx, r.wallet.Descriptor().Seals)
}

// Consign writes the consignment of the contract for the terminals.
func (r *Runtime) Consign(ctx context.Context, id contract.ContractID,
	terminals []seal.AuthToken, w io.Writer) error {

	if err := r.checkOpen(); err != nil {
		return err
	}

	return r.pipeline.Consign(ctx, id, terminals, w)
}

// OwnedState returns the allocations of the contract on wallet outputs.
func (r *Runtime) OwnedState(ctx context.Context,
	id contract.ContractID) ([]*stock.Allocation, error) {

	if err := r.checkOpen(); err != nil {
		return nil, err
	}

	return r.stock.Allocations(ctx, id, r.wallet.Outpoints())
}

// Descriptor returns a copy of the wallet descriptor.
func (r *Runtime) Descriptor() *descriptor.Descr {
	return r.wallet.Descriptor()
}

// Close flushes and releases the wallet and the stock, then the bridge.
// Closing twice is a no-op.
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	var firstErr error
	if err := r.wallet.Holder().Close(); err != nil {
		log.Errorf("Unable to close wallet: %v", err)
		firstErr = err
	}
	if err := r.stock.Close(); err != nil {
		log.Errorf("Unable to close stock: %v", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	if r.bridge != nil {
		r.bridge.Stop()
	}

	return firstErr
}
