package wallet

import (
	"bytes"
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/rgb/dbc"
	"github.com/lightninglabs/rgb/descriptor"
	"github.com/lightninglabs/rgb/seal"
)

const (
	// GapLimit is the number of consecutive unused addresses after which
	// a keychain scan stops.
	GapLimit = 20
)

// OwnedOutput is an output of a transaction controlled by the wallet.
type OwnedOutput struct {
	Vout     uint32
	Terminal descriptor.Terminal
}

// Owner is an RGB wallet: a descriptor and a UTXO set kept by a holder.
// Mutating calls must not run concurrently with each other.
type Owner struct {
	holder Holder
	params *chaincfg.Params
}

// NewOwner returns a wallet on the holder for the network.
func NewOwner(holder Holder, params *chaincfg.Params) *Owner {
	return &Owner{
		holder: holder,
		params: params,
	}
}

// Holder returns the holder of the wallet state.
func (o *Owner) Holder() Holder {
	return o.holder
}

// Params returns the network of the wallet.
func (o *Owner) Params() *chaincfg.Params {
	return o.params
}

// Descriptor returns a copy of the wallet descriptor.
func (o *Owner) Descriptor() *descriptor.Descr {
	return o.holder.Descriptor()
}

// Utxos returns the outputs controlled by the wallet.
func (o *Owner) Utxos() []Utxo {
	return o.holder.Utxos().Utxos()
}

// Outpoints returns the outpoints controlled by the wallet.
func (o *Owner) Outpoints() []wire.OutPoint {
	return o.holder.Utxos().Outpoints()
}

// HasUtxo returns true if the wallet controls the outpoint.
func (o *Owner) HasUtxo(op wire.OutPoint) bool {
	return o.holder.Utxos().Has(op)
}

// Balance returns the bitcoin balance of the wallet.
func (o *Owner) Balance() btcutil.Amount {
	return o.holder.Utxos().Balance()
}

// UpdateUtxos rebuilds the UTXO set by scanning every keychain of the
// descriptor in batches of GapLimit scripts until a batch past the last used
// index finds nothing new.
func (o *Owner) UpdateUtxos(ctx context.Context,
	resolver UtxoResolver) error {

	d := o.holder.Descriptor()
	utxos := o.holder.Utxos()

	found := make(map[wire.OutPoint]Utxo)
	for _, keychain := range d.Key.Keychains {
		lastIndex := utxos.NextIndex(keychain, false)

		for from := uint32(0); from < descriptor.MaxIndex; {
			to := from + GapLimit
			if to > descriptor.MaxIndex {
				to = descriptor.MaxIndex
			}

			var scripts []TerminalScript
			for idx := from; idx < to; idx++ {
				t := descriptor.Terminal{
					Keychain: keychain,
					Index:    idx,
				}
				spks, err := d.ScriptPubKeys(t)
				if err != nil {
					return err
				}
				for _, spk := range spks {
					scripts = append(scripts, TerminalScript{
						Terminal: t,
						PkScript: spk,
					})
				}
			}

			set, err := resolver.ResolveUtxos(ctx, scripts)
			if err != nil {
				return fmt.Errorf("unable to resolve utxos of "+
					"keychain %d: %w", keychain, err)
			}

			prevLen := len(found)
			for _, utxo := range set {
				found[utxo.Outpoint] = utxo
			}
			if len(found) == prevLen && to > lastIndex {
				break
			}

			from = to
		}
	}

	utxos.Clear()
	for _, utxo := range found {
		utxos.Insert(utxo)
		utxos.markUsed(utxo.Terminal)
	}

	log.Infof("Found %d utxo(s) worth %v", len(found), utxos.Balance())

	return nil
}

// RegisterSeal adds a seal to the descriptor.
func (o *Owner) RegisterSeal(s seal.Seal) error {
	return o.holder.UpdateDescriptor(func(d *descriptor.Descr) error {
		if d.AddSeal(s) {
			log.Debugf("Registered seal %v", s)
		}
		return nil
	})
}

// ResolveSeals returns the registered seals with one of the auth tokens.
func (o *Owner) ResolveSeals(tokens []seal.AuthToken) []seal.Seal {
	wanted := make(map[seal.AuthToken]struct{}, len(tokens))
	for _, t := range tokens {
		wanted[t] = struct{}{}
	}

	var seals []seal.Seal
	for _, s := range o.holder.Descriptor().Seals {
		if _, ok := wanted[s.AuthToken()]; ok {
			seals = append(seals, s)
		}
	}
	return seals
}

// NoiseSeed returns the blinding seed of the descriptor.
func (o *Owner) NoiseSeed() [32]byte {
	return o.holder.Descriptor().Noise
}

// NextNonce returns the current nonce of the descriptor and advances it.
func (o *Owner) NextNonce() (uint64, error) {
	var nonce uint64
	err := o.holder.UpdateDescriptor(func(d *descriptor.Descr) error {
		nonce = d.NextNonce()
		return nil
	})
	return nonce, err
}

// NextAddress derives the next address of the keychain. If shift is set the
// address is marked as used.
func (o *Owner) NextAddress(keychain uint32, shift bool) (btcutil.Address,
	descriptor.Terminal, error) {

	t := descriptor.Terminal{
		Keychain: keychain,
		Index:    o.holder.Utxos().NextIndex(keychain, shift),
	}
	addr, err := o.holder.Descriptor().Address(t, o.params)
	if err != nil {
		return nil, t, err
	}

	return addr, t, nil
}

// AddTweak records a tapret commitment made at the terminal.
func (o *Owner) AddTweak(t descriptor.Terminal,
	c dbc.TapretCommitment) error {

	return o.holder.UpdateDescriptor(func(d *descriptor.Descr) error {
		return d.AddTweak(t, c)
	})
}

// MarkUsed moves the derivation indexes of the wallet past the terminals of
// the owned outputs of a template.
func (o *Owner) MarkUsed(owned []OwnedOutput) {
	utxos := o.holder.Utxos()
	for _, out := range owned {
		utxos.markUsed(out.Terminal)
	}
}

// Broadcast publishes the signed transaction, then drops the outputs it
// spends from the UTXO set and adds the owned outputs it creates.
func (o *Owner) Broadcast(ctx context.Context, tx *wire.MsgTx,
	b Broadcaster, owned []OwnedOutput) error {

	if err := b.Broadcast(ctx, tx); err != nil {
		return fmt.Errorf("unable to broadcast %v: %w", tx.TxHash(),
			err)
	}

	utxos := o.holder.Utxos()
	for _, txIn := range tx.TxIn {
		utxos.Remove(txIn.PreviousOutPoint)
	}

	txid := tx.TxHash()
	for _, out := range owned {
		if int(out.Vout) >= len(tx.TxOut) {
			return fmt.Errorf("owned output %d out of range",
				out.Vout)
		}
		txOut := tx.TxOut[out.Vout]
		utxos.Insert(Utxo{
			Outpoint: wire.OutPoint{Hash: txid, Index: out.Vout},
			Value:    btcutil.Amount(txOut.Value),
			Terminal: out.Terminal,
			PkScript: txOut.PkScript,
		})
		utxos.markUsed(out.Terminal)
	}

	log.Infof("Broadcast %v spending %d input(s)", txid, len(tx.TxIn))

	return nil
}

// tapretTweak returns the tapret commitment behind the script of the output
// if it is a tweaked tapret host.
func tapretTweak(d *descriptor.Descr,
	utxo Utxo) (*dbc.TapretCommitment, error) {

	tweaks := d.TweaksAt(utxo.Terminal)
	if len(tweaks) == 0 {
		return nil, nil
	}

	key, err := d.Derive(utxo.Terminal)
	if err != nil {
		return nil, err
	}
	for _, c := range tweaks {
		spk := dbc.P2TRScript(dbc.TapretOutputKey(key, c))
		if bytes.Equal(spk, utxo.PkScript) {
			c := c
			return &c, nil
		}
	}
	return nil, nil
}
