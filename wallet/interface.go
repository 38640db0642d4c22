package wallet

import (
	"context"
	"errors"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/rgb/descriptor"
)

var (
	// ErrUnknownUtxo is returned when an outpoint isn't in the UTXO set of
	// the wallet.
	ErrUnknownUtxo = errors.New("wallet: unknown utxo")

	// ErrInsufficientFunds is returned when the wallet can't cover the
	// outputs and fees of a transaction.
	ErrInsufficientFunds = errors.New("wallet: insufficient funds")

	// ErrDustOutput is returned when an output would be below the dust
	// limit.
	ErrDustOutput = errors.New("wallet: output below dust limit")

	// ErrHolderClosed is returned when using a closed holder.
	ErrHolderClosed = errors.New("wallet: holder closed")
)

// Utxo is an unspent output controlled by the wallet.
type Utxo struct {
	// Outpoint is the location of the output.
	Outpoint wire.OutPoint

	// Value is the amount of the output.
	Value btcutil.Amount

	// Terminal is the derivation of the key controlling the output.
	Terminal descriptor.Terminal

	// PkScript is the output script, tweaked for tapret hosts.
	PkScript []byte
}

// TerminalScript is an output script the wallet may own together with its
// derivation terminal.
type TerminalScript struct {
	Terminal descriptor.Terminal
	PkScript []byte
}

// UtxoResolver finds unspent outputs paying to a set of scripts.
type UtxoResolver interface {
	// ResolveUtxos returns the unspent outputs paying to any of the
	// scripts.
	ResolveUtxos(ctx context.Context, scripts []TerminalScript) ([]Utxo,
		error)
}

// Broadcaster publishes transactions.
type Broadcaster interface {
	// Broadcast submits a signed transaction to the network.
	Broadcast(ctx context.Context, tx *wire.MsgTx) error
}

// Holder owns the persistent state of a wallet: its descriptor and its
// UTXO set. The descriptor must only be changed through UpdateDescriptor.
type Holder interface {
	// Descriptor returns a copy of the wallet descriptor.
	Descriptor() *descriptor.Descr

	// UpdateDescriptor applies update to the descriptor. The descriptor
	// is left unchanged if update fails.
	UpdateDescriptor(update func(d *descriptor.Descr) error) error

	// Utxos returns the UTXO set of the wallet.
	Utxos() *UtxoSet

	// Save persists the state of the holder.
	Save() error

	// Close saves the state and releases the holder.
	Close() error
}
