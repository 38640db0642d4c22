package wallet

import (
	"bytes"
	"context"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/rgb/stock"
)

// MockChain is an in-memory chain used in tests. It serves as UTXO
// resolver, broadcaster and witness resolver.
type MockChain struct {
	mu sync.Mutex

	txs   map[chainhash.Hash]*wire.MsgTx
	spent map[wire.OutPoint]chainhash.Hash
	ords  map[chainhash.Hash]stock.WitnessOrd

	// Broadcasts are the transactions published so far.
	Broadcasts []*wire.MsgTx

	// BroadcastErr is returned by Broadcast if set.
	BroadcastErr error

	fundNonce uint32
}

// NewMockChain returns an empty mock chain.
func NewMockChain() *MockChain {
	return &MockChain{
		txs:   make(map[chainhash.Hash]*wire.MsgTx),
		spent: make(map[wire.OutPoint]chainhash.Hash),
		ords:  make(map[chainhash.Hash]stock.WitnessOrd),
	}
}

// Fund mines a transaction paying value to the script and returns the
// created outpoint.
func (m *MockChain) Fund(pkScript []byte,
	value btcutil.Amount) wire.OutPoint {

	m.mu.Lock()
	defer m.mu.Unlock()

	m.fundNonce++
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Index: m.fundNonce},
	})
	tx.AddTxOut(wire.NewTxOut(int64(value), pkScript))

	txid := tx.TxHash()
	m.txs[txid] = tx
	m.ords[txid] = stock.WitnessOrd{
		Status: stock.WitnessMined,
		Height: m.fundNonce,
	}

	return wire.OutPoint{Hash: txid, Index: 0}
}

// Confirm marks the transaction as mined at the height.
func (m *MockChain) Confirm(txid chainhash.Hash, height uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ords[txid] = stock.WitnessOrd{
		Status: stock.WitnessMined,
		Height: height,
	}
}

// Tx returns a known transaction.
func (m *MockChain) Tx(txid chainhash.Hash) (*wire.MsgTx, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.txs[txid]
	return tx, ok
}

// ResolveUtxos returns the unspent outputs of known transactions paying to
// one of the scripts.
func (m *MockChain) ResolveUtxos(_ context.Context,
	scripts []TerminalScript) ([]Utxo, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	var utxos []Utxo
	for txid, tx := range m.txs {
		for vout, txOut := range tx.TxOut {
			op := wire.OutPoint{Hash: txid, Index: uint32(vout)}
			if _, ok := m.spent[op]; ok {
				continue
			}

			for _, s := range scripts {
				if !bytes.Equal(s.PkScript, txOut.PkScript) {
					continue
				}
				utxos = append(utxos, Utxo{
					Outpoint: op,
					Value:    btcutil.Amount(txOut.Value),
					Terminal: s.Terminal,
					PkScript: txOut.PkScript,
				})
				break
			}
		}
	}

	return utxos, nil
}

// Broadcast adds the transaction to the mempool of the chain.
func (m *MockChain) Broadcast(_ context.Context, tx *wire.MsgTx) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.BroadcastErr != nil {
		return m.BroadcastErr
	}

	txid := tx.TxHash()
	for _, txIn := range tx.TxIn {
		m.spent[txIn.PreviousOutPoint] = txid
	}
	m.txs[txid] = tx.Copy()
	m.ords[txid] = stock.WitnessOrd{Status: stock.WitnessTentative}
	m.Broadcasts = append(m.Broadcasts, tx.Copy())

	return nil
}

// WitnessStatus returns the position of a known transaction. Unknown
// transactions are reported as archived.
func (m *MockChain) WitnessStatus(_ context.Context,
	txid chainhash.Hash) (stock.WitnessOrd, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	ord, ok := m.ords[txid]
	if !ok {
		return stock.WitnessOrd{Status: stock.WitnessArchived}, nil
	}
	return ord, nil
}

var (
	_ UtxoResolver          = (*MockChain)(nil)
	_ Broadcaster           = (*MockChain)(nil)
	_ stock.WitnessResolver = (*MockChain)(nil)
)
