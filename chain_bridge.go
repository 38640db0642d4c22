package rgb

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/rgb/stock"
	"github.com/lightninglabs/rgb/wallet"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
)

var (
	// ErrNoFeeEstimate is returned when the node has no fee estimate for
	// the confirmation target.
	ErrNoFeeEstimate = errors.New("no fee estimate available")

	// ErrTxUnknown is returned when the node knows no transaction with
	// the requested id.
	ErrTxUnknown = errors.New("transaction unknown to the node")
)

// isTxUnknown reports whether err is the node's answer for a transaction it
// has no information about.
func isTxUnknown(err error) bool {
	var rpcErr *btcjson.RPCError
	return errors.As(err, &rpcErr) && rpcErr.Code == btcjson.ErrRPCNoTxInfo
}

// fetchTxErr wraps a failed transaction lookup, telling unknown transactions
// apart from node and network failures.
func fetchTxErr(txid chainhash.Hash, err error) error {
	if isTxUnknown(err) {
		return fmt.Errorf("%w: %v", ErrTxUnknown, txid)
	}
	return fmt.Errorf("unable to fetch tx %v: %w", txid, err)
}

// ChainBridge is the view of the bitcoin chain the runtime needs.
type ChainBridge interface {
	wallet.UtxoResolver
	wallet.Broadcaster
	stock.WitnessResolver

	// ResolveTx returns a transaction known to the node, ErrTxUnknown
	// if there is none.
	ResolveTx(ctx context.Context, txid chainhash.Hash) (*wire.MsgTx,
		error)

	// EstimateFee returns the fee rate for confirmation within the
	// target number of blocks.
	EstimateFee(ctx context.Context,
		confTarget uint32) (chainfee.SatPerKWeight, error)

	// Stop releases the connection to the node.
	Stop()
}

// RpcChainBridge is a ChainBridge backed by the JSON-RPC interface of a
// bitcoind node with the transaction index enabled.
type RpcChainBridge struct {
	client *rpcclient.Client
}

// NewRpcChainBridge connects to the node in HTTP POST mode.
func NewRpcChainBridge(cfg *rpcclient.ConnConfig) (*RpcChainBridge, error) {
	cfg.HTTPPostMode = true

	client, err := rpcclient.New(cfg, nil)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to %v: %w", cfg.Host,
			err)
	}

	return &RpcChainBridge{client: client}, nil
}

// ResolveTx returns a transaction known to the node.
func (r *RpcChainBridge) ResolveTx(ctx context.Context,
	txid chainhash.Hash) (*wire.MsgTx, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tx, err := r.client.GetRawTransaction(&txid)
	if err != nil {
		return nil, fetchTxErr(txid, err)
	}

	return tx.MsgTx(), nil
}

// WitnessStatus returns the chain position of the transaction. Transactions
// unknown to the node are reported as archived.
func (r *RpcChainBridge) WitnessStatus(ctx context.Context,
	txid chainhash.Hash) (stock.WitnessOrd, error) {

	if err := ctx.Err(); err != nil {
		return stock.WitnessOrd{}, err
	}

	res, err := r.client.GetRawTransactionVerbose(&txid)
	switch {
	case isTxUnknown(err):
		return stock.WitnessOrd{Status: stock.WitnessArchived}, nil

	case err != nil:
		return stock.WitnessOrd{}, fmt.Errorf("unable to fetch tx "+
			"%v: %w", txid, err)

	case res.Confirmations == 0 || res.BlockHash == "":
		return stock.WitnessOrd{Status: stock.WitnessTentative}, nil
	}

	blockHash, err := chainhash.NewHashFromStr(res.BlockHash)
	if err != nil {
		return stock.WitnessOrd{}, err
	}
	header, err := r.client.GetBlockHeaderVerbose(blockHash)
	if err != nil {
		return stock.WitnessOrd{}, fmt.Errorf("unable to fetch block "+
			"header %v: %w", blockHash, err)
	}

	return stock.WitnessOrd{
		Status: stock.WitnessMined,
		Height: uint32(header.Height),
		Time:   res.Blocktime,
	}, nil
}

// scanUnspent is an entry of the scantxoutset result.
type scanUnspent struct {
	Txid         string  `json:"txid"`
	Vout         uint32  `json:"vout"`
	ScriptPubKey string  `json:"scriptPubKey"`
	Amount       float64 `json:"amount"`
}

// scanResult is the result of the scantxoutset call.
type scanResult struct {
	Success  bool          `json:"success"`
	Unspents []scanUnspent `json:"unspents"`
}

type scanObject struct {
	Desc string `json:"desc"`
}

// ResolveUtxos scans the UTXO set of the node for outputs paying to the
// scripts.
func (r *RpcChainBridge) ResolveUtxos(ctx context.Context,
	scripts []wallet.TerminalScript) ([]wallet.Utxo, error) {

	if len(scripts) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	byScript := make(map[string]wallet.TerminalScript, len(scripts))
	objects := make([]scanObject, 0, len(scripts))
	for _, s := range scripts {
		spk := hex.EncodeToString(s.PkScript)
		byScript[spk] = s
		objects = append(objects, scanObject{
			Desc: fmt.Sprintf("raw(%s)", spk),
		})
	}

	action, err := json.Marshal("start")
	if err != nil {
		return nil, err
	}
	scanObjects, err := json.Marshal(objects)
	if err != nil {
		return nil, err
	}

	raw, err := r.client.RawRequest(
		"scantxoutset", []json.RawMessage{action, scanObjects},
	)
	if err != nil {
		return nil, fmt.Errorf("unable to scan utxo set: %w", err)
	}

	var res scanResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("unable to decode scan result: %w", err)
	}
	if !res.Success {
		return nil, errors.New("utxo set scan didn't complete")
	}

	utxos := make([]wallet.Utxo, 0, len(res.Unspents))
	for _, u := range res.Unspents {
		s, ok := byScript[u.ScriptPubKey]
		if !ok {
			continue
		}

		txid, err := chainhash.NewHashFromStr(u.Txid)
		if err != nil {
			return nil, err
		}
		value, err := btcutil.NewAmount(u.Amount)
		if err != nil {
			return nil, err
		}

		utxos = append(utxos, wallet.Utxo{
			Outpoint: wire.OutPoint{Hash: *txid, Index: u.Vout},
			Value:    value,
			Terminal: s.Terminal,
			PkScript: s.PkScript,
		})
	}

	log.Debugf("Found %d utxo(s) for %d script(s)", len(utxos),
		len(scripts))

	return utxos, nil
}

// Broadcast submits the transaction to the node.
func (r *RpcChainBridge) Broadcast(ctx context.Context, tx *wire.MsgTx) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	txid, err := r.client.SendRawTransaction(tx, false)
	if err != nil {
		return fmt.Errorf("unable to publish tx: %w", err)
	}

	log.Infof("Published transaction %v", txid)

	return nil
}

// EstimateFee returns the conservative smart fee estimate of the node.
func (r *RpcChainBridge) EstimateFee(ctx context.Context,
	confTarget uint32) (chainfee.SatPerKWeight, error) {

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	mode := btcjson.EstimateModeConservative
	res, err := r.client.EstimateSmartFee(int64(confTarget), &mode)
	if err != nil {
		return 0, fmt.Errorf("unable to estimate fee: %w", err)
	}
	if res.FeeRate == nil {
		return 0, fmt.Errorf("%w: target %d", ErrNoFeeEstimate,
			confTarget)
	}

	perKvB, err := btcutil.NewAmount(*res.FeeRate)
	if err != nil {
		return 0, err
	}

	feeRate := chainfee.SatPerKVByte(perKvB).FeePerKWeight()
	if feeRate < chainfee.FeePerKwFloor {
		feeRate = chainfee.FeePerKwFloor
	}

	return feeRate, nil
}

// Stop shuts the RPC client down.
func (r *RpcChainBridge) Stop() {
	r.client.Shutdown()
}

var _ ChainBridge = (*RpcChainBridge)(nil)
