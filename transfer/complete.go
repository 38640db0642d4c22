package transfer

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/rgb/dbc"
	"github.com/lightninglabs/rgb/rgbpsbt"
	"github.com/lightninglabs/rgb/wallet"
)

// ensureOpretHost adds an OP_RETURN host output to a modifiable packet
// lacking one.
func ensureOpretHost(pkt *psbt.Packet) error {
	_, err := rgbpsbt.OpretHost(pkt)
	if !errors.Is(err, dbc.ErrNoHost) {
		return err
	}
	if !rgbpsbt.IsModifiable(pkt) {
		return err
	}

	pkt.UnsignedTx.AddTxOut(wire.NewTxOut(
		0, append([]byte(nil), dbc.OpretHostScript...),
	))
	pkt.Outputs = append(pkt.Outputs, psbt.POutput{})

	return rgbpsbt.SetOpretHost(pkt, len(pkt.Outputs)-1)
}

// commit locks the packet and embeds the commitment to its bundles.
func (p *Pipeline) commit(pay *payment) error {
	pkt := pay.pkt

	method, err := rgbpsbt.CloseMethod(pkt)
	if err != nil {
		return err
	}
	if method == dbc.MethodOpret {
		if err := ensureOpretHost(pkt); err != nil {
			return err
		}
	}

	rgbpsbt.Lock(pkt)
	anchor, err := rgbpsbt.Commit(pkt)
	if err != nil {
		return fmt.Errorf("unable to commit to bundles: %w", err)
	}
	pay.anchor = anchor

	if method == dbc.MethodTapret {
		host, err := rgbpsbt.TapretHost(pkt)
		if err != nil {
			return err
		}
		if t, ok := wallet.OutputTerminal(&pkt.Outputs[host]); ok {
			pay.host = &t
		}
	}

	return nil
}

// finalize registers the committed transfer with the stock and the wallet
// and consigns the invoiced contract to the beneficiary.
func (p *Pipeline) finalize(ctx context.Context, pay *payment) error {
	pkt := pay.pkt

	bundles, err := rgbpsbt.Bundles(pkt)
	if err != nil {
		return err
	}
	err = p.cfg.Stock.Consume(ctx, pay.anchor, bundles, pkt.UnsignedTx)
	if err != nil {
		return fmt.Errorf("unable to register transfer: %w", err)
	}

	if proof, ok := pay.anchor.DBCProof.(*dbc.TapretProof); ok &&
		pay.host != nil {

		tweak := proof.Commitment(pay.anchor.Commitment())
		if err := p.cfg.Wallet.AddTweak(*pay.host, tweak); err != nil {
			return err
		}
	}

	p.cfg.Wallet.MarkUsed(pay.prefab.Owned)

	for _, s := range pay.prefab.ChangeSeals {
		if err := p.cfg.Wallet.RegisterSeal(s); err != nil {
			return err
		}
	}
	if _, err := p.cfg.Wallet.NextNonce(); err != nil {
		return err
	}

	c, err := p.consign(
		ctx, pay.prefab.ContractID(), pay.prefab.Terminals,
	)
	if err != nil {
		return err
	}
	pay.consignment = c

	log.Infof("Transfer of contract %v committed in witness %v, %d "+
		"bundle(s)", pay.prefab.ContractID(), pay.anchor.Txid,
		len(bundles))

	return nil
}
