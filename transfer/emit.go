package transfer

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
	"github.com/davecgh/go-spew/spew"
	"github.com/lightninglabs/rgb/contract"
	"github.com/lightninglabs/rgb/descriptor"
	"github.com/lightninglabs/rgb/rgbpsbt"
	"github.com/lightninglabs/rgb/seal"
	"github.com/lightninglabs/rgb/wallet"
)

// outputPicker hands out wallet outputs of the template per velocity class,
// round robin within a class.
type outputPicker struct {
	classes map[contract.VelocityHint][]uint32
	next    map[contract.VelocityHint]int
}

func newOutputPicker(pkt *psbt.Packet, skip int) *outputPicker {
	p := &outputPicker{
		classes: make(map[contract.VelocityHint][]uint32),
		next:    make(map[contract.VelocityHint]int),
	}
	for vout := range pkt.Outputs {
		if vout == skip {
			continue
		}

		t, ok := wallet.OutputTerminal(&pkt.Outputs[vout])
		if !ok || !descriptor.IsRgbKeychain(t.Keychain) {
			continue
		}

		v, ok := rgbpsbt.VelocityHint(pkt, vout)
		if !ok {
			v = contract.VelocityUnspecified
		}
		p.classes[v] = append(p.classes[v], uint32(vout))
	}

	return p
}

// pick returns the next output of the class, falling back to outputs
// without a class.
func (p *outputPicker) pick(v contract.VelocityHint) (uint32, error) {
	for _, class := range []contract.VelocityHint{
		v, contract.VelocityUnspecified,
	} {

		outs := p.classes[class]
		if len(outs) == 0 {
			continue
		}

		vout := outs[p.next[class]%len(outs)]
		p.next[class]++
		return vout, nil
	}

	return 0, fmt.Errorf("%w: velocity %v", ErrNoBlankOrChange, v)
}

// stateOutpoints returns the wallet outputs carrying state of any contract.
func (p *Pipeline) stateOutpoints(ctx context.Context) ([]wire.OutPoint,
	error) {

	owned := p.cfg.Wallet.Outpoints()
	ids, err := p.cfg.Stock.ContractsAt(ctx, owned)
	if err != nil {
		return nil, err
	}

	seen := make(map[wire.OutPoint]struct{})
	var outpoints []wire.OutPoint
	for _, id := range ids {
		allocations, err := p.cfg.Stock.Allocations(ctx, id, owned)
		if err != nil {
			return nil, err
		}
		for _, a := range allocations {
			if _, ok := seen[a.Outpoint]; ok {
				continue
			}
			seen[a.Outpoint] = struct{}{}
			outpoints = append(outpoints, a.Outpoint)
		}
	}

	return outpoints, nil
}

// emit builds the witness template and pushes the transitions of the
// payment script into it.
func (p *Pipeline) emit(ctx context.Context, pay *payment) error {
	script := pay.script

	reserved, err := p.stateOutpoints(ctx)
	if err != nil {
		return err
	}

	tmpl, err := p.cfg.Wallet.BuildTemplate(wallet.TemplateRequest{
		TxParams:    pay.params,
		Inputs:      script.Outpoints,
		Reserved:    reserved,
		Beneficiary: script.Beneficiary.Address,
		Giveaway:    pay.giveaway,
		Velocities:  script.Velocities(),
	})
	if err != nil {
		return fmt.Errorf("unable to build witness template: %w", err)
	}
	pkt := tmpl.Packet

	if script.Beneficiary.Address != nil && tmpl.BeneficiaryVout < 0 {
		return fmt.Errorf("%w: %v", ErrNoBeneficiaryOutput,
			script.Beneficiary.Address)
	}

	vins := make(map[wire.OutPoint]int, len(pkt.UnsignedTx.TxIn))
	for vin, txIn := range pkt.UnsignedTx.TxIn {
		vins[txIn.PreviousOutPoint] = vin
	}

	var (
		d      = p.cfg.Wallet.Descriptor()
		picker = newOutputPicker(pkt, tmpl.BeneficiaryVout)
		prefab = &PrefabBundle{
			Owned:           tmpl.Owned,
			BeneficiaryVout: tmpl.BeneficiaryVout,
			Fee:             tmpl.Fee,
		}
		sealIdx uint32
	)
	newSeal := func(vout uint32) seal.Seal {
		noise := d.NewSealNoise(seal.Wout(vout), sealIdx)
		sealIdx++
		return seal.NewWout(vout, noise)
	}

	drafts := append([]*Draft{script.Main}, script.Blanks...)
	for _, draft := range drafts {
		t := &contract.Transition{
			ContractID: draft.ContractID,
			Type:       draft.Type,
			Nonce:      d.Nonce,
		}
		for _, in := range draft.Inputs {
			t.Inputs = append(t.Inputs, in.Opout)
		}

		for _, out := range draft.Outputs {
			a := contract.Assignment{
				Type:  out.Type,
				State: out.State,
			}

			switch {
			case out.Beneficiary && script.Beneficiary.Token != nil:
				token := *script.Beneficiary.Token
				a.Seal = contract.Concealed(token)
				prefab.Terminals = append(prefab.Terminals, token)

			case out.Beneficiary:
				s := newSeal(uint32(tmpl.BeneficiaryVout))
				a.Seal = contract.Revealed(s)
				prefab.Terminals = append(
					prefab.Terminals, s.AuthToken(),
				)

			default:
				vout, err := picker.pick(out.Velocity)
				if err != nil {
					return err
				}
				s := newSeal(vout)
				a.Seal = contract.Revealed(s)
				prefab.ChangeSeals = append(prefab.ChangeSeals, s)
			}

			t.Assignments = append(t.Assignments, a)
		}

		opID := t.OpID()
		for _, in := range draft.Inputs {
			vin, ok := vins[in.Outpoint]
			if !ok {
				return fmt.Errorf("%w: %v not spent by template",
					wallet.ErrUnknownUtxo, in.Outpoint)
			}
			err := rgbpsbt.SetConsumer(pkt, vin, t.ContractID, opID)
			if err != nil {
				return err
			}
		}
		if err := rgbpsbt.PushTransition(pkt, t); err != nil {
			return err
		}

		prefab.Transitions = append(prefab.Transitions, t)
	}

	log.Tracef("Emitted prefab bundle: %v", spew.Sdump(prefab))

	pay.pkt = pkt
	pay.prefab = prefab

	return nil
}
