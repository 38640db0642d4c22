package wallet

import (
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/mempool"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/lightninglabs/rgb/contract"
	"github.com/lightninglabs/rgb/dbc"
	"github.com/lightninglabs/rgb/descriptor"
	"github.com/lightninglabs/rgb/rgbpsbt"
	"github.com/lightningnetwork/lnd/input"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
)

const (
	// DefaultFeeRate is used when no fee rate is given.
	DefaultFeeRate = chainfee.SatPerKWeight(253)
)

// TxParams are the bitcoin level choices of a transfer transaction.
type TxParams struct {
	// FeeRate is the target fee rate.
	FeeRate chainfee.SatPerKWeight

	// ChangeClasses overrides the velocity classes of the RGB change
	// outputs. By default one output is created per class needed.
	ChangeClasses []contract.VelocityHint
}

// TemplateRequest describes the transaction template to build.
type TemplateRequest struct {
	TxParams

	// Inputs are the outpoints that must be spent.
	Inputs []wire.OutPoint

	// Reserved are outpoints never spent to pay fees, as they carry
	// state.
	Reserved []wire.OutPoint

	// Beneficiary is the address receiving state in the witness output.
	// Nil for blinded beneficiaries.
	Beneficiary btcutil.Address

	// Giveaway is the amount paid to the beneficiary output. The dust
	// limit is used if zero.
	Giveaway btcutil.Amount

	// Velocities are the velocity classes state is assigned with.
	Velocities []contract.VelocityHint
}

// Template is an unsigned transfer transaction built by the wallet.
type Template struct {
	// Packet is the modifiable PSBT of the transaction.
	Packet *psbt.Packet

	// BeneficiaryVout is the index of the beneficiary output, -1 if
	// there is none.
	BeneficiaryVout int

	// Owned are the outputs paying to the wallet.
	Owned []OwnedOutput

	// Fee is the fee paid by the transaction.
	Fee btcutil.Amount
}

type plannedOutput struct {
	txOut    *wire.TxOut
	terminal *descriptor.Terminal
	velocity *contract.VelocityHint
}

// dustLimit returns the smallest value of an output paying to pkScript that
// the default relay policy doesn't consider dust.
func dustLimit(pkScript []byte) btcutil.Amount {
	out := wire.NewTxOut(0, pkScript)
	out.Value = mempool.GetDustThreshold(out) *
		int64(txrules.DefaultRelayFeePerKb) / 1000
	for txrules.IsDustOutput(out, txrules.DefaultRelayFeePerKb) {
		out.Value++
	}

	return btcutil.Amount(out.Value)
}

// changeClasses returns the velocity classes of the RGB change outputs.
func (r *TemplateRequest) changeClasses(
	method dbc.Method) []contract.VelocityHint {

	classes := r.ChangeClasses
	if classes == nil {
		seen := make(map[contract.VelocityHint]struct{})
		for _, v := range r.Velocities {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			classes = append(classes, v)
		}
	}

	// Tapret commitments need a wallet output to host them.
	if len(classes) == 0 && method == dbc.MethodTapret {
		classes = []contract.VelocityHint{contract.VelocityUnspecified}
	}

	return classes
}

func estimateWeight(inputs []Utxo, outputs []*wire.TxOut) (int64, error) {
	var estimator input.TxWeightEstimator
	for _, in := range inputs {
		switch {
		case txscript.IsPayToWitnessPubKeyHash(in.PkScript):
			estimator.AddP2WKHInput()

		case txscript.IsPayToTaproot(in.PkScript):
			estimator.AddTaprootKeySpendInput(
				txscript.SigHashDefault,
			)

		default:
			return 0, fmt.Errorf("unsupported input script %x",
				in.PkScript)
		}
	}
	for _, out := range outputs {
		// Opret hosts are weighed with their commitment.
		if dbc.IsOpReturn(out.PkScript) {
			estimator.AddTxOutput(
				wire.NewTxOut(0, dbc.OpretScript([32]byte{})),
			)
			continue
		}
		estimator.AddTxOutput(out)
	}

	return int64(estimator.Weight()), nil
}

// BuildTemplate builds the unsigned transaction of a transfer: the required
// inputs plus wallet inputs covering fees, the RGB change outputs, the
// beneficiary output and the bitcoin change. RGB change outputs come first
// so the first taproot output is a wallet tapret host.
func (o *Owner) BuildTemplate(req TemplateRequest) (*Template, error) {
	d := o.holder.Descriptor()
	utxos := o.holder.Utxos()

	feeRate := req.FeeRate
	if feeRate == 0 {
		feeRate = DefaultFeeRate
	}

	var (
		inputs  []Utxo
		spent   = make(map[wire.OutPoint]struct{})
		outputs []plannedOutput
	)
	for _, op := range req.Inputs {
		if _, ok := spent[op]; ok {
			continue
		}
		utxo, ok := utxos.Get(op)
		if !ok {
			return nil, fmt.Errorf("%w: %v", ErrUnknownUtxo, op)
		}
		inputs = append(inputs, utxo)
		spent[op] = struct{}{}
	}

	// Derivation indexes are only peeked here. They are marked used once
	// the transfer is finalized or the transaction broadcast.
	rgbIndex := utxos.NextIndex(d.RgbKeychain(), false)
	for _, class := range req.changeClasses(d.Method) {
		class := class
		t := descriptor.Terminal{
			Keychain: d.RgbKeychain(),
			Index:    rgbIndex,
		}
		rgbIndex++
		spk, err := d.ScriptPubKey(t)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, plannedOutput{
			txOut:    wire.NewTxOut(int64(dustLimit(spk)), spk),
			terminal: &t,
			velocity: &class,
		})
	}

	beneficiaryVout := -1
	if req.Beneficiary != nil {
		spk, err := txscript.PayToAddrScript(req.Beneficiary)
		if err != nil {
			return nil, err
		}
		value := req.Giveaway
		if value == 0 {
			value = dustLimit(spk)
		}
		out := wire.NewTxOut(int64(value), spk)
		if txrules.IsDustOutput(out, txrules.DefaultRelayFeePerKb) {
			return nil, fmt.Errorf("%w: beneficiary output of %v",
				ErrDustOutput, value)
		}

		beneficiaryVout = len(outputs)
		outputs = append(outputs, plannedOutput{
			txOut: out,
		})
	}

	opretHost := -1
	if d.Method == dbc.MethodOpret {
		opretHost = len(outputs)
		outputs = append(outputs, plannedOutput{
			txOut: wire.NewTxOut(
				0, append([]byte(nil), dbc.OpretHostScript...),
			),
		})
	}

	// Fund the outputs and fee with wallet outputs not carrying state,
	// largest first.
	reserved := make(map[wire.OutPoint]struct{}, len(req.Reserved))
	for _, op := range req.Reserved {
		reserved[op] = struct{}{}
	}
	var candidates []Utxo
	for _, utxo := range utxos.Utxos() {
		_, isSpent := spent[utxo.Outpoint]
		_, isReserved := reserved[utxo.Outpoint]
		if isSpent || isReserved {
			continue
		}
		candidates = append(candidates, utxo)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Value > candidates[j].Value
	})

	changeTerminal := descriptor.Terminal{
		Keychain: descriptor.KeychainInternal,
		Index:    utxos.NextIndex(descriptor.KeychainInternal, false),
	}
	changeSpk, err := d.ScriptPubKey(changeTerminal)
	if err != nil {
		return nil, err
	}

	var sumOut btcutil.Amount
	txOuts := make([]*wire.TxOut, 0, len(outputs)+1)
	for _, out := range outputs {
		sumOut += btcutil.Amount(out.txOut.Value)
		txOuts = append(txOuts, out.txOut)
	}

	var (
		fee    btcutil.Amount
		change btcutil.Amount
	)
	for {
		var sumIn btcutil.Amount
		for _, in := range inputs {
			sumIn += in.Value
		}

		withChange, err := estimateWeight(
			inputs, append(txOuts, wire.NewTxOut(0, changeSpk)),
		)
		if err != nil {
			return nil, err
		}
		fee = feeRate.FeeForWeight(withChange)
		if sumIn >= sumOut+fee+dustLimit(changeSpk) {
			change = sumIn - sumOut - fee
			break
		}

		withoutChange, err := estimateWeight(inputs, txOuts)
		if err != nil {
			return nil, err
		}
		fee = feeRate.FeeForWeight(withoutChange)
		if len(inputs) > 0 && sumIn >= sumOut+fee {
			fee = sumIn - sumOut
			break
		}

		if len(candidates) == 0 {
			return nil, fmt.Errorf("%w: have %v, need %v",
				ErrInsufficientFunds, sumIn, sumOut+fee)
		}
		inputs = append(inputs, candidates[0])
		candidates = candidates[1:]
	}

	if change > 0 {
		outputs = append(outputs, plannedOutput{
			txOut:    wire.NewTxOut(int64(change), changeSpk),
			terminal: &changeTerminal,
		})
	}

	tx := wire.NewMsgTx(2)
	for _, in := range inputs {
		tx.AddTxIn(wire.NewTxIn(&in.Outpoint, nil, nil))
	}
	for _, out := range outputs {
		tx.AddTxOut(out.txOut)
	}

	pkt, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		return nil, err
	}

	for i, in := range inputs {
		if err := o.fillInput(d, &pkt.Inputs[i], in); err != nil {
			return nil, err
		}
	}

	tmpl := &Template{
		Packet:          pkt,
		BeneficiaryVout: beneficiaryVout,
		Fee:             fee,
	}
	for vout, out := range outputs {
		if out.terminal == nil {
			continue
		}

		err := fillOutput(d, &pkt.Outputs[vout], *out.terminal)
		if err != nil {
			return nil, err
		}
		tmpl.Owned = append(tmpl.Owned, OwnedOutput{
			Vout:     uint32(vout),
			Terminal: *out.terminal,
		})

		if out.velocity != nil {
			err := rgbpsbt.SetVelocityHint(pkt, vout, *out.velocity)
			if err != nil {
				return nil, err
			}
		}
	}

	rgbpsbt.SetCloseMethod(pkt, d.Method)
	switch d.Method {
	case dbc.MethodOpret:
		err = rgbpsbt.SetOpretHost(pkt, opretHost)

	case dbc.MethodTapret:
		var host int
		host, err = dbc.FirstTaprootOutput(tx)
		if err == nil {
			err = rgbpsbt.SetTapretHost(pkt, host)
		}
	}
	if err != nil {
		return nil, err
	}
	rgbpsbt.SetModifiable(
		pkt, rgbpsbt.ModifiableInputs|rgbpsbt.ModifiableOutputs,
	)

	log.Debugf("Built template %v with %d input(s), %d output(s), fee %v",
		tx.TxHash(), len(tx.TxIn), len(tx.TxOut), fee)

	return tmpl, nil
}

// fillInput adds the spent output and key derivation of a wallet input.
func (o *Owner) fillInput(d *descriptor.Descr, pIn *psbt.PInput,
	utxo Utxo) error {

	pIn.WitnessUtxo = wire.NewTxOut(int64(utxo.Value), utxo.PkScript)

	key, err := d.Derive(utxo.Terminal)
	if err != nil {
		return err
	}
	fingerprint, path := d.Key.FullPath(utxo.Terminal)

	if !txscript.IsPayToTaproot(utxo.PkScript) {
		pIn.Bip32Derivation = []*psbt.Bip32Derivation{{
			PubKey:               key.SerializeCompressed(),
			MasterKeyFingerprint: fingerprint,
			Bip32Path:            path,
		}}
		return nil
	}

	pIn.SighashType = txscript.SigHashDefault
	pIn.TaprootInternalKey = schnorr.SerializePubKey(key)
	pIn.TaprootBip32Derivation = []*psbt.TaprootBip32Derivation{{
		XOnlyPubKey:          schnorr.SerializePubKey(key),
		MasterKeyFingerprint: fingerprint,
		Bip32Path:            path,
	}}

	tweak, err := tapretTweak(d, utxo)
	if err != nil {
		return err
	}
	if tweak != nil {
		leaf := tweak.TapLeaf()
		root := leaf.TapHash()
		pIn.TaprootMerkleRoot = root[:]
	}

	return nil
}

// fillOutput adds the key derivation of a wallet output.
func fillOutput(d *descriptor.Descr, pOut *psbt.POutput,
	t descriptor.Terminal) error {

	key, err := d.Derive(t)
	if err != nil {
		return err
	}
	fingerprint, path := d.Key.FullPath(t)

	if d.Method == dbc.MethodTapret {
		pOut.TaprootInternalKey = schnorr.SerializePubKey(key)
		pOut.TaprootBip32Derivation = []*psbt.TaprootBip32Derivation{{
			XOnlyPubKey:          schnorr.SerializePubKey(key),
			MasterKeyFingerprint: fingerprint,
			Bip32Path:            path,
		}}
		return nil
	}

	pOut.Bip32Derivation = []*psbt.Bip32Derivation{{
		PubKey:               key.SerializeCompressed(),
		MasterKeyFingerprint: fingerprint,
		Bip32Path:            path,
	}}
	return nil
}

// OutputTerminal returns the derivation terminal recorded for a PSBT output.
func OutputTerminal(pOut *psbt.POutput) (descriptor.Terminal, bool) {
	var path []uint32
	switch {
	case len(pOut.TaprootBip32Derivation) > 0:
		path = pOut.TaprootBip32Derivation[0].Bip32Path

	case len(pOut.Bip32Derivation) > 0:
		path = pOut.Bip32Derivation[0].Bip32Path
	}
	if len(path) < 2 {
		return descriptor.Terminal{}, false
	}

	return descriptor.Terminal{
		Keychain: path[len(path)-2],
		Index:    path[len(path)-1],
	}, true
}
