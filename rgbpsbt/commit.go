package rgbpsbt

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/lightninglabs/rgb/contract"
	"github.com/lightninglabs/rgb/dbc"
	"github.com/lightninglabs/rgb/mpc"
)

var modifiableKey = []byte{PsbtKeyTypeGlobalTxModifiable}

// IsModifiable returns true if inputs or outputs may still be added to the
// packet.
func IsModifiable(pkt *psbt.Packet) bool {
	f, err := findCustomFieldsByKey(pkt.Unknowns, modifiableKey)
	if err != nil || len(f.Value) != 1 {
		return false
	}

	return f.Value[0]&(ModifiableInputs|ModifiableOutputs) != 0
}

// SetModifiable sets the modifiable flags of the packet.
func SetModifiable(pkt *psbt.Packet, flags byte) {
	pkt.Unknowns = setCustomField(pkt.Unknowns, modifiableKey, []byte{flags})
}

// Lock clears the modifiable flags so the transaction can be committed to.
func Lock(pkt *psbt.Packet) {
	SetModifiable(pkt, 0)
}

func setHost(pkt *psbt.Packet, vout int, namespace []byte,
	subtype uint64) error {

	if vout < 0 || vout >= len(pkt.Outputs) {
		return fmt.Errorf("%w: output %d", ErrIndexOutOfRange, vout)
	}

	pOut := &pkt.Outputs[vout]
	key := ProprietaryKey(namespace, subtype, nil)
	pOut.Unknowns = setCustomField(pOut.Unknowns, key, nil)

	return nil
}

func findHost(pkt *psbt.Packet, namespace []byte, subtype uint64) (int,
	error) {

	key := ProprietaryKey(namespace, subtype, nil)
	host := -1
	for idx := range pkt.Outputs {
		_, err := findCustomFieldsByKey(pkt.Outputs[idx].Unknowns, key)
		if err != nil {
			continue
		}

		if host >= 0 {
			return 0, dbc.ErrMultipleHosts
		}
		host = idx
	}

	if host < 0 {
		return 0, dbc.ErrNoHost
	}

	return host, nil
}

// SetOpretHost marks the output as the host of an opret commitment.
func SetOpretHost(pkt *psbt.Packet, vout int) error {
	return setHost(pkt, vout, NamespaceOpret, OpretOutputHost)
}

// OpretHost returns the output marked as opret host.
func OpretHost(pkt *psbt.Packet) (int, error) {
	return findHost(pkt, NamespaceOpret, OpretOutputHost)
}

// SetTapretHost marks the output as the host of a tapret commitment.
func SetTapretHost(pkt *psbt.Packet, vout int) error {
	return setHost(pkt, vout, NamespaceTapret, TapretOutputHost)
}

// TapretHost returns the output marked as tapret host.
func TapretHost(pkt *psbt.Packet) (int, error) {
	return findHost(pkt, NamespaceTapret, TapretOutputHost)
}

// IsCommitted returns true if the packet already carries an MPC commitment.
func IsCommitted(pkt *psbt.Packet) bool {
	key := ProprietaryKey(NamespaceMPC, MPCGlobalCommitment, nil)
	_, err := findCustomFieldsByKey(pkt.Unknowns, key)
	return err == nil
}

// Commit builds the MPC tree over the bundles of the packet and embeds its
// root into the witness transaction with the close method of the packet.
// The packet must be locked first.
func Commit(pkt *psbt.Packet) (*contract.WitnessAnchor, error) {
	if IsCommitted(pkt) {
		return nil, dbc.ErrAlreadyCommitted
	}
	if IsModifiable(pkt) {
		return nil, dbc.ErrModifiable
	}

	method, err := CloseMethod(pkt)
	if err != nil {
		return nil, err
	}

	bundles, err := Bundles(pkt)
	if err != nil {
		return nil, err
	}

	builder := mpc.NewBuilder()
	for id, bundle := range bundles {
		if !bundle.IsComplete() {
			return nil, fmt.Errorf("%w: %v", ErrIncompleteContract,
				id)
		}

		err := builder.Add(id.ProtocolID(), bundle.BundleID().Message())
		if err != nil {
			return nil, err
		}
	}
	tree, err := builder.Build()
	if err != nil {
		return nil, err
	}
	root := tree.Root()

	var proof dbc.Proof
	switch method {
	case dbc.MethodOpret:
		proof, err = commitOpret(pkt, root)

	case dbc.MethodTapret:
		proof, err = commitTapret(pkt, root)

	default:
		err = fmt.Errorf("%w: %v", ErrCloseMethodInvalid, method)
	}
	if err != nil {
		return nil, err
	}

	for _, id := range tree.Protocols() {
		msg, _ := tree.Message(id)
		key := ProprietaryKey(NamespaceMPC, MPCGlobalMessage, id[:])
		pkt.Unknowns = setCustomField(pkt.Unknowns, key, msg[:])
	}
	key := ProprietaryKey(NamespaceMPC, MPCGlobalCommitment, nil)
	pkt.Unknowns = setCustomField(pkt.Unknowns, key, root[:])

	anchor := &contract.WitnessAnchor{
		Txid:     pkt.UnsignedTx.TxHash(),
		DBCProof: proof,
		Tree:     tree,
	}

	log.Infof("Committed %d contract(s) to witness %v with %v, root %v",
		tree.Len(), anchor.Txid, method, root)

	return anchor, nil
}

func commitOpret(pkt *psbt.Packet, root mpc.Commitment) (dbc.Proof, error) {
	host, err := OpretHost(pkt)
	if err != nil {
		return nil, err
	}

	// The flagged output must be the only OP_RETURN of the transaction.
	txHost, err := dbc.FindOpretHost(pkt.UnsignedTx)
	if err != nil {
		return nil, err
	}
	if txHost != host {
		return nil, fmt.Errorf("%w: output %d flagged as host but %d is "+
			"the OP_RETURN output", dbc.ErrNoHost, host, txHost)
	}

	proof, err := dbc.EmbedOpret(pkt.UnsignedTx, root)
	if err != nil {
		return nil, err
	}

	key := ProprietaryKey(NamespaceOpret, OpretGlobalCommitment, nil)
	pkt.Unknowns = setCustomField(pkt.Unknowns, key, root[:])

	return proof, nil
}

func commitTapret(pkt *psbt.Packet, root mpc.Commitment) (dbc.Proof, error) {
	host, err := TapretHost(pkt)
	if err != nil {
		return nil, err
	}

	pOut := &pkt.Outputs[host]
	if len(pOut.TaprootInternalKey) == 0 {
		return nil, fmt.Errorf("%w: host output %d has no internal key",
			dbc.ErrTapretRequired, host)
	}
	internal, err := schnorr.ParsePubKey(pOut.TaprootInternalKey)
	if err != nil {
		return nil, fmt.Errorf("%w: internal key: %v", ErrMalformed,
			err)
	}

	proof, err := dbc.EmbedTapret(pkt.UnsignedTx, host, internal, root, 0)
	if err != nil {
		return nil, err
	}

	commitment := proof.Commitment(root)
	key := ProprietaryKey(NamespaceTapret, TapretOutputCommitment, nil)
	pOut.Unknowns = setCustomField(pOut.Unknowns, key, commitment[:])

	var b bytes.Buffer
	if err := dbc.EncodeProof(&b, proof); err != nil {
		return nil, err
	}
	key = ProprietaryKey(NamespaceTapret, TapretOutputProof, nil)
	pOut.Unknowns = setCustomField(pOut.Unknowns, key, b.Bytes())

	return proof, nil
}
