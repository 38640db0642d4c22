package contract

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/rgb/dbc"
	"github.com/lightninglabs/rgb/mpc"
)

// Anchor binds the bundle of one contract to its witness transaction.
type Anchor struct {
	// WitnessTxid is the id of the transaction closing the seals.
	WitnessTxid chainhash.Hash

	// MPCProof proves the bundle id is committed to in the slot of the
	// contract.
	MPCProof *mpc.Proof

	// DBCProof proves the MPC commitment is embedded in the witness.
	DBCProof dbc.Proof
}

// Method returns the close method of the anchor.
func (a *Anchor) Method() dbc.Method {
	return a.DBCProof.Method()
}

// Verify checks that the witness transaction commits to the bundle of the
// contract.
func (a *Anchor) Verify(id ContractID, bundle BundleID,
	witness *wire.MsgTx) error {

	if txid := witness.TxHash(); txid != a.WitnessTxid {
		return fmt.Errorf("%w: anchor is for witness %v, got %v",
			dbc.ErrCommitmentMismatch, a.WitnessTxid, txid)
	}

	commitment, err := a.MPCProof.Root(id.ProtocolID(), bundle.Message())
	if err != nil {
		return err
	}

	return a.DBCProof.Verify(commitment, witness)
}

// AnchoredBundle is a bundle together with its anchor.
type AnchoredBundle struct {
	Anchor *Anchor
	Bundle *Bundle
}

// WitnessAnchor is the commitment of a witness transaction to the bundles of
// all contracts it closes seals of.
type WitnessAnchor struct {
	// Txid is the witness transaction id after the commitment.
	Txid chainhash.Hash

	// DBCProof proves the embedding of the MPC root.
	DBCProof dbc.Proof

	// Tree is the MPC tree over all bundles.
	Tree *mpc.Tree
}

// Commitment returns the MPC root embedded in the witness.
func (w *WitnessAnchor) Commitment() mpc.Commitment {
	return w.Tree.Root()
}

// Anchor extracts the anchor of a single contract.
func (w *WitnessAnchor) Anchor(id ContractID) (*Anchor, error) {
	proof, err := w.Tree.Proof(id.ProtocolID())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoAnchorProof, err)
	}

	return &Anchor{
		WitnessTxid: w.Txid,
		MPCProof:    proof,
		DBCProof:    w.DBCProof,
	}, nil
}

// Contracts returns the contracts committed to by the witness.
func (w *WitnessAnchor) Contracts() []ContractID {
	protocols := w.Tree.Protocols()
	ids := make([]ContractID, len(protocols))
	for i := range protocols {
		ids[i] = ContractID(protocols[i])
	}
	return ids
}
