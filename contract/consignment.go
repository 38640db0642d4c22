package contract

import (
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/rgb/seal"
	"github.com/lightningnetwork/lnd/tlv"
)

const (
	// ConsignmentV0 is the only known consignment version.
	ConsignmentV0 uint8 = 0
)

// Consignment is the exportable history of a contract proving the state
// owned by its terminal seals.
type Consignment struct {
	// Version is the encoding version.
	Version uint8

	// Genesis is the contract genesis.
	Genesis *Genesis

	// Bundles are the anchored bundles in the order they were mined or
	// created, ancestors first.
	Bundles []AnchoredBundle

	// Terminals are the auth tokens of the seals the consignment is
	// addressed to.
	Terminals []seal.AuthToken

	// Witnesses are inline copies of witness transactions that may not
	// be known to the receiver yet.
	Witnesses []*wire.MsgTx
}

// ContractID returns the id of the consigned contract.
func (c *Consignment) ContractID() ContractID {
	return c.Genesis.ContractID()
}

// Witness returns the inline witness transaction with the given id.
func (c *Consignment) Witness(txid chainhash.Hash) (*wire.MsgTx, bool) {
	for _, tx := range c.Witnesses {
		if tx.TxHash() == txid {
			return tx, true
		}
	}
	return nil, false
}

// Transitions returns every transition of the consignment in bundle order.
func (c *Consignment) Transitions() []*Transition {
	var transitions []*Transition
	for _, ab := range c.Bundles {
		transitions = append(transitions, ab.Bundle.Transitions()...)
	}
	return transitions
}

// EncodeRecords returns the tlv records of the consignment.
func (c *Consignment) EncodeRecords() []tlv.Record {
	return []tlv.Record{
		newVersionRecord(&c.Version),
		newGenesisRecord(&c.Genesis),
		newAnchoredBundlesRecord(&c.Bundles),
		newTokensRecord(ConsignmentTerminals, &c.Terminals),
		newWitnessesRecord(&c.Witnesses),
	}
}

// Encode writes the consignment as a tlv stream.
func (c *Consignment) Encode(w io.Writer) error {
	stream, err := tlv.NewStream(c.EncodeRecords()...)
	if err != nil {
		return err
	}
	return stream.Encode(w)
}

// Decode reads a consignment from a tlv stream.
func (c *Consignment) Decode(r io.Reader) error {
	stream, err := tlv.NewStream(c.EncodeRecords()...)
	if err != nil {
		return err
	}
	if err := decodeStrict(stream, r); err != nil {
		return err
	}

	if c.Version != ConsignmentV0 {
		return ErrUnknownVersion
	}

	return nil
}
