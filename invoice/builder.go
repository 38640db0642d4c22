package invoice

import (
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightninglabs/rgb/contract"
	"github.com/lightninglabs/rgb/fn"
)

// IfaceRGB20 is the interface of fungible assets.
const IfaceRGB20 = "RGB20"

// Builder assembles an invoice.
type Builder struct {
	inv Invoice
}

// NewBuilder starts an invoice paying to the beneficiary.
func NewBuilder(beneficiary Beneficiary) *Builder {
	return &Builder{
		inv: Invoice{Beneficiary: beneficiary},
	}
}

// NewRGB20Builder starts an invoice for an amount of a fungible asset.
func NewRGB20Builder(id contract.ContractID, beneficiary Beneficiary,
	amount uint64) *Builder {

	return NewBuilder(beneficiary).
		SetContract(id).
		SetIface(IfaceRGB20).
		SetAmount(amount)
}

func (b *Builder) SetContract(id contract.ContractID) *Builder {
	b.inv.Contract = &id
	return b
}

func (b *Builder) SetIface(name string) *Builder {
	b.inv.Iface = name
	return b
}

func (b *Builder) SetAmount(amount uint64) *Builder {
	b.inv.Amount = &amount
	return b
}

func (b *Builder) SetNetwork(params *chaincfg.Params) *Builder {
	b.inv.Network = params
	return b
}

// SetExpiry sets the expiry, truncated to the second.
func (b *Builder) SetExpiry(expiry time.Time) *Builder {
	expiry = time.Unix(expiry.Unix(), 0)
	b.inv.Expiry = &expiry
	return b
}

// AddEndpoint adds a transport the consignment may be sent over.
func (b *Builder) AddEndpoint(t Transport) *Builder {
	b.inv.Endpoints = append(b.inv.Endpoints, t)
	return b
}

// Build validates and returns the invoice.
func (b *Builder) Build() (*Invoice, error) {
	inv := b.inv

	if inv.Iface != "" && !ifaceName.MatchString(inv.Iface) {
		return nil, ErrInvalidIface
	}
	if inv.Contract != nil && inv.Iface == "" {
		return nil, ErrContractNoIface
	}

	addr := inv.Beneficiary.Address
	switch {
	case inv.Beneficiary.Token == nil && addr == nil:
		return nil, ErrInvalidBeneficiary

	case addr != nil && inv.Network == nil:
		for _, n := range networks {
			if addr.IsForNet(n.params) {
				inv.Network = n.params
				break
			}
		}

	case addr != nil && !addr.IsForNet(inv.Network):
		return nil, &NetworkMismatchError{
			Address: addr.EncodeAddress(),
			Network: NetName(inv.Network),
		}
	}

	inv.Endpoints = fn.CopySlice(inv.Endpoints)
	return &inv, nil
}
