package transfer

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/rgb/coinselect"
	"github.com/lightninglabs/rgb/contract"
	"github.com/lightninglabs/rgb/descriptor"
	"github.com/lightninglabs/rgb/invoice"
	"github.com/lightninglabs/rgb/seal"
	"github.com/lightninglabs/rgb/wallet"
)

var (
	// ErrInvoiceExpired is returned when paying an invoice past its
	// expiry.
	ErrInvoiceExpired = errors.New("transfer: invoice expired")

	// ErrNoContract is returned for invoices not naming a contract.
	ErrNoContract = errors.New("transfer: invoice doesn't specify a " +
		"contract")

	// ErrNoIface is returned for invoices not naming an interface.
	ErrNoIface = errors.New("transfer: invoice doesn't specify an " +
		"interface")

	// ErrIfaceMismatch is returned when the contract doesn't implement
	// the interface of the invoice.
	ErrIfaceMismatch = errors.New("transfer: contract doesn't implement " +
		"the invoiced interface")

	// ErrNoAmount is returned for invoices not requesting a positive
	// fungible amount.
	ErrNoAmount = errors.New("transfer: invoice doesn't request an amount")

	// ErrNetworkMismatch is returned for invoices of another network than
	// the wallet.
	ErrNetworkMismatch = errors.New("transfer: invoice is for another " +
		"network")

	// ErrInsufficientState is returned when the wallet doesn't own
	// enough state to cover the invoice.
	ErrInsufficientState = coinselect.ErrInsufficientState

	// ErrNoBlankOrChange is returned when no output of any usable
	// velocity class can receive change or blank state.
	ErrNoBlankOrChange = errors.New("transfer: no output for change or " +
		"blank state")

	// ErrNoBeneficiaryOutput is returned when no output of the template
	// pays to the beneficiary address.
	ErrNoBeneficiaryOutput = errors.New("transfer: no output pays to the " +
		"beneficiary")
)

// State is a step of the payment pipeline.
type State uint8

const (
	// StateResolve checks the invoice and resolves the beneficiary.
	StateResolve State = iota

	// StateSelect picks the owned state spent by the main transition.
	StateSelect

	// StateCarryForward moves the state of other contracts sharing the
	// spent outputs with blank transitions.
	StateCarryForward

	// StateEmit builds the transaction template and pushes the
	// transitions into it.
	StateEmit

	// StateCommit embeds the commitment to the bundles.
	StateCommit

	// StateFinalize registers the transfer with the stock and the wallet
	// and builds the consignment.
	StateFinalize

	// StateComplete is the terminal state.
	StateComplete
)

// String returns the name of the state.
func (s State) String() string {
	switch s {
	case StateResolve:
		return "Resolve"
	case StateSelect:
		return "Select"
	case StateCarryForward:
		return "CarryForward"
	case StateEmit:
		return "Emit"
	case StateCommit:
		return "Commit"
	case StateFinalize:
		return "Finalize"
	case StateComplete:
		return "Complete"
	default:
		return fmt.Sprintf("<unknown state %d>", uint8(s))
	}
}

// Validator checks a consignment before it leaves the pipeline.
type Validator func(ctx context.Context, c *contract.Consignment) error

// Beneficiary is the receiver of the invoiced state as resolved against the
// invoice.
type Beneficiary struct {
	// Token is the auth token of a blinded beneficiary seal.
	Token *seal.AuthToken

	// Address is set when the state goes to an output of the witness
	// paying to the address.
	Address btcutil.Address
}

// Output is an assignment a transition will create.
type Output struct {
	Type  contract.AssignmentType
	State contract.State

	// Beneficiary is set for state assigned to the invoice beneficiary.
	Beneficiary bool

	// Velocity is the class of the wallet output receiving the state if
	// it stays with the wallet.
	Velocity contract.VelocityHint
}

// Input is an allocation closed by a transition.
type Input struct {
	Opout    contract.Opout
	Outpoint wire.OutPoint
	State    contract.State
}

// Draft is a transition before its output seals are known.
type Draft struct {
	ContractID contract.ContractID
	Type       contract.TransitionType

	// Inputs are the allocations closed by the transition.
	Inputs []Input

	// Outputs are the assignments created by the transition.
	Outputs []Output
}

// PaymentScript is the plan of a payment: the transitions to create and the
// outputs they spend, before any transaction exists.
type PaymentScript struct {
	// Invoice is the invoice paid.
	Invoice *invoice.Invoice

	// ContractID is the invoiced contract.
	ContractID contract.ContractID

	// Beneficiary receives the invoiced state.
	Beneficiary Beneficiary

	// Outpoints are the wallet outputs whose state is spent.
	Outpoints []wire.OutPoint

	// Main is the transition paying the invoice.
	Main *Draft

	// Blanks carry the state of other contracts found on Outpoints.
	Blanks []*Draft
}

// Velocities returns the velocity classes of the state that stays with the
// wallet.
func (p *PaymentScript) Velocities() []contract.VelocityHint {
	var classes []contract.VelocityHint
	for _, d := range append([]*Draft{p.Main}, p.Blanks...) {
		for _, out := range d.Outputs {
			if !out.Beneficiary {
				classes = append(classes, out.Velocity)
			}
		}
	}
	return classes
}

// PrefabBundle is the result of emitting a payment script into a template.
type PrefabBundle struct {
	// Transitions are the emitted transitions, the main one first.
	Transitions []*contract.Transition

	// Terminals are the auth tokens of the seals assigned to the
	// beneficiary.
	Terminals []seal.AuthToken

	// ChangeSeals are the seals kept by the wallet, as declared.
	ChangeSeals []seal.Seal

	// Owned are the template outputs paying to the wallet.
	Owned []wallet.OwnedOutput

	// BeneficiaryVout is the witness output of an address beneficiary,
	// -1 otherwise.
	BeneficiaryVout int

	// Fee is the bitcoin fee of the template.
	Fee btcutil.Amount
}

// ContractID returns the contract of the main transition.
func (p *PrefabBundle) ContractID() contract.ContractID {
	return p.Transitions[0].ContractID
}

// Payment is a completed payment ready to be signed and broadcast.
type Payment struct {
	// Packet is the committed witness transaction template.
	Packet *psbt.Packet

	// Prefab is the emitted bundle data.
	Prefab *PrefabBundle

	// Anchor is the commitment to the bundles in the witness.
	Anchor *contract.WitnessAnchor

	// Consignment proves the state of the beneficiary.
	Consignment *contract.Consignment

	// HostTerminal is the wallet terminal of a tapret host output.
	HostTerminal *descriptor.Terminal
}

// Terminals returns the auth tokens of the beneficiary seals.
func (p *Payment) Terminals() []seal.AuthToken {
	return p.Prefab.Terminals
}
