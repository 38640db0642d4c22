package contract

import (
	"fmt"

	"github.com/lightninglabs/rgb/seal"
)

// StateKind is the kind of value carried by an assignment.
type StateKind uint8

const (
	// StateVoid is a state without value.
	StateVoid StateKind = 0

	// StateFungible is a fungible amount.
	StateFungible StateKind = 1
)

// State is the value owned by a seal.
type State struct {
	Kind   StateKind
	Amount uint64
}

// Amount returns a fungible state of the given value.
func Amount(v uint64) State {
	return State{Kind: StateFungible, Amount: v}
}

// Void returns a state without value.
func Void() State {
	return State{Kind: StateVoid}
}

// IsFungible returns true for fungible amounts.
func (s State) IsFungible() bool {
	return s.Kind == StateFungible
}

// String returns the value in text form.
func (s State) String() string {
	if s.Kind == StateVoid {
		return "~"
	}
	return fmt.Sprintf("%d", s.Amount)
}

// AssignSeal is the seal of an assignment, either revealed or known only by
// its auth token.
type AssignSeal struct {
	// Revealed is set when the full seal is known.
	Revealed *seal.Seal

	// Concealed is the auth token of the seal. Only meaningful when
	// Revealed is nil.
	Concealed seal.AuthToken
}

// Revealed wraps a known seal.
func Revealed(s seal.Seal) AssignSeal {
	return AssignSeal{Revealed: &s}
}

// Concealed wraps an auth token.
func Concealed(token seal.AuthToken) AssignSeal {
	return AssignSeal{Concealed: token}
}

// IsRevealed returns true if the full seal is known.
func (a AssignSeal) IsRevealed() bool {
	return a.Revealed != nil
}

// Token returns the auth token of the seal.
func (a AssignSeal) Token() seal.AuthToken {
	if a.Revealed != nil {
		return a.Revealed.AuthToken()
	}
	return a.Concealed
}

// Conceal returns the concealed form of the seal.
func (a AssignSeal) Conceal() AssignSeal {
	return Concealed(a.Token())
}

// String returns the seal literal or the auth token.
func (a AssignSeal) String() string {
	if a.Revealed != nil {
		return a.Revealed.String()
	}
	return a.Concealed.String()
}

// Assignment is a state owned by a seal.
type Assignment struct {
	Type  AssignmentType
	Seal  AssignSeal
	State State
}

// Conceal returns the assignment with its seal concealed.
func (a Assignment) Conceal() Assignment {
	return Assignment{
		Type:  a.Type,
		Seal:  a.Seal.Conceal(),
		State: a.State,
	}
}

// SumFungible adds up the fungible amounts of the assignments of the given
// type.
func SumFungible(assignments []Assignment,
	typ AssignmentType) (uint64, error) {

	var total uint64
	for _, a := range assignments {
		if a.Type != typ || !a.State.IsFungible() {
			continue
		}

		next := total + a.State.Amount
		if next < total {
			return 0, ErrAmountOverflow
		}
		total = next
	}

	return total, nil
}
