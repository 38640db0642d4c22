package contract

import (
	"bytes"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightninglabs/rgb/fn"
	"github.com/lightninglabs/rgb/seal"
)

// Genesis is the operation creating a contract.
type Genesis struct {
	// Iface is the interface the contract implements, e.g. RGB20.
	Iface string

	// Ticker is the short name of the issued asset.
	Ticker string

	// Name is the full name of the issued asset.
	Name string

	// Velocity is the velocity class of the contract's allocations.
	Velocity VelocityHint

	// Assignments are the issued allocations.
	Assignments []Assignment
}

// Conceal returns a copy with all seals concealed.
func (g *Genesis) Conceal() *Genesis {
	c := *g
	c.Assignments = concealAll(g.Assignments)
	return &c
}

// ContractID returns the tagged hash of the concealed genesis.
func (g *Genesis) ContractID() ContractID {
	var b bytes.Buffer
	if err := g.Conceal().Encode(&b); err != nil {
		panic(err)
	}

	return ContractID(*chainhash.TaggedHash(contractIDTag, b.Bytes()))
}

// OpID returns the operation id of the genesis, which is the contract id.
func (g *Genesis) OpID() OpID {
	return OpID(g.ContractID())
}

// Issued returns the total fungible amount issued.
func (g *Genesis) Issued() (uint64, error) {
	return SumFungible(g.Assignments, AssignmentAsset)
}

// Transition is a state transition of a contract: it closes the seals of
// its inputs and assigns state to new seals.
type Transition struct {
	// ContractID is the contract the transition belongs to.
	ContractID ContractID

	// Type is the transition type.
	Type TransitionType

	// Inputs are the assignments closed by the transition.
	Inputs []Opout

	// Assignments are the newly created assignments.
	Assignments []Assignment

	// Nonce makes otherwise identical transitions distinct.
	Nonce uint64
}

// Conceal returns a copy with all seals concealed.
func (t *Transition) Conceal() *Transition {
	c := *t
	c.Inputs = fn.CopySlice(t.Inputs)
	c.Assignments = concealAll(t.Assignments)
	return &c
}

// Copy returns a deep copy of the transition.
func (t *Transition) Copy() *Transition {
	c := *t
	c.Inputs = fn.CopySlice(t.Inputs)
	c.Assignments = make([]Assignment, len(t.Assignments))
	for i, a := range t.Assignments {
		c.Assignments[i] = a
		if a.Seal.Revealed != nil {
			s := *a.Seal.Revealed
			c.Assignments[i].Seal = Revealed(s)
		}
	}
	return &c
}

// OpID returns the tagged hash of the concealed transition, so revealed and
// concealed forms of one transition share an id.
func (t *Transition) OpID() OpID {
	var b bytes.Buffer
	if err := t.Conceal().Encode(&b); err != nil {
		panic(err)
	}

	return OpID(*chainhash.TaggedHash(opIDTag, b.Bytes()))
}

// Opout returns the pointer to the assignment at index no.
func (t *Transition) Opout(no int) Opout {
	return Opout{
		Op:   t.OpID(),
		Type: t.Assignments[no].Type,
		No:   uint16(no),
	}
}

// MergeReveal merges the revealed seals of other into a copy of t. The two
// transitions must have the same operation id.
func (t *Transition) MergeReveal(other *Transition) (*Transition, error) {
	if t.OpID() != other.OpID() {
		return nil, ErrUnrelatedTransition
	}

	merged := t.Copy()
	for i := range merged.Assignments {
		if merged.Assignments[i].Seal.IsRevealed() {
			continue
		}

		theirs := other.Assignments[i].Seal
		if theirs.IsRevealed() {
			merged.Assignments[i].Seal = Revealed(*theirs.Revealed)
		}
	}

	return merged, nil
}

// RevealedSeals returns the revealed seals of the transition by assignment
// index.
func (t *Transition) RevealedSeals() map[int]seal.Seal {
	seals := make(map[int]seal.Seal)
	for i, a := range t.Assignments {
		if a.Seal.IsRevealed() {
			seals[i] = *a.Seal.Revealed
		}
	}
	return seals
}

func concealAll(assignments []Assignment) []Assignment {
	if assignments == nil {
		return nil
	}

	concealed := make([]Assignment, len(assignments))
	for i, a := range assignments {
		concealed[i] = a.Conceal()
	}
	return concealed
}
