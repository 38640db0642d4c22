package contract

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"golang.org/x/exp/maps"
)

// Bundle is the set of transitions of one contract closing seals in the same
// witness transaction, together with the inputs each of them spends.
type Bundle struct {
	// ContractID is the contract all transitions belong to.
	ContractID ContractID

	// InputMap maps witness transaction input indexes to the operation
	// closing the seals defined at them.
	InputMap map[uint32]OpID

	// Known are the transitions of the bundle by operation id.
	Known map[OpID]*Transition
}

// NewBundle returns an empty bundle for the contract.
func NewBundle(id ContractID) *Bundle {
	return &Bundle{
		ContractID: id,
		InputMap:   make(map[uint32]OpID),
		Known:      make(map[OpID]*Transition),
	}
}

// Add adds the transition consuming the given witness inputs. A transition
// already known is merged with the new one.
func (b *Bundle) Add(t *Transition, vins ...uint32) error {
	if t.ContractID != b.ContractID {
		return fmt.Errorf("transition of contract %v added to bundle "+
			"of contract %v", t.ContractID, b.ContractID)
	}

	opid := t.OpID()
	for _, vin := range vins {
		if prev, ok := b.InputMap[vin]; ok && prev != opid {
			return fmt.Errorf("input %d already consumed by %v", vin,
				prev)
		}
		b.InputMap[vin] = opid
	}

	if prev, ok := b.Known[opid]; ok {
		merged, err := prev.MergeReveal(t)
		if err != nil {
			return err
		}
		b.Known[opid] = merged
		return nil
	}

	b.Known[opid] = t.Copy()
	return nil
}

// Vins returns the sorted witness inputs consumed by the operation.
func (b *Bundle) Vins(op OpID) []uint32 {
	var vins []uint32
	for vin, opid := range b.InputMap {
		if opid == op {
			vins = append(vins, vin)
		}
	}
	sort.Slice(vins, func(i, j int) bool { return vins[i] < vins[j] })
	return vins
}

// Transitions returns the known transitions ordered by operation id.
func (b *Bundle) Transitions() []*Transition {
	ids := maps.Keys(b.Known)
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})

	transitions := make([]*Transition, 0, len(ids))
	for _, id := range ids {
		transitions = append(transitions, b.Known[id])
	}
	return transitions
}

// BundleID returns the tagged hash of the input map in input order.
func (b *Bundle) BundleID() BundleID {
	vins := maps.Keys(b.InputMap)
	sort.Slice(vins, func(i, j int) bool { return vins[i] < vins[j] })

	var buf bytes.Buffer
	buf.Write(b.ContractID[:])
	for _, vin := range vins {
		var vinBytes [4]byte
		binary.BigEndian.PutUint32(vinBytes[:], vin)
		opid := b.InputMap[vin]

		buf.Write(vinBytes[:])
		buf.Write(opid[:])
	}

	return BundleID(*chainhash.TaggedHash(bundleIDTag, buf.Bytes()))
}

// IsComplete returns true if every operation in the input map is known.
func (b *Bundle) IsComplete() bool {
	for _, opid := range b.InputMap {
		if _, ok := b.Known[opid]; !ok {
			return false
		}
	}
	return true
}
