package rgbpsbt

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/davecgh/go-spew/spew"
	"github.com/lightninglabs/rgb/contract"
	"github.com/lightninglabs/rgb/dbc"
)

// PushTransition adds the transition to the global map of the packet. If a
// transition with the same operation id is already present, the two are
// merged so that every seal revealed by either of them stays revealed.
func PushTransition(pkt *psbt.Packet, t *contract.Transition) error {
	opID := t.OpID()
	key := ProprietaryKey(NamespaceRGB, RgbGlobalTransition, opID[:])

	merged := t
	existing, err := findCustomFieldsByKey(pkt.Unknowns, key)
	if err == nil {
		prev, err := decodeTransition(existing.Value)
		if err != nil {
			return err
		}

		merged, err = prev.MergeReveal(t)
		if err != nil {
			return err
		}
	}

	var b bytes.Buffer
	if err := merged.Encode(&b); err != nil {
		return err
	}
	pkt.Unknowns = setCustomField(pkt.Unknowns, key, b.Bytes())

	log.Tracef("Pushed transition %v: %v", opID, spew.Sdump(merged))

	return nil
}

func decodeTransition(value []byte) (*contract.Transition, error) {
	var t contract.Transition
	if err := t.Decode(bytes.NewReader(value)); err != nil {
		return nil, fmt.Errorf("%w: transition: %v", ErrMalformed, err)
	}
	return &t, nil
}

// Transitions returns all transitions of the packet keyed by operation id.
func Transitions(pkt *psbt.Packet) (map[contract.OpID]*contract.Transition,
	error) {

	fields := findFields(pkt.Unknowns, NamespaceRGB, RgbGlobalTransition)
	transitions := make(
		map[contract.OpID]*contract.Transition, len(fields),
	)
	for _, f := range fields {
		if len(f.keyData) != len(contract.OpID{}) {
			return nil, fmt.Errorf("%w: transition key of %d bytes",
				ErrMalformed, len(f.keyData))
		}

		t, err := decodeTransition(f.value)
		if err != nil {
			return nil, err
		}

		var opID contract.OpID
		copy(opID[:], f.keyData)
		if t.OpID() != opID {
			return nil, fmt.Errorf("%w: transition %v stored under "+
				"%v", ErrMalformed, t.OpID(), opID)
		}

		transitions[opID] = t
	}

	return transitions, nil
}

// SetConsumer records that the input is spent by the given operation of the
// contract.
func SetConsumer(pkt *psbt.Packet, vin int, id contract.ContractID,
	opID contract.OpID) error {

	if vin < 0 || vin >= len(pkt.Inputs) {
		return fmt.Errorf("%w: input %d", ErrIndexOutOfRange, vin)
	}

	pIn := &pkt.Inputs[vin]
	key := ProprietaryKey(NamespaceRGB, RgbInputConsumer, id[:])
	existing, err := findCustomFieldsByKey(pIn.Unknowns, key)
	if err == nil {
		if !bytes.Equal(existing.Value, opID[:]) {
			return fmt.Errorf("%w: input %d of contract %v consumed "+
				"by %x", ErrAlreadySet, vin, id, existing.Value)
		}
		return nil
	}

	pIn.Unknowns = setCustomField(pIn.Unknowns, key, opID[:])

	return nil
}

// Consumers returns the operations consuming the input, keyed by contract.
func Consumers(pkt *psbt.Packet, vin int) (map[contract.ContractID]contract.OpID,
	error) {

	if vin < 0 || vin >= len(pkt.Inputs) {
		return nil, fmt.Errorf("%w: input %d", ErrIndexOutOfRange, vin)
	}

	fields := findFields(
		pkt.Inputs[vin].Unknowns, NamespaceRGB, RgbInputConsumer,
	)
	consumers := make(map[contract.ContractID]contract.OpID, len(fields))
	for _, f := range fields {
		var (
			id   contract.ContractID
			opID contract.OpID
		)
		if len(f.keyData) != len(id) || len(f.value) != len(opID) {
			return nil, fmt.Errorf("%w: consumer of input %d",
				ErrMalformed, vin)
		}
		copy(id[:], f.keyData)
		copy(opID[:], f.value)

		consumers[id] = opID
	}

	return consumers, nil
}

// Bundles groups the transitions of the packet into one bundle per contract,
// mapping every consumed input to its operation. Every transition of the
// packet must consume at least one input.
func Bundles(pkt *psbt.Packet) (map[contract.ContractID]*contract.Bundle,
	error) {

	transitions, err := Transitions(pkt)
	if err != nil {
		return nil, err
	}

	bundles := make(map[contract.ContractID]*contract.Bundle)
	bundle := func(id contract.ContractID) *contract.Bundle {
		b, ok := bundles[id]
		if !ok {
			b = contract.NewBundle(id)
			bundles[id] = b
		}
		return b
	}

	for vin := range pkt.Inputs {
		consumers, err := Consumers(pkt, vin)
		if err != nil {
			return nil, err
		}

		for id, opID := range consumers {
			t, ok := transitions[opID]
			if !ok || t.ContractID != id {
				return nil, fmt.Errorf("%w: contract %v input %d "+
					"consumed by unknown operation %v",
					ErrIncompleteContract, id, vin, opID)
			}

			err := bundle(id).Add(t, uint32(vin))
			if err != nil {
				return nil, err
			}
		}
	}

	// The bundle id only commits to consumed inputs, so a transition
	// consuming none of them can't be anchored.
	for opID, t := range transitions {
		b, ok := bundles[t.ContractID]
		if ok {
			_, ok = b.Known[opID]
		}
		if !ok {
			return nil, fmt.Errorf("%w: %v", ErrUnconsumedTransition,
				opID)
		}
	}

	return bundles, nil
}

// SetCloseMethod sets the close method used to commit to the bundles.
func SetCloseMethod(pkt *psbt.Packet, method dbc.Method) {
	key := ProprietaryKey(NamespaceRGB, RgbGlobalCloseMethod, nil)
	pkt.Unknowns = setCustomField(
		pkt.Unknowns, key, []byte{byte(method)},
	)
}

// CloseMethod returns the close method of the packet.
func CloseMethod(pkt *psbt.Packet) (dbc.Method, error) {
	key := ProprietaryKey(NamespaceRGB, RgbGlobalCloseMethod, nil)
	f, err := findCustomFieldsByKey(pkt.Unknowns, key)
	if err != nil {
		return 0, ErrCloseMethodUnset
	}
	if len(f.Value) != 1 {
		return 0, fmt.Errorf("%w: %x", ErrCloseMethodInvalid, f.Value)
	}

	method, err := dbc.MethodFromByte(f.Value[0])
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCloseMethodInvalid, err)
	}

	return method, nil
}

// SetVelocityHint sets the velocity hint of the output.
func SetVelocityHint(pkt *psbt.Packet, vout int,
	hint contract.VelocityHint) error {

	if vout < 0 || vout >= len(pkt.Outputs) {
		return fmt.Errorf("%w: output %d", ErrIndexOutOfRange, vout)
	}

	pOut := &pkt.Outputs[vout]
	key := ProprietaryKey(NamespaceRGB, RgbOutputVelocity, nil)
	pOut.Unknowns = setCustomField(pOut.Unknowns, key, []byte{byte(hint)})

	return nil
}

// VelocityHint returns the velocity hint of the output and whether one is
// set. Unknown hint values read as unspecified.
func VelocityHint(pkt *psbt.Packet, vout int) (contract.VelocityHint, bool) {
	if vout < 0 || vout >= len(pkt.Outputs) {
		return contract.VelocityUnspecified, false
	}

	key := ProprietaryKey(NamespaceRGB, RgbOutputVelocity, nil)
	f, err := findCustomFieldsByKey(pkt.Outputs[vout].Unknowns, key)
	if err != nil || len(f.Value) != 1 {
		return contract.VelocityUnspecified, false
	}

	return contract.VelocityFromByte(f.Value[0]), true
}
