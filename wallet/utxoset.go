package wallet

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"sort"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/rgb/descriptor"
	"github.com/lightningnetwork/lnd/tlv"
	"golang.org/x/exp/maps"
)

// UtxoSet is the set of outputs controlled by a wallet together with the
// next unused derivation index of every keychain. It is safe for concurrent
// use.
type UtxoSet struct {
	mu sync.RWMutex

	set       map[wire.OutPoint]Utxo
	nextIndex map[uint32]uint32
}

// NewUtxoSet returns an empty UTXO set.
func NewUtxoSet() *UtxoSet {
	return &UtxoSet{
		set:       make(map[wire.OutPoint]Utxo),
		nextIndex: make(map[uint32]uint32),
	}
}

// Len returns the number of outputs in the set.
func (u *UtxoSet) Len() int {
	u.mu.RLock()
	defer u.mu.RUnlock()

	return len(u.set)
}

// Has returns true if the outpoint is in the set.
func (u *UtxoSet) Has(op wire.OutPoint) bool {
	u.mu.RLock()
	defer u.mu.RUnlock()

	_, ok := u.set[op]
	return ok
}

// Get returns the output at the outpoint.
func (u *UtxoSet) Get(op wire.OutPoint) (Utxo, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()

	utxo, ok := u.set[op]
	return utxo, ok
}

// Insert adds or replaces an output.
func (u *UtxoSet) Insert(utxo Utxo) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.set[utxo.Outpoint] = utxo
}

// Remove removes the output at the outpoint and returns it.
func (u *UtxoSet) Remove(op wire.OutPoint) (Utxo, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()

	utxo, ok := u.set[op]
	delete(u.set, op)
	return utxo, ok
}

// Clear removes all outputs. Derivation indexes are kept.
func (u *UtxoSet) Clear() {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.set = make(map[wire.OutPoint]Utxo)
}

// Outpoints returns the outpoints of the set in canonical order.
func (u *UtxoSet) Outpoints() []wire.OutPoint {
	u.mu.RLock()
	ops := maps.Keys(u.set)
	u.mu.RUnlock()

	sortOutpoints(ops)
	return ops
}

// Utxos returns the outputs of the set in canonical order.
func (u *UtxoSet) Utxos() []Utxo {
	u.mu.RLock()
	utxos := maps.Values(u.set)
	u.mu.RUnlock()

	sort.Slice(utxos, func(i, j int) bool {
		return outpointLess(utxos[i].Outpoint, utxos[j].Outpoint)
	})
	return utxos
}

// Balance returns the total value of the set.
func (u *UtxoSet) Balance() btcutil.Amount {
	u.mu.RLock()
	defer u.mu.RUnlock()

	var total btcutil.Amount
	for _, utxo := range u.set {
		total += utxo.Value
	}
	return total
}

// NextIndex returns the next unused index of the keychain. If shift is set
// the index is marked as used.
func (u *UtxoSet) NextIndex(keychain uint32, shift bool) uint32 {
	u.mu.Lock()
	defer u.mu.Unlock()

	next := u.nextIndex[keychain]
	if shift && next < descriptor.MaxIndex {
		u.nextIndex[keychain] = next + 1
	}
	return next
}

// markUsed moves the next index of the keychain past index.
func (u *UtxoSet) markUsed(t descriptor.Terminal) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if t.Index >= u.nextIndex[t.Keychain] && t.Index < descriptor.MaxIndex {
		u.nextIndex[t.Keychain] = t.Index + 1
	}
}

func outpointLess(a, b wire.OutPoint) bool {
	if c := bytes.Compare(a.Hash[:], b.Hash[:]); c != 0 {
		return c < 0
	}
	return a.Index < b.Index
}

func sortOutpoints(ops []wire.OutPoint) {
	sort.Slice(ops, func(i, j int) bool {
		return outpointLess(ops[i], ops[j])
	})
}

func encodeOutpoint(w io.Writer, op wire.OutPoint) error {
	if _, err := w.Write(op.Hash[:]); err != nil {
		return err
	}
	var buf [8]byte
	return tlv.EUint32T(w, op.Index, &buf)
}

func decodeOutpoint(r io.Reader) (wire.OutPoint, error) {
	var op wire.OutPoint
	if _, err := io.ReadFull(r, op.Hash[:]); err != nil {
		return op, err
	}
	var buf [8]byte
	err := tlv.DUint32(r, &op.Index, &buf, 4)
	return op, err
}

// encodeUtxo writes the value, terminal and script of the output.
func encodeUtxo(w io.Writer, utxo Utxo) error {
	var buf [8]byte
	if err := tlv.EUint64T(w, uint64(utxo.Value), &buf); err != nil {
		return err
	}
	if err := tlv.EUint32T(w, utxo.Terminal.Keychain, &buf); err != nil {
		return err
	}
	if err := tlv.EUint32T(w, utxo.Terminal.Index, &buf); err != nil {
		return err
	}
	if err := wire.WriteVarBytes(w, 0, utxo.PkScript); err != nil {
		return err
	}
	return nil
}

func decodeUtxo(r io.Reader, op wire.OutPoint) (Utxo, error) {
	var (
		buf   [8]byte
		value uint64
		utxo  = Utxo{Outpoint: op}
	)
	if err := tlv.DUint64(r, &value, &buf, 8); err != nil {
		return utxo, err
	}
	utxo.Value = btcutil.Amount(value)

	err := tlv.DUint32(r, &utxo.Terminal.Keychain, &buf, 4)
	if err != nil {
		return utxo, err
	}
	if err := tlv.DUint32(r, &utxo.Terminal.Index, &buf, 4); err != nil {
		return utxo, err
	}

	utxo.PkScript, err = wire.ReadVarBytes(
		r, 0, wire.MaxMessagePayload, "pkscript",
	)
	return utxo, err
}

func keychainKey(keychain uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], keychain)
	return b[:]
}

func keychainFromKey(k []byte) (uint32, error) {
	if len(k) != 4 {
		return 0, errors.New("invalid keychain key")
	}
	return binary.BigEndian.Uint32(k), nil
}
