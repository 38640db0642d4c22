package stock

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/rgb/contract"
	"github.com/lightningnetwork/lnd/tlv"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// fileVersion is the version of the stock file encoding.
const fileVersion uint8 = 0

// fileState is the full content of a file backed stock.
type fileState struct {
	contracts   map[contract.ContractID]*contract.Genesis
	transitions map[contract.OpID]*contract.Transition
	bundles     []*contract.AnchoredBundle
	witnesses   map[chainhash.Hash]*Witness
	allocations map[contract.Opout]*Allocation
}

func newFileState() *fileState {
	return &fileState{
		contracts:   make(map[contract.ContractID]*contract.Genesis),
		transitions: make(map[contract.OpID]*contract.Transition),
		witnesses:   make(map[chainhash.Hash]*Witness),
		allocations: make(map[contract.Opout]*Allocation),
	}
}

// clone returns a copy that can be written without affecting s. Stored
// values are replaced, never mutated, so copying the maps is enough.
func (s *fileState) clone() *fileState {
	return &fileState{
		contracts:   maps.Clone(s.contracts),
		transitions: maps.Clone(s.transitions),
		bundles:     slices.Clone(s.bundles),
		witnesses:   maps.Clone(s.witnesses),
		allocations: maps.Clone(s.allocations),
	}
}

// FileBackend keeps the stock in memory and persists it to a single file on
// explicit Save and on Close.
type FileBackend struct {
	path string

	mu    sync.RWMutex
	state *fileState
	dirty bool
}

// NewFileBackend loads the stock file at path. A missing file yields an
// empty stock that is created on the first save.
func NewFileBackend(path string) (*FileBackend, error) {
	f := &FileBackend{
		path:  path,
		state: newFileState(),
	}

	file, err := os.Open(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		log.Infof("Creating new stock at %v", path)
		return f, nil

	case err != nil:
		return nil, err
	}
	defer file.Close()

	if err := f.state.decode(file); err != nil {
		return nil, fmt.Errorf("unable to read stock file %v: %w", path,
			err)
	}

	log.Infof("Loaded stock from %v with %d contract(s)", path,
		len(f.state.contracts))

	return f, nil
}

// NewMemBackend returns a backend that is never persisted.
func NewMemBackend() *FileBackend {
	return &FileBackend{
		state: newFileState(),
	}
}

// ExecTx runs txBody against a copy of the state that replaces the current
// state only if txBody succeeds.
func (f *FileBackend) ExecTx(_ context.Context, readOnly bool,
	txBody func(StoreTx) error) error {

	if readOnly {
		f.mu.RLock()
		defer f.mu.RUnlock()

		return txBody(&fileTx{state: f.state, readOnly: true})
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	next := f.state.clone()
	if err := txBody(&fileTx{state: next}); err != nil {
		return err
	}

	f.state = next
	f.dirty = true

	return nil
}

// Save writes the stock to its file if it changed since the last save.
func (f *FileBackend) Save() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.path == "" || !f.dirty {
		return nil
	}

	var b bytes.Buffer
	if err := f.state.encode(&b); err != nil {
		return err
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, b.Bytes(), 0600); err != nil {
		return err
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return err
	}

	f.dirty = false
	log.Debugf("Saved stock to %v", f.path)

	return nil
}

// Close saves the stock.
func (f *FileBackend) Close() error {
	return f.Save()
}

var _ Backend = (*FileBackend)(nil)

// fileTx implements StoreTx over a file state.
type fileTx struct {
	state    *fileState
	readOnly bool
}

func (t *fileTx) write() error {
	if t.readOnly {
		return ErrReadOnly
	}
	return nil
}

func (t *fileTx) FetchContract(_ context.Context,
	id contract.ContractID) (*contract.Genesis, error) {

	g, ok := t.state.contracts[id]
	if !ok {
		return nil, ErrUnknownContract
	}
	return g, nil
}

func (t *fileTx) FetchContractIDs(_ context.Context) ([]contract.ContractID,
	error) {

	return maps.Keys(t.state.contracts), nil
}

func (t *fileTx) UpsertContract(_ context.Context,
	g *contract.Genesis) error {

	if err := t.write(); err != nil {
		return err
	}
	t.state.contracts[g.ContractID()] = g
	return nil
}

func (t *fileTx) FetchTransition(_ context.Context,
	op contract.OpID) (*contract.Transition, error) {

	tr, ok := t.state.transitions[op]
	if !ok {
		return nil, ErrUnknownOperation
	}
	return tr, nil
}

func (t *fileTx) UpsertTransition(_ context.Context,
	tr *contract.Transition) error {

	if err := t.write(); err != nil {
		return err
	}
	t.state.transitions[tr.OpID()] = tr
	return nil
}

func (t *fileTx) UpsertAnchoredBundle(_ context.Context,
	ab *contract.AnchoredBundle) error {

	if err := t.write(); err != nil {
		return err
	}

	for i, prev := range t.state.bundles {
		if prev.Bundle.ContractID == ab.Bundle.ContractID &&
			prev.Anchor.WitnessTxid == ab.Anchor.WitnessTxid {

			t.state.bundles[i] = ab
			return nil
		}
	}

	t.state.bundles = append(t.state.bundles, ab)
	return nil
}

func (t *fileTx) FetchAnchoredBundles(_ context.Context,
	id contract.ContractID) ([]*contract.AnchoredBundle, error) {

	var bundles []*contract.AnchoredBundle
	for _, ab := range t.state.bundles {
		if ab.Bundle.ContractID == id {
			bundles = append(bundles, ab)
		}
	}
	return bundles, nil
}

func (t *fileTx) FetchWitness(_ context.Context,
	txid chainhash.Hash) (*Witness, error) {

	w, ok := t.state.witnesses[txid]
	if !ok {
		return nil, ErrUnknownWitness
	}
	return &Witness{Tx: w.Tx, Ord: w.Ord}, nil
}

func (t *fileTx) FetchWitnesses(_ context.Context) ([]*Witness, error) {
	witnesses := make([]*Witness, 0, len(t.state.witnesses))
	for _, w := range t.state.witnesses {
		witnesses = append(witnesses, &Witness{Tx: w.Tx, Ord: w.Ord})
	}
	return witnesses, nil
}

func (t *fileTx) UpsertWitness(_ context.Context, w *Witness) error {
	if err := t.write(); err != nil {
		return err
	}
	t.state.witnesses[w.Tx.TxHash()] = &Witness{Tx: w.Tx, Ord: w.Ord}
	return nil
}

func (t *fileTx) FetchAllocation(_ context.Context,
	opout contract.Opout) (*Allocation, error) {

	a, ok := t.state.allocations[opout]
	if !ok {
		return nil, ErrUnknownAllocation
	}
	return a.Copy(), nil
}

func (t *fileTx) FetchAllocations(_ context.Context,
	filter AllocationFilter) ([]*Allocation, error) {

	var outpoints map[wire.OutPoint]struct{}
	if filter.Outpoints != nil {
		outpoints = make(map[wire.OutPoint]struct{})
		for _, op := range filter.Outpoints {
			outpoints[op] = struct{}{}
		}
	}

	var allocations []*Allocation
	for _, a := range t.state.allocations {
		if filter.ContractID != nil &&
			a.ContractID != *filter.ContractID {

			continue
		}
		if outpoints != nil {
			if a.Seal == nil {
				continue
			}
			if _, ok := outpoints[a.Outpoint]; !ok {
				continue
			}
		}

		allocations = append(allocations, a.Copy())
	}

	return allocations, nil
}

func (t *fileTx) UpsertAllocation(_ context.Context, a *Allocation) error {
	if err := t.write(); err != nil {
		return err
	}
	t.state.allocations[a.Opout] = a.Copy()
	return nil
}

var _ StoreTx = (*fileTx)(nil)

// writeSection writes the items as a counted list of length prefixed blobs.
func writeSection[T any](w io.Writer, items []T,
	enc func(io.Writer, T) error) error {

	var buf [8]byte
	if err := tlv.WriteVarInt(w, uint64(len(items)), &buf); err != nil {
		return err
	}

	for _, item := range items {
		var b bytes.Buffer
		if err := enc(&b, item); err != nil {
			return err
		}

		itemBytes := b.Bytes()
		err := contract.VarBytesEncoder(w, &itemBytes, &buf)
		if err != nil {
			return err
		}
	}

	return nil
}

// readSection reads a list written by writeSection.
func readSection[T any](r io.Reader, dec func(io.Reader) (T, error)) ([]T,
	error) {

	var buf [8]byte
	count, err := tlv.ReadVarInt(r, &buf)
	if err != nil {
		return nil, err
	}

	var items []T
	for i := uint64(0); i < count; i++ {
		var itemBytes []byte
		err := contract.VarBytesDecoder(r, &itemBytes, &buf, 0)
		if err != nil {
			return nil, err
		}

		item, err := dec(bytes.NewReader(itemBytes))
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	return items, nil
}

func encodeGenesis(w io.Writer, g *contract.Genesis) error {
	return g.Encode(w)
}

func decodeGenesis(r io.Reader) (*contract.Genesis, error) {
	var g contract.Genesis
	return &g, g.Decode(r)
}

func encodeTransition(w io.Writer, t *contract.Transition) error {
	return t.Encode(w)
}

func decodeTransition(r io.Reader) (*contract.Transition, error) {
	var t contract.Transition
	return &t, t.Decode(r)
}

// encode writes the state with every section in a deterministic order.
func (s *fileState) encode(w io.Writer) error {
	if _, err := w.Write([]byte{fileVersion}); err != nil {
		return err
	}

	contracts := maps.Values(s.contracts)
	sort.Slice(contracts, func(i, j int) bool {
		a, b := contracts[i].ContractID(), contracts[j].ContractID()
		return bytes.Compare(a[:], b[:]) < 0
	})
	if err := writeSection(w, contracts, encodeGenesis); err != nil {
		return err
	}

	transitions := maps.Values(s.transitions)
	sort.Slice(transitions, func(i, j int) bool {
		a, b := transitions[i].OpID(), transitions[j].OpID()
		return bytes.Compare(a[:], b[:]) < 0
	})
	if err := writeSection(w, transitions, encodeTransition); err != nil {
		return err
	}

	err := writeSection(w, s.bundles, contract.EncodeAnchoredBundle)
	if err != nil {
		return err
	}

	witnesses := maps.Values(s.witnesses)
	sort.Slice(witnesses, func(i, j int) bool {
		a, b := witnesses[i].Tx.TxHash(), witnesses[j].Tx.TxHash()
		return bytes.Compare(a[:], b[:]) < 0
	})
	if err := writeSection(w, witnesses, EncodeWitness); err != nil {
		return err
	}

	allocations := maps.Values(s.allocations)
	sort.Slice(allocations, func(i, j int) bool {
		return bytes.Compare(
			allocations[i].Opout.Bytes(),
			allocations[j].Opout.Bytes(),
		) < 0
	})
	return writeSection(w, allocations, EncodeAllocation)
}

// decode replaces the state with the one read from r.
func (s *fileState) decode(r io.Reader) error {
	var version [1]byte
	if _, err := io.ReadFull(r, version[:]); err != nil {
		return err
	}
	if version[0] != fileVersion {
		return fmt.Errorf("unknown stock file version %d", version[0])
	}

	contracts, err := readSection(r, decodeGenesis)
	if err != nil {
		return err
	}
	for _, g := range contracts {
		s.contracts[g.ContractID()] = g
	}

	transitions, err := readSection(r, decodeTransition)
	if err != nil {
		return err
	}
	for _, t := range transitions {
		s.transitions[t.OpID()] = t
	}

	s.bundles, err = readSection(r, contract.DecodeAnchoredBundle)
	if err != nil {
		return err
	}

	witnesses, err := readSection(r, DecodeWitness)
	if err != nil {
		return err
	}
	for _, w := range witnesses {
		s.witnesses[w.Tx.TxHash()] = w
	}

	allocations, err := readSection(r, DecodeAllocation)
	if err != nil {
		return err
	}
	for _, a := range allocations {
		s.allocations[a.Opout] = a
	}

	return nil
}
