package mpc

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"golang.org/x/exp/maps"
)

const (
	// hashSize is the size of the keys and node hashes of the tree.
	hashSize = 32

	// MaxTreeLevels is the number of levels below the root.
	MaxTreeLevels = hashSize * 8

	// lastBitIndex represents the index of the last bit of a protocol id.
	lastBitIndex = MaxTreeLevels - 1
)

var (
	// leafTag is the domain tag of leaf hashes.
	leafTag = []byte("urn:lnp-bp:mpc:leaf")

	// branchTag is the domain tag of branch hashes.
	branchTag = []byte("urn:lnp-bp:mpc:branch")

	// EmptyTree stores the hashes of a tree without leaves for every level,
	// with the root at index 0 and the empty leaf at MaxTreeLevels.
	EmptyTree [MaxTreeLevels + 1]chainhash.Hash

	// ErrEmpty is returned when a commitment is requested over no
	// messages at all.
	ErrEmpty = errors.New("mpc: nothing to commit to")

	// ErrSlotCollision is returned when a protocol is assigned two
	// different messages.
	ErrSlotCollision = errors.New("mpc: protocol slot already holds a " +
		"different message")

	// ErrUnknownProtocol is returned when a proof is requested for a
	// protocol that isn't part of the tree.
	ErrUnknownProtocol = errors.New("mpc: protocol not in tree")
)

func init() {
	for i := lastBitIndex; i >= 0; i-- {
		EmptyTree[i] = branchHash(EmptyTree[i+1], EmptyTree[i+1])
	}
}

// ProtocolID identifies the owner of a slot in the tree; for RGB this is a
// contract id.
type ProtocolID [32]byte

// String returns the hex form of the protocol id.
func (p ProtocolID) String() string {
	return chainhash.Hash(p).String()
}

// Message is the value a protocol commits to; for RGB this is a bundle id.
type Message [32]byte

// Commitment is the root of the tree, the value embedded by a deterministic
// bitcoin commitment.
type Commitment [32]byte

// String returns the hex form of the commitment.
func (c Commitment) String() string {
	return fmt.Sprintf("%x", c[:])
}

func leafHash(id ProtocolID, msg Message) chainhash.Hash {
	return *chainhash.TaggedHash(leafTag, id[:], msg[:])
}

func branchHash(left, right chainhash.Hash) chainhash.Hash {
	return *chainhash.TaggedHash(branchTag, left[:], right[:])
}

// bitIndex returns the bit of the key that selects the branch taken below
// the given level.
func bitIndex(idx uint8, key *ProtocolID) byte {
	byteVal := key[idx/8]
	return (byteVal >> (idx % 8)) & 1
}

// Builder collects protocol messages before the tree is built.
type Builder struct {
	messages map[ProtocolID]Message
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{
		messages: make(map[ProtocolID]Message),
	}
}

// Add assigns msg to the slot of id. Adding the same pair twice is a no-op.
func (b *Builder) Add(id ProtocolID, msg Message) error {
	if prev, ok := b.messages[id]; ok && prev != msg {
		return fmt.Errorf("%w: protocol %v", ErrSlotCollision, id)
	}

	b.messages[id] = msg
	return nil
}

// Build returns the tree over all added messages.
func (b *Builder) Build() (*Tree, error) {
	if len(b.messages) == 0 {
		return nil, ErrEmpty
	}

	ids := maps.Keys(b.messages)
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})

	tree := &Tree{
		messages: maps.Clone(b.messages),
		ids:      ids,
	}
	tree.root = tree.subtree(0, ids, nil)

	log.Debugf("Built MPC tree over %d protocols with root %x", len(ids),
		tree.root[:])

	return tree, nil
}

// Tree is an immutable sparse merkle tree of depth 256 mapping protocol ids
// to messages.
type Tree struct {
	messages map[ProtocolID]Message
	ids      []ProtocolID
	root     chainhash.Hash
}

// Root returns the commitment of the tree.
func (t *Tree) Root() Commitment {
	return Commitment(t.root)
}

// Len returns the number of protocols committed to.
func (t *Tree) Len() int {
	return len(t.ids)
}

// Message returns the message of the protocol.
func (t *Tree) Message(id ProtocolID) (Message, bool) {
	msg, ok := t.messages[id]
	return msg, ok
}

// Protocols returns the committed protocol ids in ascending order.
func (t *Tree) Protocols() []ProtocolID {
	ids := make([]ProtocolID, len(t.ids))
	copy(ids, t.ids)
	return ids
}

// subtree computes the hash of the node at the given height holding the
// given sorted leaves. If target is set, the siblings met on the path to it
// are recorded, leaf level first.
func (t *Tree) subtree(height int, ids []ProtocolID,
	target *proofBuilder) chainhash.Hash {

	if len(ids) == 0 {
		return EmptyTree[height]
	}
	if height == MaxTreeLevels {
		return leafHash(ids[0], t.messages[ids[0]])
	}

	// Keys are sorted, but the bit order within a byte is reversed, so we
	// partition explicitly.
	var left, right []ProtocolID
	for i := range ids {
		if bitIndex(uint8(height), &ids[i]) == 0 {
			left = append(left, ids[i])
		} else {
			right = append(right, ids[i])
		}
	}

	if target == nil || !target.onPath(ids) {
		return branchHash(
			t.subtree(height+1, left, nil),
			t.subtree(height+1, right, nil),
		)
	}

	leftHash := t.subtree(height+1, left, target)
	rightHash := t.subtree(height+1, right, target)
	if bitIndex(uint8(height), &target.key) == 0 {
		target.siblings[lastBitIndex-height] = rightHash
	} else {
		target.siblings[lastBitIndex-height] = leftHash
	}

	return branchHash(leftHash, rightHash)
}

// proofBuilder tracks the leaf a proof is built for.
type proofBuilder struct {
	key      ProtocolID
	siblings []chainhash.Hash
}

func (p *proofBuilder) onPath(ids []ProtocolID) bool {
	for i := range ids {
		if ids[i] == p.key {
			return true
		}
	}
	return false
}

// Proof returns the inclusion proof for the protocol.
func (t *Tree) Proof(id ProtocolID) (*Proof, error) {
	if _, ok := t.messages[id]; !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnknownProtocol, id)
	}

	builder := &proofBuilder{
		key:      id,
		siblings: make([]chainhash.Hash, MaxTreeLevels),
	}
	t.subtree(0, t.ids, builder)

	return &Proof{Nodes: builder.siblings}, nil
}
