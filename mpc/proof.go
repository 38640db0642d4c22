package mpc

import (
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightninglabs/rgb/fn"
	"github.com/lightningnetwork/lnd/tlv"
)

var (
	// ErrInvalidCompressedProof is returned when a compressed proof has an
	// invalid combination of explicit nodes and default hash bits.
	ErrInvalidCompressedProof = errors.New("mpc: invalid compressed proof")

	// ErrInvalidProof is returned when a proof doesn't lead to the
	// expected commitment.
	ErrInvalidProof = errors.New("mpc: invalid inclusion proof")
)

// Proof is the list of sibling hashes on the path from a leaf to the root,
// starting at the leaf level.
type Proof struct {
	Nodes []chainhash.Hash
}

// Root returns the commitment obtained by walking up the tree from the leaf
// of id holding msg.
func (p *Proof) Root(id ProtocolID, msg Message) (Commitment, error) {
	if len(p.Nodes) != MaxTreeLevels {
		return Commitment{}, fmt.Errorf("%w: expected %d nodes, got %d",
			ErrInvalidProof, MaxTreeLevels, len(p.Nodes))
	}

	current := leafHash(id, msg)
	for i := lastBitIndex; i >= 0; i-- {
		sibling := p.Nodes[lastBitIndex-i]
		if bitIndex(uint8(i), &id) == 0 {
			current = branchHash(current, sibling)
		} else {
			current = branchHash(sibling, current)
		}
	}

	return Commitment(current), nil
}

// Verify checks that msg is committed to in the slot of id of the tree with
// the given root.
func (p *Proof) Verify(id ProtocolID, msg Message, root Commitment) error {
	computed, err := p.Root(id, msg)
	if err != nil {
		return err
	}

	if computed != root {
		return fmt.Errorf("%w: protocol %v", ErrInvalidProof, id)
	}

	return nil
}

// CompressedProof replaces the empty subtree siblings of a proof with a bit
// vector.
type CompressedProof struct {
	// Bits determines whether a sibling is part of the empty tree.
	Bits []bool

	// Nodes are the non-empty siblings, leaf level first.
	Nodes []chainhash.Hash
}

// Compress compresses a proof by replacing its empty nodes with a bit
// vector.
func (p *Proof) Compress() *CompressedProof {
	var (
		bits  = make([]bool, len(p.Nodes))
		nodes []chainhash.Hash
	)
	for idx := range p.Nodes {
		// The proof nodes start at the leaf, while the EmptyTree starts
		// at the root.
		if p.Nodes[idx] == EmptyTree[MaxTreeLevels-idx] {
			bits[idx] = true
		} else {
			nodes = append(nodes, p.Nodes[idx])
		}
	}

	return &CompressedProof{
		Bits:  bits,
		Nodes: nodes,
	}
}

// Decompress restores the full proof.
func (p *CompressedProof) Decompress() (*Proof, error) {
	numExpected := fn.Count(p.Bits, func(bit bool) bool {
		return !bit
	})
	if numExpected != len(p.Nodes) || len(p.Bits) != MaxTreeLevels {
		return nil, fmt.Errorf("%w, num_nodes=%v, num_expected=%v",
			ErrInvalidCompressedProof, len(p.Nodes), numExpected)
	}

	nextNodeIdx := 0
	nodes := make([]chainhash.Hash, len(p.Bits))
	for i, bitSet := range p.Bits {
		if bitSet {
			nodes[i] = EmptyTree[MaxTreeLevels-i]
			continue
		}

		nodes[i] = p.Nodes[nextNodeIdx]
		nextNodeIdx++
	}

	return &Proof{Nodes: nodes}, nil
}

// PackBits packs a bit vector into a byte slice.
func PackBits(bits []bool) []byte {
	bytes := make([]byte, (len(bits)+8-1)/8)
	for i, isBitSet := range bits {
		if isBitSet {
			bytes[i/8] |= byte(1 << (i % 8))
		}
	}
	return bytes
}

// UnpackBits unpacks a byte slice into a bit vector.
func UnpackBits(bytes []byte) []bool {
	bits := make([]bool, len(bytes)*8)
	for i := range bits {
		bits[i] = (bytes[i/8]>>(i%8))&1 == 1
	}
	return bits
}

// Encode writes the compressed form of the proof.
func (p *Proof) Encode(w io.Writer) error {
	compressed := p.Compress()

	var buf [8]byte
	err := tlv.EUint16T(w, uint16(len(compressed.Nodes)), &buf)
	if err != nil {
		return err
	}
	for i := range compressed.Nodes {
		node := [32]byte(compressed.Nodes[i])
		if err := tlv.EBytes32(w, &node, &buf); err != nil {
			return err
		}
	}

	_, err = w.Write(PackBits(compressed.Bits))
	return err
}

// Decode reads a proof written by Encode.
func (p *Proof) Decode(r io.Reader) error {
	var (
		buf      [8]byte
		numNodes uint16
	)
	if err := tlv.DUint16(r, &numNodes, &buf, 2); err != nil {
		return err
	}
	if int(numNodes) > MaxTreeLevels {
		return fmt.Errorf("%w: too many nodes", ErrInvalidCompressedProof)
	}

	compressed := &CompressedProof{
		Nodes: make([]chainhash.Hash, numNodes),
	}
	for i := range compressed.Nodes {
		var node [32]byte
		if err := tlv.DBytes32(r, &node, &buf, 32); err != nil {
			return err
		}
		compressed.Nodes[i] = node
	}

	var bits [MaxTreeLevels / 8]byte
	if _, err := io.ReadFull(r, bits[:]); err != nil {
		return err
	}
	compressed.Bits = UnpackBits(bits[:])

	full, err := compressed.Decompress()
	if err != nil {
		return err
	}

	*p = *full
	return nil
}
