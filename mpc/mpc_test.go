package mpc

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func randID(t *testing.T) ProtocolID {
	var id ProtocolID
	_, err := rand.Read(id[:])
	require.NoError(t, err)
	return id
}

func TestEmptyBuilder(t *testing.T) {
	t.Parallel()

	_, err := NewBuilder().Build()
	require.ErrorIs(t, err, ErrEmpty)
}

func TestSlotCollision(t *testing.T) {
	t.Parallel()

	b := NewBuilder()
	id := randID(t)
	require.NoError(t, b.Add(id, Message{0x01}))
	require.NoError(t, b.Add(id, Message{0x01}))
	require.ErrorIs(t, b.Add(id, Message{0x02}), ErrSlotCollision)
}

func TestInclusionProofs(t *testing.T) {
	t.Parallel()

	for _, numLeaves := range []int{1, 2, 5, 17} {
		b := NewBuilder()
		msgs := make(map[ProtocolID]Message, numLeaves)
		for i := 0; i < numLeaves; i++ {
			id := randID(t)
			msg := Message(randID(t))
			msgs[id] = msg
			require.NoError(t, b.Add(id, msg))
		}

		tree, err := b.Build()
		require.NoError(t, err)
		require.Equal(t, numLeaves, tree.Len())

		root := tree.Root()
		for id, msg := range msgs {
			proof, err := tree.Proof(id)
			require.NoError(t, err)
			require.NoError(t, proof.Verify(id, msg, root))

			// A proof for one protocol must not validate another
			// protocol's message.
			for other, otherMsg := range msgs {
				if other == id {
					continue
				}
				require.ErrorIs(t,
					proof.Verify(other, otherMsg, root),
					ErrInvalidProof,
				)
			}

			var buf bytes.Buffer
			require.NoError(t, proof.Encode(&buf))

			var decoded Proof
			require.NoError(t, decoded.Decode(&buf))
			require.Equal(t, proof, &decoded)
		}

		_, err = tree.Proof(randID(t))
		require.ErrorIs(t, err, ErrUnknownProtocol)
	}
}

func TestRootIndependentOfOrder(t *testing.T) {
	t.Parallel()

	ids := []ProtocolID{randID(t), randID(t), randID(t)}

	b1, b2 := NewBuilder(), NewBuilder()
	for i := range ids {
		require.NoError(t, b1.Add(ids[i], Message{byte(i)}))
	}
	for i := len(ids) - 1; i >= 0; i-- {
		require.NoError(t, b2.Add(ids[i], Message{byte(i)}))
	}

	t1, err := b1.Build()
	require.NoError(t, err)
	t2, err := b2.Build()
	require.NoError(t, err)
	require.Equal(t, t1.Root(), t2.Root())
}

func TestCompressedProofMismatch(t *testing.T) {
	t.Parallel()

	p := &CompressedProof{
		Bits: make([]bool, MaxTreeLevels),
	}
	_, err := p.Decompress()
	require.ErrorIs(t, err, ErrInvalidCompressedProof)
}
