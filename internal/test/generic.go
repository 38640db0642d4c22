package test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

// RunUnknownOddTypeTest checks that a tlv stream decoder rejects an unknown
// even type appended to the encoding of knownItem with requiredErr and skips
// an unknown odd one.
func RunUnknownOddTypeTest[T any](t *testing.T, knownItem T,
	encode func(*bytes.Buffer, T) error,
	decode func(*bytes.Buffer) (T, error), verify func(T),
	requiredErr error) {

	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, encode(&buf, knownItem))

	unknownTypeValue := []byte("I could be anything, really")
	unknownEvenType := append([]byte{
		byte(40),
		byte(len(unknownTypeValue)),
	}, unknownTypeValue...)
	buf.Write(unknownEvenType)

	_, err := decode(&buf)
	require.ErrorIs(t, err, requiredErr)

	buf.Reset()
	require.NoError(t, encode(&buf, knownItem))
	unknownOddType := append([]byte{
		byte(39),
		byte(len(unknownTypeValue)),
	}, unknownTypeValue...)
	buf.Write(unknownOddType)

	parsedItem, err := decode(&buf)
	require.NoError(t, err)
	verify(parsedItem)
}
