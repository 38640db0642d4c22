package test

import (
	"math/rand"
	"testing"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/rgb/dbc"
	"github.com/lightninglabs/rgb/descriptor"
	"github.com/stretchr/testify/require"
)

var (
	// TestSeed is the wallet seed of test descriptors.
	TestSeed = []byte{
		0x10, 0x0f, 0x0e, 0x0d, 0x0c, 0x0b, 0x0a, 0x09,
		0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01,
	}

	// TestNoise is the noise seed of test descriptors.
	TestNoise = [32]byte{0x5e, 0xed}
)

// RandBool rolls a random boolean.
func RandBool() bool {
	return rand.Int()%2 == 0
}

func RandBytes(num int) []byte {
	randBytes := make([]byte, num)
	_, _ = rand.Read(randBytes)
	return randBytes
}

func RandHash() chainhash.Hash {
	var hash chainhash.Hash
	copy(hash[:], RandBytes(chainhash.HashSize))
	return hash
}

func RandOutPoint() wire.OutPoint {
	return wire.OutPoint{
		Hash:  RandHash(),
		Index: uint32(rand.Intn(8)),
	}
}

// TestKey returns the BIP86 style account key of TestSeed on regtest.
func TestKey(t *testing.T) descriptor.KeyDescr {
	t.Helper()

	master, err := hdkeychain.NewMaster(
		TestSeed, &chaincfg.RegressionNetParams,
	)
	require.NoError(t, err)

	path := []uint32{
		86 + hdkeychain.HardenedKeyStart,
		1 + hdkeychain.HardenedKeyStart,
		0 + hdkeychain.HardenedKeyStart,
	}
	account := master
	for _, idx := range path {
		account, err = account.Derive(idx)
		require.NoError(t, err)
	}
	xpub, err := account.Neuter()
	require.NoError(t, err)

	// Round trip through the text form so keys compare equal to parsed
	// ones.
	xpub, err = hdkeychain.NewKeyFromString(xpub.String())
	require.NoError(t, err)

	fingerprint := [4]byte{0x01, 0x02, 0x03, 0x04}
	return descriptor.NewKeyDescr(xpub, &descriptor.KeyOrigin{
		Fingerprint: fingerprint,
		Path:        path,
	})
}

// TestDescriptor returns a fresh descriptor of the method over TestKey.
func TestDescriptor(t *testing.T, method dbc.Method) *descriptor.Descr {
	t.Helper()

	if method == dbc.MethodTapret {
		return descriptor.NewTapret(TestKey(t), TestNoise)
	}
	return descriptor.NewOpret(TestKey(t), TestNoise)
}
