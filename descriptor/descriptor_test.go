package descriptor

import (
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/rgb/dbc"
	"github.com/lightninglabs/rgb/seal"
	"github.com/stretchr/testify/require"
)

var (
	testSeed = []byte{
		0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
		0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10,
	}
	testNoise = [32]byte{0xde, 0xad, 0xbe, 0xef}
)

// testKey returns an account key descriptor derived from a fixed seed.
func testKey(t *testing.T, withOrigin bool) KeyDescr {
	master, err := hdkeychain.NewMaster(
		testSeed, &chaincfg.RegressionNetParams,
	)
	require.NoError(t, err)

	account := master
	path := []uint32{
		86 + hdkeychain.HardenedKeyStart,
		1 + hdkeychain.HardenedKeyStart,
		0 + hdkeychain.HardenedKeyStart,
	}
	for _, idx := range path {
		account, err = account.Derive(idx)
		require.NoError(t, err)
	}
	neutered, err := account.Neuter()
	require.NoError(t, err)

	// Re-parse the key so its internal representation matches the one
	// produced by the parser.
	xpub, err := hdkeychain.NewKeyFromString(neutered.String())
	require.NoError(t, err)

	var origin *KeyOrigin
	if withOrigin {
		origin = &KeyOrigin{
			Fingerprint: [4]byte{0xd3, 0x4d, 0xb3, 0x3f},
			Path:        path,
		}
	}

	return NewKeyDescr(xpub, origin)
}

func testSeals() []seal.Seal {
	txid := chainhash.Hash{0x42}
	return []seal.Seal{
		seal.NewRevealed(wire.OutPoint{Hash: txid, Index: 1},
			seal.Noise{0x01}),
		seal.NewWout(2, seal.Noise{0x02}),
		{
			Primary:   seal.Wout(0),
			Secondary: seal.WithFallback(wire.OutPoint{Hash: txid}),
		},
	}
}

func TestDescriptorRoundTrip(t *testing.T) {
	t.Parallel()

	tweakA := dbc.NewTapretCommitment([32]byte{0xaa}, 0)
	tweakB := dbc.NewTapretCommitment([32]byte{0xbb}, 1)

	testCases := []struct {
		name  string
		descr func(t *testing.T) *Descr
	}{{
		name: "opret no seals",
		descr: func(t *testing.T) *Descr {
			return NewOpret(testKey(t, false), testNoise)
		},
	}, {
		name: "opret with origin and seals",
		descr: func(t *testing.T) *Descr {
			d := NewOpret(testKey(t, true), testNoise)
			for _, s := range testSeals() {
				d.AddSeal(s)
			}
			return d
		},
	}, {
		name: "tapret no tweaks",
		descr: func(t *testing.T) *Descr {
			return NewTapret(testKey(t, true), testNoise)
		},
	}, {
		name: "tapret with tweaks and seals",
		descr: func(t *testing.T) *Descr {
			d := NewTapret(testKey(t, true), testNoise)
			term := Terminal{Keychain: KeychainTapret, Index: 3}
			require.NoError(t, d.AddTweak(term, tweakB))
			require.NoError(t, d.AddTweak(term, tweakA))
			require.NoError(t, d.AddTweak(
				Terminal{Keychain: KeychainTapret}, tweakA,
			))
			for _, s := range testSeals() {
				d.AddSeal(s)
			}
			return d
		},
	}}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			d := tc.descr(t)
			parsed, err := Parse(d.String())
			require.NoError(t, err)
			require.Equal(t, d, parsed)
			require.True(t, d.Equal(parsed))
		})
	}
}

func TestTweakOrder(t *testing.T) {
	t.Parallel()

	d := NewTapret(testKey(t, false), testNoise)
	term := Terminal{Keychain: KeychainTapret, Index: 1}

	tweaks := []dbc.TapretCommitment{
		dbc.NewTapretCommitment([32]byte{0x03}, 0),
		dbc.NewTapretCommitment([32]byte{0x01}, 0),
		dbc.NewTapretCommitment([32]byte{0x02}, 0),
	}
	for _, c := range tweaks {
		require.NoError(t, d.AddTweak(term, c))
	}
	require.NoError(t, d.AddTweak(term, tweaks[0]))
	require.Equal(t, tweaks, d.TweaksAt(term))

	// Both the bracketed and the plain list forms are accepted.
	bracketed := strings.Replace(
		d.String(), "/10/1/", "/10/1/<", 1,
	)
	bracketed = strings.Replace(bracketed, ")),", ">)),", 1)
	parsed, err := Parse(bracketed)
	require.NoError(t, err)
	require.Equal(t, tweaks, parsed.TweaksAt(term))

	opret := NewOpret(testKey(t, false), testNoise)
	require.ErrorIs(t, opret.AddTweak(term, tweaks[0]), ErrNotTapret)
}

func TestSealsCanonicalOrder(t *testing.T) {
	t.Parallel()

	seals := testSeals()

	d1 := NewOpret(testKey(t, false), testNoise)
	d2 := NewOpret(testKey(t, false), testNoise)
	for i := range seals {
		d1.AddSeal(seals[i])
		d2.AddSeal(seals[len(seals)-1-i])
	}
	require.False(t, d1.AddSeal(seals[0]))
	require.Equal(t, d1.Seals, d2.Seals)
	require.Equal(t, d1.String(), d2.String())
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	key := testKey(t, true).String()
	noise := strings.Repeat("00", 32)

	testCases := []struct {
		name   string
		descr  string
		err    error
		offset int
	}{{
		name:  "not rgb",
		descr: "btc(" + key + ")",
		err:   ErrInvalidStructure,
	}, {
		name:  "wrong arity",
		descr: "rgb(wpkh(" + key + ")," + noise + ")",
		err:   ErrInvalidStructure,
	}, {
		name:   "bad noise",
		descr:  "rgb(wpkh(" + key + "),zz,seals())",
		err:    ErrInvalidNoise,
		offset: len("rgb(wpkh(" + key + "),"),
	}, {
		name: "bad tweak",
		descr: "rgb(tapret(tr(" + key + "),tweaks(/10/0/abcd))," +
			noise + ",seals())",
		err:    ErrInvalidTweak,
		offset: len("rgb(tapret(tr(" + key + "),tweaks(/10/0/"),
	}, {
		name: "bad tweak index",
		descr: "rgb(tapret(tr(" + key + "),tweaks(/x/0/abcd))," +
			noise + ",seals())",
		err:    ErrInvalidIndex,
		offset: len("rgb(tapret(tr(" + key + "),tweaks(/"),
	}, {
		name: "seal missing fallback",
		descr: "rgb(wpkh(" + key + ")," + noise + ",seals(" +
			strings.Repeat("00", 32) + ":1))",
		err:    seal.ErrNoFallback,
		offset: len("rgb(wpkh(" + key + ")," + noise + ",seals("),
	}, {
		name: "seal invalid noise",
		descr: "rgb(wpkh(" + key + ")," + noise + ",seals(~:1/xx))",
		err:  seal.ErrInvalidNoise,
		offset: len("rgb(wpkh(" + key + ")," + noise +
			",seals(~:1/"),
	}, {
		name:   "bad xpub",
		descr:  "rgb(wpkh(xpubnope/<0;1>/*)," + noise + ",seals())",
		err:    ErrInvalidKey,
		offset: len("rgb(wpkh("),
	}}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := Parse(tc.descr)
			require.ErrorIs(t, err, tc.err)

			var pErr *ParseError
			require.ErrorAs(t, err, &pErr)
			require.Equal(t, tc.offset, pErr.Offset)
		})
	}
}

func TestScriptPubKeys(t *testing.T) {
	t.Parallel()

	term := Terminal{Keychain: KeychainTapret, Index: 0}

	d := NewTapret(testKey(t, false), testNoise)
	scripts, err := d.ScriptPubKeys(term)
	require.NoError(t, err)
	require.Len(t, scripts, 1)
	require.True(t, dbc.IsP2TR(scripts[0]))

	tweak := dbc.NewTapretCommitment([32]byte{0x01}, 0)
	require.NoError(t, d.AddTweak(term, tweak))
	scripts, err = d.ScriptPubKeys(term)
	require.NoError(t, err)
	require.Len(t, scripts, 2)
	require.NotEqual(t, scripts[0], scripts[1])

	_, err = d.ScriptPubKey(Terminal{Keychain: 5})
	require.ErrorIs(t, err, ErrUnknownKeychain)

	opret := NewOpret(testKey(t, false), testNoise)
	script, err := opret.ScriptPubKey(
		Terminal{Keychain: KeychainOpret, Index: 2},
	)
	require.NoError(t, err)
	require.Len(t, script, 22)

	addr, err := opret.Address(
		Terminal{Keychain: KeychainExternal}, &chaincfg.RegressionNetParams,
	)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(addr.String(), "bcrt1q"))
}
