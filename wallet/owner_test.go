package wallet

import (
	"context"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/rgb/dbc"
	"github.com/lightninglabs/rgb/descriptor"
	"github.com/lightninglabs/rgb/internal/test"
	"github.com/lightninglabs/rgb/seal"
	"github.com/stretchr/testify/require"
)

func newTestOwner(t *testing.T, method dbc.Method) (*Owner, *MockChain) {
	t.Helper()

	d := test.TestDescriptor(t, method)
	return NewOwner(
		NewMemHolder(d), &chaincfg.RegressionNetParams,
	), NewMockChain()
}

// fund pays value to the plain script of the terminal.
func fund(t *testing.T, o *Owner, chain *MockChain, keychain, index uint32,
	value btcutil.Amount) wire.OutPoint {

	t.Helper()

	spk, err := o.Descriptor().ScriptPubKey(descriptor.Terminal{
		Keychain: keychain,
		Index:    index,
	})
	require.NoError(t, err)

	return chain.Fund(spk, value)
}

// TestUpdateUtxosGapLimit tests that keychains are scanned until a full
// batch of unused scripts.
func TestUpdateUtxosGapLimit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	o, chain := newTestOwner(t, dbc.MethodOpret)

	first := fund(t, o, chain, descriptor.KeychainOpret, GapLimit-1, 1000)
	second := fund(t, o, chain, descriptor.KeychainOpret, GapLimit+10, 2000)
	external := fund(t, o, chain, descriptor.KeychainExternal, 0, 3000)

	// Beyond the gap after the last used index.
	lost := fund(t, o, chain, descriptor.KeychainOpret, 3*GapLimit+1, 4000)

	require.NoError(t, o.UpdateUtxos(ctx, chain))

	require.True(t, o.HasUtxo(first))
	require.True(t, o.HasUtxo(second))
	require.True(t, o.HasUtxo(external))
	require.False(t, o.HasUtxo(lost))
	require.Equal(t, btcutil.Amount(6000), o.Balance())

	next := o.Holder().Utxos().NextIndex(descriptor.KeychainOpret, false)
	require.EqualValues(t, GapLimit+11, next)

	utxo, ok := o.Holder().Utxos().Get(second)
	require.True(t, ok)
	require.Equal(t, descriptor.Terminal{
		Keychain: descriptor.KeychainOpret,
		Index:    GapLimit + 10,
	}, utxo.Terminal)

	// A rescan drops outputs spent in the meantime.
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(&external, nil, nil))
	tx.AddTxOut(wire.NewTxOut(2500, test.RandBytes(22)))
	require.NoError(t, chain.Broadcast(ctx, tx))

	require.NoError(t, o.UpdateUtxos(ctx, chain))
	require.False(t, o.HasUtxo(external))
	require.Len(t, o.Outpoints(), 2)
}

// TestUpdateUtxosTapretTweaks tests that outputs paying to tweaked tapret
// hosts are found.
func TestUpdateUtxosTapretTweaks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	o, chain := newTestOwner(t, dbc.MethodTapret)

	host := descriptor.Terminal{
		Keychain: descriptor.KeychainTapret,
		Index:    2,
	}
	c := dbc.NewTapretCommitment([32]byte{1, 2, 3}, 0)
	require.NoError(t, o.AddTweak(host, c))

	key, err := o.Descriptor().Derive(host)
	require.NoError(t, err)
	tweaked := chain.Fund(dbc.P2TRScript(dbc.TapretOutputKey(key, c)), 900)

	require.NoError(t, o.UpdateUtxos(ctx, chain))
	require.True(t, o.HasUtxo(tweaked))

	utxo, ok := o.Holder().Utxos().Get(tweaked)
	require.True(t, ok)
	require.Equal(t, host, utxo.Terminal)

	found, err := tapretTweak(o.Descriptor(), utxo)
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, c, *found)

	// Opret descriptors can't hold tweaks.
	opret, _ := newTestOwner(t, dbc.MethodOpret)
	require.ErrorIs(t, opret.AddTweak(host, c), descriptor.ErrNotTapret)
}

// TestOwnerSeals tests seal registration and lookup by auth token.
func TestOwnerSeals(t *testing.T) {
	t.Parallel()

	o, _ := newTestOwner(t, dbc.MethodOpret)

	a := seal.NewWout(0, seal.Noise{1})
	b := seal.NewRevealed(test.RandOutPoint(), seal.Noise{2})
	require.NoError(t, o.RegisterSeal(a))
	require.NoError(t, o.RegisterSeal(b))
	require.NoError(t, o.RegisterSeal(a))
	require.Len(t, o.Descriptor().Seals, 2)

	found := o.ResolveSeals([]seal.AuthToken{b.AuthToken()})
	require.Equal(t, []seal.Seal{b}, found)
	require.Empty(t, o.ResolveSeals([]seal.AuthToken{
		seal.NewWout(5, seal.Noise{3}).AuthToken(),
	}))

	nonce, err := o.NextNonce()
	require.NoError(t, err)
	require.Zero(t, nonce)
	nonce, err = o.NextNonce()
	require.NoError(t, err)
	require.EqualValues(t, 1, nonce)
}

// TestNextAddress tests address derivation per keychain.
func TestNextAddress(t *testing.T) {
	t.Parallel()

	o, _ := newTestOwner(t, dbc.MethodTapret)

	addr, terminal, err := o.NextAddress(descriptor.KeychainExternal, true)
	require.NoError(t, err)
	require.Equal(t, descriptor.Terminal{}, terminal)
	require.IsType(t, &btcutil.AddressTaproot{}, addr)

	next, terminal, err := o.NextAddress(descriptor.KeychainExternal, false)
	require.NoError(t, err)
	require.EqualValues(t, 1, terminal.Index)
	require.NotEqual(t, addr.String(), next.String())
}

// TestBroadcast tests the UTXO bookkeeping of published transactions.
func TestBroadcast(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	o, chain := newTestOwner(t, dbc.MethodOpret)

	spent := fund(t, o, chain, descriptor.KeychainExternal, 0, 10_000)
	kept := fund(t, o, chain, descriptor.KeychainExternal, 1, 20_000)
	require.NoError(t, o.UpdateUtxos(ctx, chain))

	change := descriptor.Terminal{
		Keychain: descriptor.KeychainInternal,
		Index:    7,
	}
	changeSpk, err := o.Descriptor().ScriptPubKey(change)
	require.NoError(t, err)

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(&spent, nil, nil))
	tx.AddTxOut(wire.NewTxOut(3000, test.RandBytes(34)))
	tx.AddTxOut(wire.NewTxOut(6000, changeSpk))

	// Failed broadcasts leave the set untouched.
	errRejected := errors.New("rejected")
	chain.BroadcastErr = errRejected
	err = o.Broadcast(ctx, tx, chain, []OwnedOutput{{
		Vout: 1, Terminal: change,
	}})
	require.ErrorIs(t, err, errRejected)
	require.True(t, o.HasUtxo(spent))

	chain.BroadcastErr = nil
	err = o.Broadcast(ctx, tx, chain, []OwnedOutput{{
		Vout: 1, Terminal: change,
	}})
	require.NoError(t, err)

	changeOp := wire.OutPoint{Hash: tx.TxHash(), Index: 1}
	require.False(t, o.HasUtxo(spent))
	require.True(t, o.HasUtxo(kept))
	require.True(t, o.HasUtxo(changeOp))
	require.Equal(t, btcutil.Amount(26_000), o.Balance())
	require.EqualValues(t, 8, o.Holder().Utxos().NextIndex(
		descriptor.KeychainInternal, false,
	))
	require.Len(t, chain.Broadcasts, 1)

	// The rescan agrees with the bookkeeping.
	require.NoError(t, o.UpdateUtxos(ctx, chain))
	require.ElementsMatch(
		t, []wire.OutPoint{kept, changeOp}, o.Outpoints(),
	)

	err = o.Broadcast(ctx, tx, chain, []OwnedOutput{{
		Vout: 5, Terminal: change,
	}})
	require.Error(t, err)
}
