package transfer

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/rgb/coinselect"
	"github.com/lightninglabs/rgb/contract"
	"github.com/lightninglabs/rgb/dbc"
	"github.com/lightninglabs/rgb/descriptor"
	"github.com/lightninglabs/rgb/fn"
	"github.com/lightninglabs/rgb/internal/test"
	"github.com/lightninglabs/rgb/invoice"
	"github.com/lightninglabs/rgb/rgbpsbt"
	"github.com/lightninglabs/rgb/seal"
	"github.com/lightninglabs/rgb/stock"
	"github.com/lightninglabs/rgb/wallet"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"
)

var testTime = time.Unix(1_700_000_000, 0)

type testEnv struct {
	stock    *stock.Stock
	owner    *wallet.Owner
	chain    *wallet.MockChain
	clock    *clock.TestClock
	pipeline *Pipeline

	// rgbOp is a wallet output on the RGB keychain.
	rgbOp wire.OutPoint
}

func newTestEnv(t *testing.T, method dbc.Method) *testEnv {
	t.Helper()

	ctx := context.Background()
	d := test.TestDescriptor(t, method)
	env := &testEnv{
		stock: stock.New(stock.NewMemBackend()),
		owner: wallet.NewOwner(
			wallet.NewMemHolder(d), &chaincfg.RegressionNetParams,
		),
		chain: wallet.NewMockChain(),
		clock: clock.NewTestClock(testTime),
	}

	fund := func(keychain uint32, value btcutil.Amount) wire.OutPoint {
		spk, err := d.ScriptPubKey(descriptor.Terminal{
			Keychain: keychain,
		})
		require.NoError(t, err)
		return env.chain.Fund(spk, value)
	}
	env.rgbOp = fund(d.RgbKeychain(), 1000)
	fund(descriptor.KeychainExternal, 100_000)
	require.NoError(t, env.owner.UpdateUtxos(ctx, env.chain))

	env.pipeline = NewPipeline(&PipelineConfig{
		Stock:  env.stock,
		Wallet: env.owner,
		Clock:  env.clock,
	})

	return env
}

// issue creates a contract allocating amount to the outpoint.
func (e *testEnv) issue(t *testing.T, ticker string, op wire.OutPoint,
	amount uint64, velocity contract.VelocityHint) contract.ContractID {

	t.Helper()

	id, err := e.stock.ImportContract(context.Background(), &contract.Genesis{
		Iface:    invoice.IfaceRGB20,
		Ticker:   ticker,
		Name:     ticker + " asset",
		Velocity: velocity,
		Assignments: []contract.Assignment{{
			Type: contract.AssignmentAsset,
			Seal: contract.Revealed(
				seal.NewRevealed(
					op, seal.Noise{0x02, ticker[0]},
				),
			),
			State: contract.Amount(amount),
		}},
	})
	require.NoError(t, err)
	return id
}

func (e *testEnv) amountsAt(t *testing.T, id contract.ContractID,
	ops ...wire.OutPoint) []uint64 {

	t.Helper()

	allocations, err := e.stock.Allocations(context.Background(), id, ops)
	require.NoError(t, err)

	var out []uint64
	for _, a := range allocations {
		out = append(out, a.State.Amount)
	}
	return out
}

// receiverSeal returns a blinded seal of a receiving wallet.
func receiverSeal() seal.Seal {
	return seal.NewRevealed(test.RandOutPoint(), seal.Noise{0x77})
}

func blindedInvoice(t *testing.T, id contract.ContractID, s seal.Seal,
	amount uint64) *invoice.Invoice {

	t.Helper()

	inv, err := invoice.NewRGB20Builder(
		id, invoice.BlindedBeneficiary(s.AuthToken()), amount,
	).SetNetwork(&chaincfg.RegressionNetParams).Build()
	require.NoError(t, err)
	return inv
}

func regtestAddr(t *testing.T) btcutil.Address {
	t.Helper()

	addr, err := btcutil.NewAddressTaproot(
		test.RandBytes(32), &chaincfg.RegressionNetParams,
	)
	require.NoError(t, err)
	return addr
}

// roundTrip sends the consignment through its binary form.
func roundTrip(t *testing.T, c *contract.Consignment) *contract.Consignment {
	t.Helper()

	var b bytes.Buffer
	require.NoError(t, c.Encode(&b))

	var decoded contract.Consignment
	require.NoError(t, decoded.Decode(&b))
	return &decoded
}

// TestPayBlinded tests paying part of an allocation to a blinded seal, the
// receiver accepting the consignment and the sender spending its change.
func TestPayBlinded(t *testing.T) {
	t.Parallel()

	for _, method := range []dbc.Method{dbc.MethodOpret, dbc.MethodTapret} {
		method := method
		t.Run(method.String(), func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			env := newTestEnv(t, method)
			id := env.issue(
				t, "TEST", env.rgbOp, 999,
				contract.VelocityUnspecified,
			)

			receiver := receiverSeal()
			inv := blindedInvoice(t, id, receiver, 99)

			pay, err := env.pipeline.Pay(
				ctx, inv, coinselect.Aggregate, wallet.TxParams{},
				0,
			)
			require.NoError(t, err)

			require.True(t, rgbpsbt.IsCommitted(pay.Packet))
			require.False(t, rgbpsbt.IsModifiable(pay.Packet))
			require.Equal(t, pay.Anchor.Txid,
				pay.Packet.UnsignedTx.TxHash())
			require.Equal(
				t, []seal.AuthToken{receiver.AuthToken()},
				pay.Terminals(),
			)
			require.Equal(t, -1, pay.Prefab.BeneficiaryVout)
			require.Len(t, pay.Prefab.Transitions, 1)
			require.Len(t, pay.Prefab.ChangeSeals, 1)

			// The sender keeps 900 on its change seal.
			change := pay.Prefab.ChangeSeals[0].Outpoint(
				pay.Anchor.Txid,
			)
			require.Equal(t, []uint64{900}, env.amountsAt(t, id, change))
			require.Empty(t, env.amountsAt(t, id, env.rgbOp))

			d := env.owner.Descriptor()
			require.EqualValues(t, 1, d.Nonce)
			require.Contains(t, d.Seals, pay.Prefab.ChangeSeals[0])

			if method == dbc.MethodTapret {
				require.NotNil(t, pay.HostTerminal)
				require.Len(t, d.TweaksAt(*pay.HostTerminal), 1)
			} else {
				require.Nil(t, pay.HostTerminal)
				require.Empty(t, d.Tweaks)
			}

			// The receiver sees exactly the invoiced amount once the
			// seal is revealed.
			rcv := stock.New(stock.NewMemBackend())
			require.NoError(t, rcv.AcceptConsignment(
				ctx, roundTrip(t, pay.Consignment),
			))
			n, err := rcv.RevealSeals(ctx, []seal.Seal{receiver})
			require.NoError(t, err)
			require.Equal(t, 1, n)

			allocs, err := rcv.Allocations(
				ctx, id, []wire.OutPoint{
					receiver.Outpoint(pay.Anchor.Txid),
				},
			)
			require.NoError(t, err)
			require.Len(t, allocs, 1)
			require.EqualValues(t, 99, allocs[0].State.Amount)

			// Once broadcast, the change can be spent in turn.
			require.NoError(t, env.owner.Broadcast(
				ctx, pay.Packet.UnsignedTx, env.chain,
				pay.Prefab.Owned,
			))
			require.True(t, env.owner.HasUtxo(change))

			next, err := env.pipeline.Pay(
				ctx, blindedInvoice(t, id, receiverSeal(), 900),
				coinselect.Aggregate, wallet.TxParams{}, 0,
			)
			require.NoError(t, err)
			require.Empty(t, next.Prefab.ChangeSeals)
			require.Len(t, next.Prefab.Transitions[0].Assignments, 1)
			require.Empty(t, env.amountsAt(t, id, change))
			require.EqualValues(t, 2, env.owner.Descriptor().Nonce)
		})
	}
}

// TestPayAddress tests paying to an output of the witness transaction.
func TestPayAddress(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t, dbc.MethodOpret)
	id := env.issue(t, "TEST", env.rgbOp, 999, contract.VelocityUnspecified)

	addr := regtestAddr(t)
	inv, err := invoice.NewRGB20Builder(
		id, invoice.AddressBeneficiary(addr), 99,
	).Build()
	require.NoError(t, err)

	pay, err := env.pipeline.Pay(
		ctx, inv, coinselect.SmallSize, wallet.TxParams{}, 2000,
	)
	require.NoError(t, err)

	vout := pay.Prefab.BeneficiaryVout
	require.GreaterOrEqual(t, vout, 0)
	require.EqualValues(t, 2000, pay.Packet.UnsignedTx.TxOut[vout].Value)
	require.Len(t, pay.Terminals(), 1)

	// The beneficiary seal stays revealed in the consignment.
	var found bool
	for _, tr := range pay.Consignment.Transitions() {
		for _, a := range tr.Assignments {
			if a.Seal.Token() != pay.Terminals()[0] {
				continue
			}
			require.True(t, a.Seal.IsRevealed())
			require.Equal(t, seal.Wout(uint32(vout)),
				a.Seal.Revealed.Primary)
			require.EqualValues(t, 99, a.State.Amount)
			found = true
		}
	}
	require.True(t, found)

	benOp := wire.OutPoint{Hash: pay.Anchor.Txid, Index: uint32(vout)}
	require.Equal(t, []uint64{99}, env.amountsAt(t, id, benOp))
}

// TestPayCarriesForeignState tests that state of other contracts on the
// spent outputs moves to wallet outputs with blank transitions.
func TestPayCarriesForeignState(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t, dbc.MethodOpret)
	main := env.issue(t, "MAIN", env.rgbOp, 999, contract.VelocityUnspecified)
	other := env.issue(t, "OTHER", env.rgbOp, 500, contract.VelocityEpisodic)

	script, err := env.pipeline.Compose(
		ctx, blindedInvoice(t, main, receiverSeal(), 99),
		coinselect.Aggregate,
	)
	require.NoError(t, err)
	require.Len(t, script.Blanks, 1)
	require.Equal(t, other, script.Blanks[0].ContractID)
	require.ElementsMatch(t, []contract.VelocityHint{
		contract.VelocityUnspecified, contract.VelocityEpisodic,
	}, script.Velocities())

	pkt, prefab, err := env.pipeline.Exec(ctx, script, wallet.TxParams{}, 0)
	require.NoError(t, err)
	require.Len(t, prefab.Transitions, 2)

	blank := prefab.Transitions[1]
	require.Equal(t, contract.TransitionBlank, blank.Type)
	require.Equal(t, other, blank.ContractID)
	require.Len(t, blank.Assignments, 1)

	blankSeal := blank.Assignments[0].Seal.Revealed
	require.NotNil(t, blankSeal)
	hint, ok := rgbpsbt.VelocityHint(pkt, int(blankSeal.Primary.Vout))
	require.True(t, ok)
	require.Equal(t, contract.VelocityEpisodic, hint)

	pay, err := env.pipeline.Complete(ctx, pkt, prefab)
	require.NoError(t, err)
	require.ElementsMatch(
		t, []contract.ContractID{main, other}, pay.Anchor.Contracts(),
	)

	require.Empty(t, env.amountsAt(t, other, env.rgbOp))
	require.Equal(t, []uint64{500}, env.amountsAt(
		t, other, blankSeal.Outpoint(pay.Anchor.Txid),
	))
}

// TestVelocityFallback tests the choice of change outputs by velocity
// class.
func TestVelocityFallback(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		velocity contract.VelocityHint
		classes  []contract.VelocityHint
		err      error
	}{{
		name:     "exact class",
		velocity: contract.VelocityEpisodic,
		classes:  []contract.VelocityHint{contract.VelocityEpisodic},
	}, {
		name:     "fallback to unspecified",
		velocity: contract.VelocityFrequent,
		classes:  []contract.VelocityHint{contract.VelocityUnspecified},
	}, {
		name:     "no usable class",
		velocity: contract.VelocityUnspecified,
		classes:  []contract.VelocityHint{contract.VelocityEpisodic},
		err:      ErrNoBlankOrChange,
	}, {
		name:     "no change output",
		velocity: contract.VelocityUnspecified,
		classes:  []contract.VelocityHint{},
		err:      ErrNoBlankOrChange,
	}}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			env := newTestEnv(t, dbc.MethodOpret)
			id := env.issue(t, "TEST", env.rgbOp, 999, tc.velocity)

			pay, err := env.pipeline.Pay(
				ctx, blindedInvoice(t, id, receiverSeal(), 99),
				coinselect.Aggregate, wallet.TxParams{
					ChangeClasses: tc.classes,
				}, 0,
			)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)

				// Nothing is recorded on failure.
				require.Equal(t, []uint64{999},
					env.amountsAt(t, id, env.rgbOp))
				require.Zero(t, env.owner.Descriptor().Nonce)
				require.Empty(t, env.owner.Descriptor().Seals)
				return
			}
			require.NoError(t, err)

			vout := pay.Prefab.ChangeSeals[0].Primary.Vout
			hint, ok := rgbpsbt.VelocityHint(pay.Packet, int(vout))
			require.True(t, ok)
			require.Equal(t, tc.classes[0], hint)
		})
	}
}

// TestResolveInvoice tests the invoices the pipeline refuses to pay.
func TestResolveInvoice(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t, dbc.MethodOpret)
	id := env.issue(t, "TEST", env.rgbOp, 999, contract.VelocityUnspecified)
	token := receiverSeal().AuthToken()

	build := func(mod func(b *invoice.Builder)) *invoice.Invoice {
		b := invoice.NewRGB20Builder(
			id, invoice.BlindedBeneficiary(token), 99,
		)
		mod(b)
		inv, err := b.Build()
		require.NoError(t, err)
		return inv
	}

	tests := []struct {
		name string
		inv  *invoice.Invoice
		err  error
	}{{
		name: "expired",
		inv: build(func(b *invoice.Builder) {
			b.SetExpiry(testTime.Add(-time.Hour))
		}),
		err: ErrInvoiceExpired,
	}, {
		name: "no contract",
		inv: &invoice.Invoice{
			Iface:       invoice.IfaceRGB20,
			Amount:      fn.Ptr(uint64(99)),
			Beneficiary: invoice.BlindedBeneficiary(token),
		},
		err: ErrNoContract,
	}, {
		name: "no interface",
		inv: &invoice.Invoice{
			Contract:    &id,
			Amount:      fn.Ptr(uint64(99)),
			Beneficiary: invoice.BlindedBeneficiary(token),
		},
		err: ErrNoIface,
	}, {
		name: "unknown contract",
		inv: build(func(b *invoice.Builder) {
			b.SetContract(contract.ContractID{0x01})
		}),
		err: ErrNoContract,
	}, {
		name: "interface mismatch",
		inv: build(func(b *invoice.Builder) {
			b.SetIface("RGB21")
		}),
		err: ErrIfaceMismatch,
	}, {
		name: "network mismatch",
		inv: build(func(b *invoice.Builder) {
			b.SetNetwork(&chaincfg.TestNet3Params)
		}),
		err: ErrNetworkMismatch,
	}, {
		name: "zero amount",
		inv: build(func(b *invoice.Builder) {
			b.SetAmount(0)
		}),
		err: ErrNoAmount,
	}, {
		name: "insufficient state",
		inv: build(func(b *invoice.Builder) {
			b.SetAmount(1000)
		}),
		err: ErrInsufficientState,
	}}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.pipeline.Compose(
				ctx, tc.inv, coinselect.Aggregate,
			)
			require.ErrorIs(t, err, tc.err)
		})
	}

	// A future expiry is fine.
	inv := build(func(b *invoice.Builder) {
		b.SetExpiry(testTime.Add(time.Hour))
	})
	_, err := env.pipeline.Compose(ctx, inv, coinselect.Aggregate)
	require.NoError(t, err)

	// The clock decides.
	env.clock.SetTime(testTime.Add(2 * time.Hour))
	_, err = env.pipeline.Compose(ctx, inv, coinselect.Aggregate)
	require.ErrorIs(t, err, ErrInvoiceExpired)
}

// TestExecLeavesStateUntouched tests that only completing a payment
// changes the stock and the wallet.
func TestExecLeavesStateUntouched(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t, dbc.MethodTapret)
	id := env.issue(t, "TEST", env.rgbOp, 999, contract.VelocityUnspecified)

	script, err := env.pipeline.Compose(
		ctx, blindedInvoice(t, id, receiverSeal(), 99),
		coinselect.Aggregate,
	)
	require.NoError(t, err)
	require.Equal(t, []wire.OutPoint{env.rgbOp}, script.Outpoints)
	require.Len(t, script.Main.Inputs, 1)
	require.Len(t, script.Main.Outputs, 2)
	require.True(t, script.Main.Outputs[0].Beneficiary)
	require.Equal(t, contract.Amount(900), script.Main.Outputs[1].State)

	utxos := env.owner.Holder().Utxos()
	rgbKeychain := env.owner.Descriptor().RgbKeychain()
	nextRgb := utxos.NextIndex(rgbKeychain, false)

	pkt, prefab, err := env.pipeline.Exec(ctx, script, wallet.TxParams{}, 0)
	require.NoError(t, err)
	require.True(t, rgbpsbt.IsModifiable(pkt))
	require.Equal(t, nextRgb, utxos.NextIndex(rgbKeychain, false))
	require.False(t, rgbpsbt.IsCommitted(pkt))

	consumers, err := rgbpsbt.Consumers(pkt, 0)
	require.NoError(t, err)
	require.Equal(t, map[contract.ContractID]contract.OpID{
		id: prefab.Transitions[0].OpID(),
	}, consumers)

	require.Equal(t, []uint64{999}, env.amountsAt(t, id, env.rgbOp))
	require.Zero(t, env.owner.Descriptor().Nonce)
	require.Empty(t, env.owner.Descriptor().Tweaks)

	pay, err := env.pipeline.Complete(ctx, pkt, prefab)
	require.NoError(t, err)
	require.Empty(t, env.amountsAt(t, id, env.rgbOp))
	require.Equal(t, nextRgb+1, utxos.NextIndex(rgbKeychain, false))

	// Consigning again yields the same history.
	var b bytes.Buffer
	require.NoError(t, env.pipeline.Consign(
		ctx, id, pay.Terminals(), &b,
	))
	var c contract.Consignment
	require.NoError(t, c.Decode(&b))
	require.Len(t, c.Bundles, 1)
	require.NoError(t, stock.Validate(ctx, &c))
}
