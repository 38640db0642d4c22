package coinselect

import (
	"math"
	"math/rand"
	"testing"

	"github.com/lightninglabs/rgb/contract"
	"github.com/stretchr/testify/require"
)

type coin struct {
	name   string
	amount uint64
}

func coinState(c coin) contract.State {
	return contract.Amount(c.amount)
}

func names(coins []coin) []string {
	n := make([]string, len(coins))
	for i, c := range coins {
		n[i] = c.name
	}
	return n
}

func TestSelect(t *testing.T) {
	t.Parallel()

	candidates := []coin{
		{"a", 50}, {"b", 10}, {"c", 30}, {"d", 10}, {"e", 100},
	}

	testCases := []struct {
		name     string
		strategy Strategy
		target   uint64
		expected []string
		err      error
	}{{
		name:     "aggregate ascending",
		strategy: Aggregate,
		target:   45,
		expected: []string{"b", "d", "c"},
	}, {
		name:     "aggregate stable on ties",
		strategy: Aggregate,
		target:   20,
		expected: []string{"b", "d"},
	}, {
		name:     "smallsize descending",
		strategy: SmallSize,
		target:   120,
		expected: []string{"e", "a"},
	}, {
		name:     "exact match stops",
		strategy: SmallSize,
		target:   100,
		expected: []string{"e"},
	}, {
		name:     "zero target selects nothing",
		strategy: Aggregate,
		target:   0,
		expected: nil,
	}, {
		name:     "insufficient",
		strategy: Aggregate,
		target:   201,
		err:      ErrInsufficientState,
	}, {
		name:     "unknown strategy",
		strategy: Strategy(7),
		target:   1,
		err:      ErrUnknownStrategy,
	}}

	for _, tc := range testCases {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			acc := NewAmountCalc(tc.target)
			selected, err := Select(
				tc.strategy, candidates, coinState, acc,
			)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				require.Nil(t, selected)
				return
			}

			require.NoError(t, err)
			if tc.expected == nil {
				require.Empty(t, selected)
			} else {
				require.Equal(t, tc.expected, names(selected))
			}
			require.True(t, acc.IsSatisfied())
		})
	}

	// The input slice keeps its order.
	require.Equal(t, []string{"a", "b", "c", "d", "e"}, names(candidates))
}

func TestSmallSizeNeverNeedsMoreInputs(t *testing.T) {
	t.Parallel()

	rnd := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		candidates := make([]coin, 1+rnd.Intn(12))
		var total uint64
		for j := range candidates {
			candidates[j].amount = uint64(1 + rnd.Intn(1000))
			total += candidates[j].amount
		}
		target := uint64(rnd.Int63n(int64(total))) + 1

		aggregate, err := Select(
			Aggregate, candidates, coinState, NewAmountCalc(target),
		)
		require.NoError(t, err)

		small, err := Select(
			SmallSize, candidates, coinState, NewAmountCalc(target),
		)
		require.NoError(t, err)

		require.LessOrEqual(t, len(small), len(aggregate))
	}
}

func TestAmountCalc(t *testing.T) {
	t.Parallel()

	acc := NewAmountCalc(100)
	require.False(t, acc.IsSatisfied())
	require.NoError(t, acc.Accumulate(contract.Amount(99)))
	require.False(t, acc.IsSatisfied())
	require.NoError(t, acc.Accumulate(contract.Amount(900)))
	require.True(t, acc.IsSatisfied())
	require.EqualValues(t, 999, acc.Gathered())
	require.EqualValues(t, 899, acc.Surplus())

	require.ErrorIs(
		t, acc.Accumulate(contract.Void()), ErrUnsupportedState,
	)
	require.ErrorIs(
		t, acc.Accumulate(contract.Amount(math.MaxUint64)),
		contract.ErrAmountOverflow,
	)
}

func TestParseStrategy(t *testing.T) {
	t.Parallel()

	for _, s := range []Strategy{Aggregate, SmallSize} {
		parsed, err := ParseStrategy(s.String())
		require.NoError(t, err)
		require.Equal(t, s, parsed)
	}

	_, err := ParseStrategy("largest")
	require.ErrorIs(t, err, ErrUnknownStrategy)
}
