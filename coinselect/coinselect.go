package coinselect

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/lightninglabs/rgb/contract"
	"github.com/lightninglabs/rgb/fn"
	"golang.org/x/exp/slices"
)

var (
	// ErrInsufficientState is returned when all candidates together don't
	// satisfy the target.
	ErrInsufficientState = errors.New("coinselect: insufficient state to " +
		"cover the target")

	// ErrUnknownStrategy is returned when parsing an unknown strategy.
	ErrUnknownStrategy = errors.New("coinselect: unknown strategy")

	// ErrUnsupportedState is returned when an accumulator is fed state of
	// a kind it can't count.
	ErrUnsupportedState = errors.New("coinselect: unsupported state kind")
)

// Strategy defines the order in which candidates are consumed.
type Strategy uint8

const (
	// Aggregate consumes candidates in ascending order of value, leaving
	// the least value behind per coin at the cost of more inputs.
	Aggregate Strategy = iota

	// SmallSize consumes candidates in descending order of value,
	// minimizing the number of inputs.
	SmallSize
)

// String returns the name of the strategy.
func (s Strategy) String() string {
	switch s {
	case Aggregate:
		return "aggregate"
	case SmallSize:
		return "smallsize"
	default:
		return fmt.Sprintf("<unknown strategy %d>", uint8(s))
	}
}

// ParseStrategy parses the name of a strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(s) {
	case "aggregate", "":
		return Aggregate, nil
	case "smallsize", "small-size":
		return SmallSize, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
	}
}

// Accumulator gathers state until it covers its target.
type Accumulator interface {
	// Accumulate adds the state to the gathered total.
	Accumulate(state contract.State) error

	// IsSatisfied returns true once the target is covered.
	IsSatisfied() bool
}

// AmountCalc accumulates fungible amounts.
type AmountCalc struct {
	target   uint64
	gathered uint64
}

// NewAmountCalc returns an accumulator for the fungible target amount.
func NewAmountCalc(target uint64) *AmountCalc {
	return &AmountCalc{target: target}
}

// Accumulate adds the amount of fungible state.
func (a *AmountCalc) Accumulate(state contract.State) error {
	if !state.IsFungible() {
		return fmt.Errorf("%w: %v", ErrUnsupportedState, state)
	}
	if a.gathered > math.MaxUint64-state.Amount {
		return contract.ErrAmountOverflow
	}

	a.gathered += state.Amount
	return nil
}

// IsSatisfied returns true once the gathered amount reaches the target.
func (a *AmountCalc) IsSatisfied() bool {
	return a.gathered >= a.target
}

// Gathered returns the amount gathered so far.
func (a *AmountCalc) Gathered() uint64 {
	return a.gathered
}

// Surplus returns the amount gathered above the target.
func (a *AmountCalc) Surplus() uint64 {
	if a.gathered < a.target {
		return 0
	}
	return a.gathered - a.target
}

var _ Accumulator = (*AmountCalc)(nil)

// Select picks candidates in the order of the strategy until the accumulator
// is satisfied. Candidates of equal value keep their relative order. The
// candidates slice isn't modified.
func Select[T any](strategy Strategy, candidates []T,
	state func(T) contract.State, acc Accumulator) ([]T, error) {

	sorted := fn.CopySlice(candidates)

	switch strategy {
	case Aggregate:
		slices.SortStableFunc(sorted, func(a, b T) bool {
			return state(a).Amount < state(b).Amount
		})

	case SmallSize:
		slices.SortStableFunc(sorted, func(a, b T) bool {
			return state(a).Amount > state(b).Amount
		})

	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownStrategy, strategy)
	}

	var selected []T
	for _, candidate := range sorted {
		if acc.IsSatisfied() {
			break
		}

		if err := acc.Accumulate(state(candidate)); err != nil {
			return nil, err
		}
		selected = append(selected, candidate)
	}

	if !acc.IsSatisfied() {
		return nil, ErrInsufficientState
	}

	log.Debugf("Selected %d of %d candidates with strategy %v",
		len(selected), len(candidates), strategy)

	return selected, nil
}
