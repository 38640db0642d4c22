package fn

// Map applies the given function to every element of the slice and returns
// the results in the same order.
func Map[I, O any, S []I](s S, f func(I) O) []O {
	output := make([]O, len(s))
	for i, x := range s {
		output[i] = f(x)
	}

	return output
}

// MapErr is like Map, but aborts on the first error returned by f.
func MapErr[I, O any, S []I](s S, f func(I) (O, error)) ([]O, error) {
	output := make([]O, 0, len(s))
	for _, x := range s {
		y, err := f(x)
		if err != nil {
			return nil, err
		}

		output = append(output, y)
	}

	return output, nil
}

// Filter returns the items of the slice for which the predicate returns true.
func Filter[T any](s []T, pred func(T) bool) []T {
	var output []T
	for _, x := range s {
		if pred(x) {
			output = append(output, x)
		}
	}

	return output
}

// Count returns the number of items in the slice that satisfy the predicate.
func Count[T any](xs []T, pred func(T) bool) int {
	var count int
	for i := range xs {
		if pred(xs[i]) {
			count++
		}
	}

	return count
}
