package fn

// Ptr returns the pointer of the given value.
func Ptr[T any](v T) *T {
	return &v
}

// ByteArray is a type constraint for types that reduce down to a 32 byte
// array, like all identifiers used across the module.
type ByteArray interface {
	~[32]byte
}

// ToArray takes a byte slice, and returns an array. The byte slice is expected
// to be of the correct size, extra bytes are ignored.
func ToArray[T ByteArray](v []byte) T {
	var arr T
	copy(arr[:], v)
	return arr
}

// CopySlice returns a copy of the given slice. Does a shallow copy of the
// slice itself, not the underlying elements.
func CopySlice[T any](slice []T) []T {
	if slice == nil {
		return nil
	}

	newSlice := make([]T, len(slice))
	copy(newSlice, slice)
	return newSlice
}
