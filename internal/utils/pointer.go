package utils

// Ptr returns a pointer to the given value. Useful for populating optional
// request fields inline.
func Ptr[T any](value T) *T {
	return &value
}
