// Package sliceops holds byte order helpers.
package sliceops

// SwapBuf returns a reversed copy of in.
func SwapBuf[T any](in []T) []T {
	out := make([]T, len(in))
	for i, v := range in {
		out[len(in)-1-i] = v
	}
	return out
}
