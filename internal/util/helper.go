// Package util holds small generic helpers shared by the codec and the engine.
package util

import (
	"cmp"
	"slices"
)

// CloneSlice clones src into a new slice of cloneSize elements.
// src length is used as the clone size if cloneSize is 0. A nil or empty
// src with cloneSize 0 yields nil, so decoded empty payloads compare equal to nil.
func CloneSlice[T any](src []T, cloneSize int) []T {
	if cloneSize == 0 {
		cloneSize = len(src)
	}
	if cloneSize == 0 {
		return nil
	}
	clone := make([]T, cloneSize)
	copy(clone, src)

	return clone
}

// SortedKeys returns the keys of m in ascending order.
func SortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	return keys
}

// Clamp limits v to [lo, hi].
func Clamp[T cmp.Ordered](v, lo, hi T) T {
	return min(max(v, lo), hi)
}
