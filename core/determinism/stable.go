// Package determinism holds the primitives every calculation path uses to stay
// reproducible: exact rounding, content hashes and stable orderings.
// Calculation code never ranges over a map without going through SortedKeys.
package determinism

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"slices"
)

// StableID is identical for identical inputs
type StableID string

// IDGenerator derives StableIDs within a namespace
type IDGenerator struct {
	namespace string
}

// NewIDGenerator creates an ID generator for namespace
func NewIDGenerator(namespace string) *IDGenerator {
	return &IDGenerator{namespace: namespace}
}

// Generate hashes the namespace and parts, NUL-separated so that
// ("ab", "c") and ("a", "bc") differ.
func (g *IDGenerator) Generate(parts ...string) StableID {
	h := NewHasher()
	h.Field(g.namespace)
	for _, p := range parts {
		h.Field(p)
	}
	return StableID(h.Sum().Hex()[:16])
}

// ContentHash is a SHA-256 digest
type ContentHash [32]byte

// Hex returns the full digest in hex
func (h ContentHash) Hex() string {
	return hex.EncodeToString(h[:])
}

// String returns an abbreviated digest for logs
func (h ContentHash) String() string {
	return h.Hex()[:16] + "..."
}

// Hasher accumulates NUL-terminated fields into a ContentHash
type Hasher struct {
	h hash.Hash
}

// NewHasher starts an empty hash
func NewHasher() *Hasher {
	return &Hasher{h: sha256.New()}
}

// Field appends one field
func (h *Hasher) Field(s string) *Hasher {
	h.h.Write([]byte(s))
	h.h.Write([]byte{0})
	return h
}

// Sum returns the digest of every field written so far
func (h *Hasher) Sum() ContentHash {
	var out ContentHash
	copy(out[:], h.h.Sum(nil))
	return out
}

// HashJSON hashes the JSON encoding of v.
// Struct fields encode in declaration order and map keys sorted, so the same
// value always gives the same hash.
func HashJSON(v any) (ContentHash, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return ContentHash{}, fmt.Errorf("encode for hashing: %w", err)
	}
	return sha256.Sum256(data), nil
}

// UniqueSorted returns a sorted copy of s with duplicates removed
func UniqueSorted(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	out := slices.Clone(s)
	slices.Sort(out)
	return slices.Compact(out)
}

// SortedKeys returns the keys of m in sorted order
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// SortSlice sorts slice stably by less
func SortSlice[T any](slice []T, less func(a, b T) bool) {
	slices.SortStableFunc(slice, func(a, b T) int {
		switch {
		case less(a, b):
			return -1
		case less(b, a):
			return 1
		default:
			return 0
		}
	})
}
