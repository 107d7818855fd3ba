// Package types defines the foundational identifiers, keys, and values
// shared by every Strata primitive: RunID, Key, and Value.
package types

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// RunID identifies a run (a.k.a. branch): a logical isolation unit whose
// keys all share a namespace prefix. "Run" and "branch" name the same
// concept here; Strata unifies them under this one identifier type.
type RunID uuid.UUID

// NewRunID generates a random (v4) RunID.
func NewRunID() RunID {
	return RunID(uuid.New())
}

// RunIDFromBytes reconstructs a RunID from its raw 16 bytes.
func RunIDFromBytes(b [16]byte) RunID {
	return RunID(b)
}

// Bytes returns the raw 16 bytes of the RunID.
func (r RunID) Bytes() [16]byte {
	return [16]byte(r)
}

func (r RunID) String() string {
	return uuid.UUID(r).String()
}

// Hex returns the lowercase hex encoding used for on-disk vector cache
// directory names: vectors/<branch_hex>/<collection>.vec.
func (r RunID) Hex() string {
	b := r.Bytes()
	return hex.EncodeToString(b[:])
}

// Compare orders two RunIDs byte-for-byte, matching UUID byte ordering.
func (r RunID) Compare(other RunID) int {
	a, b := r.Bytes(), other.Bytes()
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// VectorID is a 64-bit counter allocated by the vector backend, unique
// within a (run, collection) heap.
type VectorID uint64
