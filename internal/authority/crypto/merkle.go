package crypto

import (
	"crypto/sha256"
	"fmt"
)

// RFC-6962-style domain separation bytes: leaves and internal nodes are
// hashed under different prefixes so a leaf hash can never be mistaken for
// an internal node hash.
const (
	leafPrefix     byte = 0x00
	internalPrefix byte = 0x01
)

// LeafHash returns the leaf hash of a canonical ledger-event encoding:
// SHA-256(0x00 ‖ eventBytes).
func LeafHash(eventBytes []byte) []byte {
	h := sha256.New()
	h.Write([]byte{leafPrefix})
	h.Write(eventBytes)
	return h.Sum(nil)
}

func internalHash(left, right []byte) []byte {
	h := sha256.New()
	h.Write([]byte{internalPrefix})
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}

// largestPowerOfTwoLessThan returns the largest k = 2^i with k < n, for n > 1.
// This is the RFC 6962 MTH split point.
func largestPowerOfTwoLessThan(n int) int {
	k := 1
	for k*2 < n {
		k *= 2
	}
	return k
}

// MerkleRoot computes the RFC-6962 Merkle Tree Hash over leaves (already
// leaf-hashed via LeafHash). Returns an error for an empty leaf set — a
// root over zero events is undefined.
func MerkleRoot(leaves [][]byte) ([]byte, error) {
	if len(leaves) == 0 {
		return nil, fmt.Errorf("crypto: merkle root requires at least one leaf")
	}
	return mth(leaves), nil
}

func mth(leaves [][]byte) []byte {
	n := len(leaves)
	if n == 1 {
		return leaves[0]
	}
	k := largestPowerOfTwoLessThan(n)
	return internalHash(mth(leaves[:k]), mth(leaves[k:]))
}

// InclusionProof returns the RFC 6962 audit path for leaves[index]: the
// sibling hashes needed to recompute the root, ordered leaf-to-root.
func InclusionProof(leaves [][]byte, index int) ([][]byte, error) {
	if index < 0 || index >= len(leaves) {
		return nil, fmt.Errorf("crypto: index %d out of range for %d leaves", index, len(leaves))
	}
	return path(index, leaves), nil
}

func path(m int, leaves [][]byte) [][]byte {
	n := len(leaves)
	if n == 1 {
		return nil
	}
	k := largestPowerOfTwoLessThan(n)
	if m < k {
		return append(path(m, leaves[:k]), mth(leaves[k:]))
	}
	return append(path(m-k, leaves[k:]), mth(leaves[:k]))
}

// VerifyInclusionProof recomputes the root from leaf and its audit path
// (siblings, as returned by InclusionProof, leaf-to-root order) given the
// leaf's index and the total leaf count, and reports whether it equals root.
func VerifyInclusionProof(leaf []byte, siblings [][]byte, leafIndex, leafCount int, root []byte) bool {
	got := reconstruct(leaf, siblings, leafIndex, leafCount)
	return got != nil && bytesEqual(got, root)
}

// reconstruct walks the same recursive split as path/mth to determine, at
// each level, whether the recorded sibling belongs on the left or right.
func reconstruct(leaf []byte, siblings [][]byte, m, n int) []byte {
	if n <= 0 || m < 0 || m >= n {
		return nil
	}
	if n == 1 {
		if len(siblings) != 0 {
			return nil // proof too long for this subtree
		}
		return leaf
	}
	k := largestPowerOfTwoLessThan(n)
	if len(siblings) == 0 {
		return nil
	}
	last := siblings[len(siblings)-1]
	rest := siblings[:len(siblings)-1]

	if m < k {
		sub := reconstruct(leaf, rest, m, k)
		if sub == nil {
			return nil
		}
		return internalHash(sub, last)
	}
	sub := reconstruct(leaf, rest, m-k, n-k)
	if sub == nil {
		return nil
	}
	return internalHash(last, sub)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
