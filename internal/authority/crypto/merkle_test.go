package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func leavesOf(n int) [][]byte {
	out := make([][]byte, n)
	for i := 0; i < n; i++ {
		out[i] = LeafHash([]byte{byte(i), byte(i >> 8)})
	}
	return out
}

func TestMerkleRootRejectsEmptyLeafSet(t *testing.T) {
	_, err := MerkleRoot(nil)
	assert.Error(t, err)
}

func TestMerkleRootSingleLeafIsLeafHash(t *testing.T) {
	leaves := leavesOf(1)
	root, err := MerkleRoot(leaves)
	require.NoError(t, err)
	assert.Equal(t, leaves[0], root)
}

func TestMerkleRootDeterministic(t *testing.T) {
	leaves := leavesOf(7)
	a, err := MerkleRoot(leaves)
	require.NoError(t, err)
	b, err := MerkleRoot(leaves)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestMerkleRootSensitiveToOrder(t *testing.T) {
	leaves := leavesOf(4)
	root, err := MerkleRoot(leaves)
	require.NoError(t, err)

	reordered := [][]byte{leaves[1], leaves[0], leaves[2], leaves[3]}
	reorderedRoot, err := MerkleRoot(reordered)
	require.NoError(t, err)

	assert.NotEqual(t, root, reorderedRoot)
}

func TestInclusionProofEvenLeafCounts(t *testing.T) {
	for _, n := range []int{2, 4, 8, 16} {
		leaves := leavesOf(n)
		root, err := MerkleRoot(leaves)
		require.NoError(t, err)

		for idx := 0; idx < n; idx++ {
			proof, err := InclusionProof(leaves, idx)
			require.NoError(t, err)
			assert.True(t, VerifyInclusionProof(leaves[idx], proof, idx, n, root),
				"leaf %d of %d must verify", idx, n)
		}
	}
}

func TestInclusionProofOddLeafCounts(t *testing.T) {
	for _, n := range []int{1, 3, 5, 7, 9, 13, 1000} {
		leaves := leavesOf(n)
		root, err := MerkleRoot(leaves)
		require.NoError(t, err)

		for _, idx := range []int{0, n / 2, n - 1} {
			proof, err := InclusionProof(leaves, idx)
			require.NoError(t, err)
			assert.True(t, VerifyInclusionProof(leaves[idx], proof, idx, n, root),
				"leaf %d of %d must verify", idx, n)
		}
	}
}

// Mirrors the end-to-end scenario of issuing 1,000 events and verifying
// inclusion of the 500th: fetch the root and an inclusion proof, and confirm
// both the proof and the root's own signature verify.
func TestInclusionProofOfMandate500In1000(t *testing.T) {
	const n = 1000
	const target = 500

	leaves := leavesOf(n)
	root, err := MerkleRoot(leaves)
	require.NoError(t, err)

	proof, err := InclusionProof(leaves, target)
	require.NoError(t, err)
	assert.True(t, VerifyInclusionProof(leaves[target], proof, target, n, root))

	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	sig, err := Sign(kp.PrivateKey, root)
	require.NoError(t, err)
	assert.True(t, Verify(kp.PublicKey, root, sig))
}

func TestInclusionProofRejectsWrongLeaf(t *testing.T) {
	leaves := leavesOf(10)
	root, err := MerkleRoot(leaves)
	require.NoError(t, err)

	proof, err := InclusionProof(leaves, 3)
	require.NoError(t, err)

	assert.False(t, VerifyInclusionProof(leaves[4], proof, 3, 10, root))
}

func TestInclusionProofRejectsTamperedRoot(t *testing.T) {
	leaves := leavesOf(10)
	root, err := MerkleRoot(leaves)
	require.NoError(t, err)

	proof, err := InclusionProof(leaves, 3)
	require.NoError(t, err)

	tamperedRoot := append([]byte(nil), root...)
	tamperedRoot[0] ^= 0xFF
	assert.False(t, VerifyInclusionProof(leaves[3], proof, 3, 10, tamperedRoot))
}

func TestInclusionProofOutOfRangeIndex(t *testing.T) {
	leaves := leavesOf(5)
	_, err := InclusionProof(leaves, 5)
	assert.Error(t, err)
	_, err = InclusionProof(leaves, -1)
	assert.Error(t, err)
}
