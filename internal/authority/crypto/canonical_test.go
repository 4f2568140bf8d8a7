package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleFields() MandateFields {
	return MandateFields{
		IssuerID:        "principal-issuer",
		SubjectID:       "principal-subject",
		ValidFrom:       1700000000000,
		ValidUntil:      1700003600000,
		ResourceScope:   []string{"db:orders:*", "queue:shipping"},
		ActionScope:     []string{"read", "write"},
		ParentMandateID: "",
		DelegationDepth: 0,
		IntentHash:      nil,
	}
}

func TestCanonicalEncodeDeterministic(t *testing.T) {
	f := sampleFields()
	a := CanonicalEncode(f)
	b := CanonicalEncode(f)
	assert.Equal(t, a, b)
}

func TestCanonicalEncodeDistinguishesFields(t *testing.T) {
	a := CanonicalEncode(sampleFields())
	other := sampleFields()
	other.DelegationDepth = 1
	b := CanonicalEncode(other)
	assert.NotEqual(t, a, b)
}

func TestCanonicalRoundTrip(t *testing.T) {
	f := sampleFields()
	f.ParentMandateID = "mandate-parent"
	f.DelegationDepth = 2
	f.IntentHash = Hash256([]byte("intent payload"))

	encoded := CanonicalEncode(f)
	decoded, err := DecodeCanonical(encoded)
	require.NoError(t, err)

	assert.Equal(t, f, decoded)
	assert.Equal(t, encoded, CanonicalEncode(decoded))
}

func TestCanonicalRoundTripWithNullOptionalFields(t *testing.T) {
	f := sampleFields()
	encoded := CanonicalEncode(f)
	decoded, err := DecodeCanonical(encoded)
	require.NoError(t, err)

	assert.Empty(t, decoded.ParentMandateID)
	assert.Empty(t, decoded.IntentHash)
	assert.Equal(t, encoded, CanonicalEncode(decoded))
}

func TestDecodeCanonicalRejectsTruncatedInput(t *testing.T) {
	f := sampleFields()
	encoded := CanonicalEncode(f)

	_, err := DecodeCanonical(encoded[:len(encoded)-1])
	assert.Error(t, err)

	_, err = DecodeCanonical(nil)
	assert.Error(t, err)
}
