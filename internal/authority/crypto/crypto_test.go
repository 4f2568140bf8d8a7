package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKeyPairProducesUsableKeys(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	assert.NotEmpty(t, kp.PublicKey)
	assert.NotEmpty(t, kp.PrivateKey)

	sig, err := Sign(kp.PrivateKey, []byte("hello"))
	require.NoError(t, err)
	assert.True(t, Verify(kp.PublicKey, []byte("hello"), sig))
}

func TestSignVerifyRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	msg := []byte("canonical mandate bytes")
	sig, err := Sign(kp.PrivateKey, msg)
	require.NoError(t, err)

	assert.True(t, Verify(kp.PublicKey, msg, sig))
}

func TestVerifyRejectsTamperedMessage(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	sig, err := Sign(kp.PrivateKey, []byte("original"))
	require.NoError(t, err)

	assert.False(t, Verify(kp.PublicKey, []byte("tampered"), sig))
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	kp1, err := GenerateKeyPair()
	require.NoError(t, err)
	kp2, err := GenerateKeyPair()
	require.NoError(t, err)

	sig, err := Sign(kp1.PrivateKey, []byte("message"))
	require.NoError(t, err)

	assert.False(t, Verify(kp2.PublicKey, []byte("message"), sig))
}

func TestVerifyNeverErrorsOnMalformedInput(t *testing.T) {
	assert.False(t, Verify(nil, []byte("x"), nil))
	assert.False(t, Verify([]byte("too-short"), []byte("x"), []byte("also-too-short")))
}

func TestSignMandateVerifyMandateRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	f := sampleFields()
	sig, err := SignMandate(kp.PrivateKey, f)
	require.NoError(t, err)

	assert.True(t, VerifyMandate(kp.PublicKey, f, sig))
}

func TestVerifyMandateRejectsFieldTamper(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	f := sampleFields()
	sig, err := SignMandate(kp.PrivateKey, f)
	require.NoError(t, err)

	tampered := f
	tampered.ActionScope = []string{"delete"}
	assert.False(t, VerifyMandate(kp.PublicKey, tampered, sig))
}

func TestHash256Deterministic(t *testing.T) {
	a := Hash256([]byte("payload"))
	b := Hash256([]byte("payload"))
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)

	c := Hash256([]byte("different"))
	assert.NotEqual(t, a, c)
}
