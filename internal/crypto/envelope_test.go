package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestCustody(t *testing.T) *KeyCustody {
	t.Helper()
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i)
	}
	kc, err := NewKeyCustody(raw)
	require.NoError(t, err)
	return kc
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	kc := newTestCustody(t)
	subject := []byte("principal:1001")
	plaintext := []byte("pk:AAAABBBBCCCCDDDD")

	blob, err := kc.Encrypt(subject, InfoSigningMaterial, plaintext)
	require.NoError(t, err)

	got, err := kc.Decrypt(subject, InfoSigningMaterial, blob)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestDecryptFailsOnTamperedCiphertext(t *testing.T) {
	kc := newTestCustody(t)
	subject := []byte("principal:1001")

	blob, err := kc.Encrypt(subject, InfoSigningMaterial, []byte("pk:AAAABBBBCCCCDDDD"))
	require.NoError(t, err)

	tampered := []byte(blob)
	tampered[len(tampered)/2] ^= 0x01

	_, err = kc.Decrypt(subject, InfoSigningMaterial, string(tampered))
	require.Error(t, err)
}

func TestDecryptFailsOnTruncation(t *testing.T) {
	kc := newTestCustody(t)
	subject := []byte("principal:1001")

	blob, err := kc.Encrypt(subject, InfoSigningMaterial, []byte("pk:AAAABBBBCCCCDDDD"))
	require.NoError(t, err)

	truncated := blob[:len(blob)-4]
	_, err = kc.Decrypt(subject, InfoSigningMaterial, truncated)
	require.Error(t, err)
}

func TestDecryptFailsOnUninitializedHandle(t *testing.T) {
	var kc *KeyCustody
	_, err := kc.Decrypt([]byte("x"), InfoSigningMaterial, "anything")
	require.Error(t, err)
}

func TestDifferentSubjectsProduceDifferentSubKeys(t *testing.T) {
	kc := newTestCustody(t)
	plaintext := []byte("pk:AAAABBBBCCCCDDDD")

	blobA, err := kc.Encrypt([]byte("principal:1"), InfoSigningMaterial, plaintext)
	require.NoError(t, err)

	_, err = kc.Decrypt([]byte("principal:2"), InfoSigningMaterial, blobA)
	require.Error(t, err, "decrypting under a different subject's derived key must fail")
}

func TestIsEncryptedStructuralCheck(t *testing.T) {
	kc := newTestCustody(t)
	blob, err := kc.Encrypt([]byte("principal:1"), InfoSigningMaterial, []byte("pk:AAAABBBBCCCCDDDD"))
	require.NoError(t, err)

	require.True(t, IsEncrypted(blob, 10))
	require.False(t, IsEncrypted("not-base64!!!", 10))
	require.False(t, IsEncrypted("AAAA", 10))
}
