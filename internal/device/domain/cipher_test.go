package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCipherRoundTrip(t *testing.T) {
	c := NewCipher("router-admin-secret")

	encrypted, err := c.Encrypt("hunter2")
	require.NoError(t, err)
	require.NotEqual(t, "hunter2", encrypted)

	plain, err := c.Decrypt(encrypted)
	require.NoError(t, err)
	require.Equal(t, "hunter2", plain)
}

func TestCipherNoncesDiffer(t *testing.T) {
	c := NewCipher("router-admin-secret")

	first, err := c.Encrypt("hunter2")
	require.NoError(t, err)
	second, err := c.Encrypt("hunter2")
	require.NoError(t, err)
	require.NotEqual(t, first, second)
}

func TestCipherRejectsTamperedInput(t *testing.T) {
	c := NewCipher("router-admin-secret")

	encrypted, err := c.Encrypt("hunter2")
	require.NoError(t, err)

	tampered := encrypted[:len(encrypted)-2] + "xx"
	_, err = c.Decrypt(tampered)
	require.ErrorIs(t, err, ErrCredentialDecrypt)
}

func TestCipherRejectsWrongKey(t *testing.T) {
	encrypted, err := NewCipher("secret-a").Encrypt("hunter2")
	require.NoError(t, err)

	_, err = NewCipher("secret-b").Decrypt(encrypted)
	require.ErrorIs(t, err, ErrCredentialDecrypt)
}

func TestCipherRejectsMalformedEncoding(t *testing.T) {
	c := NewCipher("router-admin-secret")

	for _, encoded := range []string{"", "v1", "v0:abc:def", "v1:!!!:def", "v1:abc"} {
		_, err := c.Decrypt(encoded)
		require.ErrorIs(t, err, ErrCredentialDecrypt, encoded)
	}
}

func TestCipherRequiresSecret(t *testing.T) {
	c := NewCipher("  ")

	_, err := c.Encrypt("hunter2")
	require.ErrorIs(t, err, ErrEncryptionKeyMissing)

	_, err = c.Decrypt("v1:abc:def")
	require.ErrorIs(t, err, ErrEncryptionKeyMissing)
}
