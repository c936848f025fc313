package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	creds := Credentials{KeyID: "PKTEST123", Secret: "sekrit-value"}

	blob, err := EncryptCredentials(creds, "hunter2")
	require.NoError(t, err)
	require.NotContains(t, string(blob), "sekrit-value", "secret must not appear in the ciphertext blob")

	got, err := DecryptCredentials(blob, "hunter2")
	require.NoError(t, err)
	require.Equal(t, creds, got)
}

func TestDecryptWrongPassword(t *testing.T) {
	blob, err := EncryptCredentials(Credentials{KeyID: "k", Secret: "s"}, "right")
	require.NoError(t, err)

	_, err = DecryptCredentials(blob, "wrong")
	require.Error(t, err)
}

func TestEncryptRejectsEmptyInputs(t *testing.T) {
	_, err := EncryptCredentials(Credentials{KeyID: "k", Secret: "s"}, "")
	require.Error(t, err)

	_, err = EncryptCredentials(Credentials{}, "pw")
	require.Error(t, err)
}

func TestLoadCredentialsPrefersDirectPair(t *testing.T) {
	got, err := LoadCredentials(CredentialConfig{KeyID: "k", Secret: "s", EncryptedPath: "/nope"})
	require.NoError(t, err)
	require.Equal(t, Credentials{KeyID: "k", Secret: "s"}, got)
}

func TestLoadCredentialsFromEncryptedFile(t *testing.T) {
	creds := Credentials{KeyID: "live-key", Secret: "live-secret"}
	blob, err := EncryptCredentials(creds, "pw")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "broker.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	got, err := LoadCredentials(CredentialConfig{EncryptedPath: path, Password: "pw"})
	require.NoError(t, err)
	require.Equal(t, creds, got)
}

func TestLoadCredentialsNoSource(t *testing.T) {
	_, err := LoadCredentials(CredentialConfig{})
	require.Error(t, err)
}
