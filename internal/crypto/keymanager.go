// Package crypto stores broker API credentials encrypted at rest, so a live
// trading key never has to sit in a plaintext config file.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// pbkdf2Iterations is the OWASP-recommended minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	// saltLen is the random salt length in bytes.
	saltLen = 16
	// aesKeyLen is the derived AES-256 key length.
	aesKeyLen = 32
	// currentVersion is the encrypted-credentials JSON schema version.
	currentVersion = 1
)

// Credentials is one broker API key pair.
type Credentials struct {
	KeyID  string `json:"key_id"`
	Secret string `json:"secret"`
}

// encryptedCredsJSON is the on-disk format for encrypted credentials.
type encryptedCredsJSON struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`       // base64 standard encoding
	Nonce      string `json:"nonce"`      // base64 standard encoding
	Ciphertext string `json:"ciphertext"` // base64 standard encoding
}

// CredentialConfig carries the information LoadCredentials needs to resolve
// a broker key pair. Populate the fields from environment variables or the
// config file.
type CredentialConfig struct {
	// KeyID and Secret, when both set, are returned directly.
	KeyID  string
	Secret string

	// EncryptedPath is the path to a JSON file produced by EncryptCredentials.
	EncryptedPath string

	// Password decrypts the file at EncryptedPath.
	Password string
}

// EncryptCredentials encrypts a broker key pair with a password using
// PBKDF2-HMAC-SHA256 key derivation and AES-256-GCM authenticated
// encryption. It returns the JSON blob suitable for writing to disk.
func EncryptCredentials(creds Credentials, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	if creds.KeyID == "" || creds.Secret == "" {
		return nil, errors.New("crypto: key ID and secret must not be empty")
	}

	plaintext, err := json.Marshal(creds)
	if err != nil {
		return nil, fmt.Errorf("crypto: marshal credentials: %w", err)
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generating salt: %w", err)
	}
	derivedKey := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)

	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}

	out := encryptedCredsJSON{
		Version:    currentVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, plaintext, nil)),
	}
	return json.MarshalIndent(out, "", "  ")
}

// DecryptCredentials decrypts a JSON blob produced by EncryptCredentials.
func DecryptCredentials(encryptedJSON []byte, password string) (Credentials, error) {
	if password == "" {
		return Credentials{}, errors.New("crypto: password must not be empty")
	}

	var stored encryptedCredsJSON
	if err := json.Unmarshal(encryptedJSON, &stored); err != nil {
		return Credentials{}, fmt.Errorf("crypto: parsing encrypted credentials JSON: %w", err)
	}
	if stored.Version != currentVersion {
		return Credentials{}, fmt.Errorf("crypto: unsupported version %d", stored.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(stored.Salt)
	if err != nil {
		return Credentials{}, fmt.Errorf("crypto: decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(stored.Nonce)
	if err != nil {
		return Credentials{}, fmt.Errorf("crypto: decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(stored.Ciphertext)
	if err != nil {
		return Credentials{}, fmt.Errorf("crypto: decoding ciphertext: %w", err)
	}

	derivedKey := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)

	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return Credentials{}, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return Credentials{}, fmt.Errorf("crypto: creating GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return Credentials{}, fmt.Errorf("crypto: decryption failed (wrong password?): %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return Credentials{}, fmt.Errorf("crypto: parsing decrypted credentials: %w", err)
	}
	return creds, nil
}

// LoadCredentials resolves broker credentials from the provided
// configuration.
//
// Resolution order:
//  1. If KeyID and Secret are both set, return them directly.
//  2. If EncryptedPath is set, read the file and decrypt with Password.
//  3. Otherwise, return an error.
func LoadCredentials(cfg CredentialConfig) (Credentials, error) {
	if cfg.KeyID != "" && cfg.Secret != "" {
		return Credentials{KeyID: cfg.KeyID, Secret: cfg.Secret}, nil
	}

	if cfg.EncryptedPath != "" {
		data, err := os.ReadFile(cfg.EncryptedPath)
		if err != nil {
			return Credentials{}, fmt.Errorf("crypto: reading encrypted credentials file: %w", err)
		}
		return DecryptCredentials(data, cfg.Password)
	}

	return Credentials{}, errors.New("crypto: no credential source configured (set key/secret or encrypted path)")
}
