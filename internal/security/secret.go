// Package security stores and checks the secrets clients present to the
// local rotating proxy. A stored secret is either plain text, an "enc:"
// value sealed with PROXYFINDER_SECRET_KEY, or a bcrypt hash.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

const (
	secretKeyEnv    = "PROXYFINDER_SECRET_KEY"
	EncryptedPrefix = "enc:"
)

var ErrMissingKey = errors.New("secret key not set: " + secretKeyEnv)

var (
	cipherOnce sync.Once
	cipherInst cipher.AEAD
	cipherErr  error
)

func getCipher() (cipher.AEAD, error) {
	cipherOnce.Do(func() {
		rawKey := strings.TrimSpace(os.Getenv(secretKeyEnv))
		if rawKey == "" {
			cipherErr = ErrMissingKey
			return
		}

		block, err := aes.NewCipher(deriveKey(rawKey))
		if err != nil {
			cipherErr = fmt.Errorf("create cipher: %w", err)
			return
		}

		cipherInst, cipherErr = cipher.NewGCM(block)
	})

	return cipherInst, cipherErr
}

func resetCipher() {
	cipherOnce = sync.Once{}
	cipherInst = nil
	cipherErr = nil
}

// deriveKey accepts a base64 AES key of a valid size and hashes anything else.
func deriveKey(raw string) []byte {
	if decoded, err := base64.StdEncoding.DecodeString(raw); err == nil {
		switch len(decoded) {
		case 16, 24, 32:
			return decoded
		}
	}
	sum := sha256.Sum256([]byte(raw))
	return sum[:]
}

func SealSecret(plain string) (string, error) {
	if plain == "" {
		return "", nil
	}

	gcm, err := getCipher()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	payload := gcm.Seal(nonce, nonce, []byte(plain), nil)
	return EncryptedPrefix + base64.StdEncoding.EncodeToString(payload), nil
}

// OpenSecret reverses SealSecret. Values without the prefix are returned as is.
func OpenSecret(value string) (string, error) {
	encoded, sealed := strings.CutPrefix(value, EncryptedPrefix)
	if !sealed {
		return value, nil
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	gcm, err := getCipher()
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) <= nonceSize {
		return "", errors.New("ciphertext too short")
	}

	plain, err := gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("decrypt ciphertext: %w", err)
	}
	return string(plain), nil
}

func HashSecret(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func IsHashed(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}

// MatchSecret reports whether given matches the stored secret.
func MatchSecret(stored, given string) (bool, error) {
	if IsHashed(stored) {
		err := bcrypt.CompareHashAndPassword([]byte(stored), []byte(given))
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		return err == nil, err
	}

	plain, err := OpenSecret(stored)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(plain), []byte(given)) == 1, nil
}
