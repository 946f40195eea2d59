package security

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Purposes for key derivation. Each purpose yields an independent subkey of
// the gateway master key.
const (
	PurposeLinks       = "m62-link-record-v1"
	PurposeCredentials = "m62-registry-credential-v1"
)

const sealSalt = "m62-document-gateway"

// DeriveKey derives a 32-byte subkey of master for purpose using HKDF-SHA256.
func DeriveKey(master []byte, purpose string) ([]byte, error) {
	if len(master) < 32 {
		return nil, errors.New("master key must be at least 32 bytes")
	}
	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, master, []byte(sealSalt), []byte(purpose))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive %s key: %w", purpose, err)
	}
	return key, nil
}

// XSealer encrypts with XChaCha20-Poly1305 and a fresh random nonce per call.
// Output layout is nonce || ciphertext.
type XSealer struct {
	aead cipher.AEAD
}

func NewXSealer(master []byte, purpose string) (*XSealer, error) {
	key, err := DeriveKey(master, purpose)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init xchacha20-poly1305: %w", err)
	}
	return &XSealer{aead: aead}, nil
}

func (s *XSealer) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *XSealer) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < s.aead.NonceSize()+s.aead.Overhead() {
		return nil, errors.New("sealed payload too short")
	}
	nonce, ciphertext := sealed[:s.aead.NonceSize()], sealed[s.aead.NonceSize():]
	plain, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("open sealed payload: %w", err)
	}
	return plain, nil
}
