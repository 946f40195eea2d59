package secrets

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/viralforge/mesh/services/integrations/M62-document-gateway/internal/domain"
)

const (
	secretFileMagic   = "M62-SECRET"
	secretFileVersion = 1

	saltSize      = 16
	argon2Time    = 1
	argon2Memory  = 64 * 1024
	argon2Threads = 4
)

var (
	secretNamePattern  = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,128}$`)
	errInvalidFile     = errors.New("invalid secret file")
	errPassphraseUnset = errors.New("secret file is encrypted but no passphrase is configured")
)

// FileStore keeps one secret per file in a 0700 directory with 0600 files.
// With a passphrase, values are encrypted with an argon2id-derived key.
type FileStore struct {
	dir        string
	passphrase []byte
}

func NewFileStore(dir string, passphrase []byte) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("secret directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create secret dir: %w", err)
	}
	if err := os.Chmod(dir, 0o700); err != nil {
		return nil, fmt.Errorf("restrict secret dir: %w", err)
	}
	return &FileStore{dir: dir, passphrase: passphrase}, nil
}

func (s *FileStore) Get(_ context.Context, name string) (string, error) {
	path, err := s.path(name)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", domain.ErrSecretNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read secret %s: %w", name, err)
	}
	value, err := s.decode(data)
	if err != nil {
		return "", fmt.Errorf("decode secret %s: %w", name, err)
	}
	return string(value), nil
}

// Put writes the secret atomically, replacing any previous value.
func (s *FileStore) Put(_ context.Context, name, value string) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}
	data, err := s.encode([]byte(value))
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, ".tmp-"+name+"-*")
	if err != nil {
		return fmt.Errorf("create temp secret: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp secret: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp secret: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp secret: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("install secret %s: %w", name, err)
	}
	return nil
}

func (s *FileStore) path(name string) (string, error) {
	if !secretNamePattern.MatchString(name) {
		return "", fmt.Errorf("%w: secret name %q", domain.ErrInvalidInput, name)
	}
	return filepath.Join(s.dir, name+".secret"), nil
}

func (s *FileStore) encode(value []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(secretFileMagic)
	buf.WriteByte(secretFileVersion)
	if len(s.passphrase) == 0 {
		buf.WriteByte(0)
		buf.Write(value)
		return buf.Bytes(), nil
	}

	buf.WriteByte(1)
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(s.deriveKey(salt))
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	buf.Write(salt)
	buf.Write(nonce)
	buf.Write(aead.Seal(nil, nonce, value, []byte(secretFileMagic)))
	return buf.Bytes(), nil
}

func (s *FileStore) decode(data []byte) ([]byte, error) {
	header := len(secretFileMagic) + 2
	if len(data) < header || string(data[:len(secretFileMagic)]) != secretFileMagic {
		return nil, errInvalidFile
	}
	if v := data[len(secretFileMagic)]; v != secretFileVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", errInvalidFile, v)
	}
	body := data[header:]
	if data[header-1] == 0 {
		return body, nil
	}

	if len(s.passphrase) == 0 {
		return nil, errPassphraseUnset
	}
	if len(body) < saltSize+chacha20poly1305.NonceSizeX {
		return nil, errInvalidFile
	}
	salt := body[:saltSize]
	nonce := body[saltSize : saltSize+chacha20poly1305.NonceSizeX]
	aead, err := chacha20poly1305.NewX(s.deriveKey(salt))
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, nonce, body[saltSize+chacha20poly1305.NonceSizeX:], []byte(secretFileMagic))
}

func (s *FileStore) deriveKey(salt []byte) []byte {
	return argon2.IDKey(s.passphrase, salt, argon2Time, argon2Memory, argon2Threads, chacha20poly1305.KeySize)
}
