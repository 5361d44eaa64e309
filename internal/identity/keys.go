package identity

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
)

const (
	signingKeyFile = "signing.key"
	signingKeyBits = 2048
)

// KeyManager owns the RSA key that signs user tokens. It creates and
// persists the key on first run and reloads it on subsequent starts, so
// tokens survive restarts.
type KeyManager struct {
	dir string
	key *rsa.PrivateKey
	kid string
}

// NewKeyManager returns a KeyManager that stores the key in dir. An empty dir
// keeps the key in memory only.
func NewKeyManager(dir string) *KeyManager {
	return &KeyManager{dir: dir}
}

// LoadOrCreate loads the key from disk if it exists; creates a new one otherwise.
func (m *KeyManager) LoadOrCreate() error {
	if m.dir == "" {
		return m.generate()
	}
	if err := m.Load(); err == nil {
		return nil
	}
	return m.Create()
}

// Load reads an existing PEM-encoded key from the configured directory.
func (m *KeyManager) Load() error {
	keyPEM, err := os.ReadFile(filepath.Join(m.dir, signingKeyFile))
	if err != nil {
		return fmt.Errorf("read signing key: %w", err)
	}
	key, err := decodeKey(keyPEM)
	if err != nil {
		return err
	}
	return m.activate(key)
}

// Create generates a new key, saves it to disk, and activates it.
func (m *KeyManager) Create() error {
	if err := os.MkdirAll(m.dir, 0o700); err != nil {
		return fmt.Errorf("create key dir %q: %w", m.dir, err)
	}
	if err := m.generate(); err != nil {
		return err
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(m.key)})
	if err := os.WriteFile(filepath.Join(m.dir, signingKeyFile), keyPEM, 0o600); err != nil {
		return fmt.Errorf("write signing key: %w", err)
	}
	return nil
}

// Key returns the active private key.
func (m *KeyManager) Key() *rsa.PrivateKey { return m.key }

// KeyID returns the "kid" under which the active key is published.
func (m *KeyManager) KeyID() string { return m.kid }

func (m *KeyManager) generate() error {
	key, err := rsa.GenerateKey(rand.Reader, signingKeyBits)
	if err != nil {
		return fmt.Errorf("generate signing key: %w", err)
	}
	return m.activate(key)
}

func (m *KeyManager) activate(key *rsa.PrivateKey) error {
	kid, err := KeyIDFor(&key.PublicKey)
	if err != nil {
		return err
	}
	m.key = key
	m.kid = kid
	return nil
}

// KeyIDFor derives a stable key id from the SHA-256 of the PKIX public key.
func KeyIDFor(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:8]), nil
}

func decodeKey(keyPEM []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, fmt.Errorf("failed to decode private key PEM")
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}
