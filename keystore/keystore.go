// Package keystore is the device-side secure store used for silent master
// key re-derivation after process restart. It escrows the encryption
// password and KDF parameters per account, encrypted under a device key
// that never leaves the local machine. Entries are deleted on logout.
package keystore

import (
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/hkdf"

	"github.com/coffercloud/coffer/crypto"
)

const deviceKeySize = 32

// Credentials is the escrowed material for one account: enough to re-derive
// the master key without prompting, never the master key itself in a
// directly usable persisted form.
type Credentials struct {
	Password   string `json:"password"`
	Algorithm  string `json:"algorithm"`
	Salt       []byte `json:"salt"`
	Iterations int    `json:"iterations"`
	Memory     uint32 `json:"memory,omitempty"`
	Threads    uint8  `json:"threads,omitempty"`
}

// KdfParams reconstructs the derivation parameters from the escrowed entry.
func (c *Credentials) KdfParams() crypto.KdfParams {
	return crypto.KdfParams{
		Algorithm:  c.Algorithm,
		Salt:       c.Salt,
		Iterations: c.Iterations,
		Memory:     c.Memory,
		Threads:    c.Threads,
	}
}

// Store is a sqlite-backed escrow store. Each row is an AES-GCM sealed
// credentials blob under an HKDF subkey of the device key, so a copied
// database file is useless without the key file next to it.
type Store struct {
	db        *sql.DB
	deviceKey []byte
}

// Open opens (or creates) the store at the given path. The device key lives
// alongside the database in a 0600 file and is generated on first use.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create keystore directory: %w", err)
	}

	deviceKey, err := loadOrCreateDeviceKey(path + ".key")
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open keystore database: %w", err)
	}
	s := &Store{db: db, deviceKey: deviceKey}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// OpenWithDB wraps an existing database handle, for tests.
func OpenWithDB(db *sql.DB, deviceKey []byte) (*Store, error) {
	if len(deviceKey) != deviceKeySize {
		return nil, fmt.Errorf("device key must be %d bytes, got %d", deviceKeySize, len(deviceKey))
	}
	return &Store{db: db, deviceKey: deviceKey}, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS escrow (
			username   TEXT PRIMARY KEY,
			nonce      BLOB NOT NULL,
			ciphertext BLOB NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`)
	if err != nil {
		return fmt.Errorf("failed to create escrow table: %w", err)
	}
	return nil
}

func loadOrCreateDeviceKey(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	if err == nil {
		if len(key) != deviceKeySize {
			return nil, fmt.Errorf("device key file %s has wrong size %d", path, len(key))
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read device key: %w", err)
	}

	key = make([]byte, deviceKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate device key: %w", err)
	}
	if err := os.WriteFile(path, key, 0600); err != nil {
		return nil, fmt.Errorf("failed to write device key: %w", err)
	}
	return key, nil
}

// entryKey derives a per-account sealing key from the device key. Domain
// separation per username keeps entries independent.
func (s *Store) entryKey(username string) ([]byte, error) {
	info := []byte("coffer:keystore:escrow:" + username)
	reader := hkdf.Expand(sha256.New, s.deviceKey, info)
	key := make([]byte, crypto.KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("failed to derive entry key: %w", err)
	}
	return key, nil
}

// SaveCredentials escrows the credentials for an account, replacing any
// existing entry.
func (s *Store) SaveCredentials(username string, creds *Credentials) error {
	if username == "" {
		return fmt.Errorf("username cannot be empty")
	}
	key, err := s.entryKey(username)
	if err != nil {
		return err
	}
	defer crypto.SecureZeroBytes(key)

	plaintext, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}
	defer crypto.SecureZeroBytes(plaintext)

	nonce, err := crypto.GenerateNonce()
	if err != nil {
		return err
	}
	ciphertext, err := crypto.EncryptGCM(plaintext, key, nonce, []byte(username))
	if err != nil {
		return fmt.Errorf("failed to seal credentials: %w", err)
	}

	_, err = s.db.Exec(
		"REPLACE INTO escrow (username, nonce, ciphertext) VALUES (?, ?, ?)",
		username, nonce, ciphertext,
	)
	if err != nil {
		return fmt.Errorf("failed to store escrow entry: %w", err)
	}
	return nil
}

// LoadCredentials retrieves and unseals the escrowed credentials for an
// account. Returns (nil, nil) when no entry exists, which callers treat as
// "master key undefined until next login".
func (s *Store) LoadCredentials(username string) (*Credentials, error) {
	var nonce, ciphertext []byte
	err := s.db.QueryRow(
		"SELECT nonce, ciphertext FROM escrow WHERE username = ?", username,
	).Scan(&nonce, &ciphertext)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query escrow: %w", err)
	}

	key, err := s.entryKey(username)
	if err != nil {
		return nil, err
	}
	defer crypto.SecureZeroBytes(key)

	plaintext, err := crypto.DecryptGCM(ciphertext, key, nonce, []byte(username))
	if err != nil {
		return nil, fmt.Errorf("failed to unseal escrow entry: %w", err)
	}
	defer crypto.SecureZeroBytes(plaintext)

	var creds Credentials
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return nil, fmt.Errorf("failed to decode credentials: %w", err)
	}
	return &creds, nil
}

// DeleteCredentials removes the escrow entry for an account. Called on
// logout; idempotent.
func (s *Store) DeleteCredentials(username string) error {
	_, err := s.db.Exec("DELETE FROM escrow WHERE username = ?", username)
	if err != nil {
		return fmt.Errorf("failed to delete escrow entry: %w", err)
	}
	return nil
}

// Close releases the underlying database and wipes the device key copy.
func (s *Store) Close() error {
	crypto.SecureZeroBytes(s.deviceKey)
	return s.db.Close()
}
