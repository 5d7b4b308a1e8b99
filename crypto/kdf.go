package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

// KDF algorithm identifiers. The server issues the algorithm per account at
// crypto-init time; old accounts keep deriving with the algorithm they were
// created under.
const (
	KdfPBKDF2SHA256 = "pbkdf2-sha256"
	KdfArgon2id     = "argon2id"
)

const (
	// MasterKeySize is the size of the derived master key in bytes.
	MasterKeySize = 32

	// DefaultPBKDF2Iterations is the fallback iteration count used when the
	// server does not override it. Matches the login flow default.
	DefaultPBKDF2Iterations = 600000

	// MinSaltSize is the minimum acceptable KDF salt length.
	MinSaltSize = 16
)

// Argon2id tuning used when the server issues KdfArgon2id parameters without
// explicit memory/threads overrides.
const (
	DefaultArgon2Memory  uint32 = 64 * 1024 // KB
	DefaultArgon2Threads uint8  = 2
)

// KdfParams holds the server-issued key derivation parameters for an
// account. The values are public but integrity-relevant: a changed iteration
// count changes the derived key, so they are always fetched fresh from the
// server and never cached across accounts.
type KdfParams struct {
	Algorithm  string
	Salt       []byte
	Iterations int
	Memory     uint32 // Argon2id only, KB
	Threads    uint8  // Argon2id only
}

// Validate checks that the parameters are complete and well-formed. A
// malformed parameter set fails with ErrCryptoInit rather than silently
// deriving from defaults, which would produce confusing wrong-password
// symptoms on every later operation.
func (p KdfParams) Validate() error {
	if len(p.Salt) < MinSaltSize {
		return fmt.Errorf("%w: salt must be at least %d bytes, got %d", ErrCryptoInit, MinSaltSize, len(p.Salt))
	}
	switch p.Algorithm {
	case KdfPBKDF2SHA256:
		if p.Iterations <= 0 {
			return fmt.Errorf("%w: pbkdf2 iteration count must be positive, got %d", ErrCryptoInit, p.Iterations)
		}
	case KdfArgon2id:
		if p.Iterations <= 0 {
			return fmt.Errorf("%w: argon2id time parameter must be positive, got %d", ErrCryptoInit, p.Iterations)
		}
		if p.Memory < 1024 {
			return fmt.Errorf("%w: argon2id memory must be at least 1024 KB, got %d", ErrCryptoInit, p.Memory)
		}
		if p.Threads == 0 {
			return fmt.Errorf("%w: argon2id threads must be positive", ErrCryptoInit)
		}
	case "":
		return fmt.Errorf("%w: algorithm not set", ErrCryptoInit)
	default:
		return fmt.Errorf("%w: unsupported algorithm %q", ErrCryptoInit, p.Algorithm)
	}
	return nil
}

// DefaultKdfParams returns PBKDF2-SHA256 parameters with the fallback
// iteration count for a given salt.
func DefaultKdfParams(salt []byte) KdfParams {
	return KdfParams{
		Algorithm:  KdfPBKDF2SHA256,
		Salt:       salt,
		Iterations: DefaultPBKDF2Iterations,
	}
}

// DeriveMasterKey derives the account master key from a password and the
// server-issued KDF parameters. Deterministic: the same inputs always yield
// the same key, since the server never sees the master key and must remain
// decryption-agnostic. Pure function of its inputs; the caller owns caching
// and erasure of the result.
func DeriveMasterKey(password []byte, params KdfParams) ([]byte, error) {
	if len(password) == 0 {
		return nil, fmt.Errorf("%w: password cannot be empty", ErrCryptoInit)
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	switch params.Algorithm {
	case KdfPBKDF2SHA256:
		return pbkdf2.Key(password, params.Salt, params.Iterations, MasterKeySize, sha256.New), nil
	case KdfArgon2id:
		return argon2.IDKey(password, params.Salt, uint32(params.Iterations), params.Memory, params.Threads, MasterKeySize), nil
	default:
		// Validate catches this; kept as a guard against future variants.
		return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrCryptoInit, params.Algorithm)
	}
}

// GenerateSalt generates a cryptographically secure random salt.
func GenerateSalt(length int) ([]byte, error) {
	salt := make([]byte, length)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}
