package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func isCryptoInit(err error) bool {
	return errors.Is(err, ErrCryptoInit)
}

// fastParams returns a cheap PBKDF2 parameter set for tests that exercise
// envelope semantics rather than KDF cost.
func fastParams(salt []byte) KdfParams {
	return KdfParams{
		Algorithm:  KdfPBKDF2SHA256,
		Salt:       salt,
		Iterations: 1000,
	}
}

func testSalt() []byte {
	salt := make([]byte, MinSaltSize)
	for i := range salt {
		salt[i] = byte(i + 1)
	}
	return salt
}

func TestDeriveMasterKeyDeterministic(t *testing.T) {
	params := fastParams(testSalt())

	mk1, err := DeriveMasterKey([]byte("correct horse battery staple"), params)
	if err != nil {
		t.Fatalf("DeriveMasterKey() error = %v", err)
	}
	mk2, err := DeriveMasterKey([]byte("correct horse battery staple"), params)
	if err != nil {
		t.Fatalf("DeriveMasterKey() error = %v", err)
	}
	if !bytes.Equal(mk1, mk2) {
		t.Error("same password and parameters produced different master keys")
	}
	if len(mk1) != MasterKeySize {
		t.Errorf("master key length = %d, expected %d", len(mk1), MasterKeySize)
	}
}

func TestDeriveMasterKeyPasswordSensitivity(t *testing.T) {
	params := fastParams(testSalt())

	mk1, err := DeriveMasterKey([]byte("correct horse battery staple"), params)
	if err != nil {
		t.Fatalf("DeriveMasterKey() error = %v", err)
	}
	mk2, err := DeriveMasterKey([]byte("wrong horse battery staple"), params)
	if err != nil {
		t.Fatalf("DeriveMasterKey() error = %v", err)
	}
	if bytes.Equal(mk1, mk2) {
		t.Error("different passwords produced the same master key")
	}
}

func TestDeriveMasterKeySaltSensitivity(t *testing.T) {
	salt2 := testSalt()
	salt2[0] ^= 0xFF

	mk1, err := DeriveMasterKey([]byte("correct horse battery staple"), fastParams(testSalt()))
	if err != nil {
		t.Fatalf("DeriveMasterKey() error = %v", err)
	}
	mk2, err := DeriveMasterKey([]byte("correct horse battery staple"), fastParams(salt2))
	if err != nil {
		t.Fatalf("DeriveMasterKey() error = %v", err)
	}
	if bytes.Equal(mk1, mk2) {
		t.Error("different salts produced the same master key")
	}
}

func TestDeriveMasterKeyIterationSensitivity(t *testing.T) {
	params1 := fastParams(testSalt())
	params2 := fastParams(testSalt())
	params2.Iterations = params1.Iterations + 1

	mk1, err := DeriveMasterKey([]byte("correct horse battery staple"), params1)
	if err != nil {
		t.Fatalf("DeriveMasterKey() error = %v", err)
	}
	mk2, err := DeriveMasterKey([]byte("correct horse battery staple"), params2)
	if err != nil {
		t.Fatalf("DeriveMasterKey() error = %v", err)
	}
	if bytes.Equal(mk1, mk2) {
		t.Error("different iteration counts produced the same master key")
	}
}

func TestDeriveMasterKeyArgon2id(t *testing.T) {
	params := KdfParams{
		Algorithm:  KdfArgon2id,
		Salt:       testSalt(),
		Iterations: 1,
		Memory:     1024,
		Threads:    1,
	}
	mk1, err := DeriveMasterKey([]byte("correct horse battery staple"), params)
	if err != nil {
		t.Fatalf("DeriveMasterKey() error = %v", err)
	}
	mk2, err := DeriveMasterKey([]byte("correct horse battery staple"), params)
	if err != nil {
		t.Fatalf("DeriveMasterKey() error = %v", err)
	}
	if !bytes.Equal(mk1, mk2) {
		t.Error("argon2id derivation is not deterministic")
	}
	if len(mk1) != MasterKeySize {
		t.Errorf("master key length = %d, expected %d", len(mk1), MasterKeySize)
	}
}

func TestKdfParamsValidate(t *testing.T) {
	tests := []struct {
		name   string
		params KdfParams
		valid  bool
	}{
		{"valid pbkdf2", fastParams(testSalt()), true},
		{"valid argon2id", KdfParams{Algorithm: KdfArgon2id, Salt: testSalt(), Iterations: 2, Memory: 65536, Threads: 2}, true},
		{"empty algorithm", KdfParams{Salt: testSalt(), Iterations: 1000}, false},
		{"unknown algorithm", KdfParams{Algorithm: "scrypt", Salt: testSalt(), Iterations: 1000}, false},
		{"short salt", KdfParams{Algorithm: KdfPBKDF2SHA256, Salt: make([]byte, MinSaltSize-1), Iterations: 1000}, false},
		{"no salt", KdfParams{Algorithm: KdfPBKDF2SHA256, Iterations: 1000}, false},
		{"zero iterations", KdfParams{Algorithm: KdfPBKDF2SHA256, Salt: testSalt()}, false},
		{"negative iterations", KdfParams{Algorithm: KdfPBKDF2SHA256, Salt: testSalt(), Iterations: -1}, false},
		{"argon2id no memory", KdfParams{Algorithm: KdfArgon2id, Salt: testSalt(), Iterations: 2, Threads: 2}, false},
		{"argon2id no threads", KdfParams{Algorithm: KdfArgon2id, Salt: testSalt(), Iterations: 2, Memory: 65536}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if tt.valid && err != nil {
				t.Errorf("Validate() error = %v, expected nil", err)
			}
			if !tt.valid {
				if err == nil {
					t.Fatal("Validate() expected error, got nil")
				}
				if !isCryptoInit(err) {
					t.Errorf("Validate() error = %v, expected ErrCryptoInit", err)
				}
			}
		})
	}
}

func TestDeriveMasterKeyEmptyPassword(t *testing.T) {
	_, err := DeriveMasterKey(nil, fastParams(testSalt()))
	if err == nil {
		t.Fatal("expected error for empty password")
	}
	if !isCryptoInit(err) {
		t.Errorf("error = %v, expected ErrCryptoInit", err)
	}
}

func TestDefaultKdfParams(t *testing.T) {
	params := DefaultKdfParams(testSalt())
	if params.Algorithm != KdfPBKDF2SHA256 {
		t.Errorf("algorithm = %q, expected %q", params.Algorithm, KdfPBKDF2SHA256)
	}
	if params.Iterations != 600000 {
		t.Errorf("fallback iterations = %d, expected 600000", params.Iterations)
	}
	if err := params.Validate(); err != nil {
		t.Errorf("default parameters failed validation: %v", err)
	}
}

func TestGenerateSaltUniqueness(t *testing.T) {
	salts := make([][]byte, 100)
	for i := range salts {
		var err error
		salts[i], err = GenerateSalt(MinSaltSize)
		if err != nil {
			t.Fatalf("GenerateSalt() error = %v", err)
		}
	}
	for i := 0; i < len(salts); i++ {
		for j := i + 1; j < len(salts); j++ {
			if bytes.Equal(salts[i], salts[j]) {
				t.Errorf("duplicate salts at indices %d and %d", i, j)
			}
		}
	}
}
