package crypto

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func testShareFields(t *testing.T) (dek, cipherIV, nameEnc, nameIV []byte) {
	t.Helper()
	dek, err := GenerateDEK()
	if err != nil {
		t.Fatalf("GenerateDEK() error = %v", err)
	}
	cipherIV, err = GenerateBaseIV()
	if err != nil {
		t.Fatalf("GenerateBaseIV() error = %v", err)
	}
	nameIV, err = GenerateNonce()
	if err != nil {
		t.Fatalf("GenerateNonce() error = %v", err)
	}
	nameEnc, err = EncryptGCM([]byte("a.txt"), dek, nameIV, []byte(aadFilename))
	if err != nil {
		t.Fatalf("EncryptGCM() error = %v", err)
	}
	return dek, cipherIV, nameEnc, nameIV
}

func TestShareSecretRoundTrip(t *testing.T) {
	dek, cipherIV, nameEnc, nameIV := testShareFields(t)

	fragment, err := ExportShareSecret(dek, cipherIV, nameEnc, nameIV)
	if err != nil {
		t.Fatalf("ExportShareSecret() error = %v", err)
	}

	secret, err := ImportShareSecret(fragment)
	if err != nil {
		t.Fatalf("ImportShareSecret() error = %v", err)
	}
	if !bytes.Equal(secret.DEK, dek) {
		t.Error("DEK did not round trip")
	}
	if !bytes.Equal(secret.CipherIV, cipherIV) {
		t.Error("cipher IV did not round trip")
	}
	if !bytes.Equal(secret.MetaNameEnc, nameEnc) {
		t.Error("encrypted filename did not round trip")
	}
	if !bytes.Equal(secret.MetaNameIV, nameIV) {
		t.Error("filename IV did not round trip")
	}

	// The recipient can recover the filename from the fragment alone.
	filename, err := DecryptFilename(secret.MetaNameEnc, secret.MetaNameIV, secret.DEK)
	if err != nil {
		t.Fatalf("DecryptFilename() error = %v", err)
	}
	if filename != "a.txt" {
		t.Errorf("filename = %q, expected %q", filename, "a.txt")
	}
}

func TestShareFragmentFormat(t *testing.T) {
	dek, cipherIV, nameEnc, nameIV := testShareFields(t)

	fragment, err := ExportShareSecret(dek, cipherIV, nameEnc, nameIV)
	if err != nil {
		t.Fatalf("ExportShareSecret() error = %v", err)
	}
	parts := strings.Split(fragment, ShareFragmentDelimiter)
	if len(parts) != 4 {
		t.Fatalf("fragment has %d fields, expected 4", len(parts))
	}
	// URL-fragment safety: no characters that need percent-encoding and no
	// base64 padding, which would collide with nothing but looks ambiguous.
	for _, forbidden := range []string{"+", "/", "=", "#", "?", "&"} {
		if strings.Contains(fragment, forbidden) {
			t.Errorf("fragment contains forbidden character %q", forbidden)
		}
	}
}

func TestImportShareSecretMalformed(t *testing.T) {
	dek, cipherIV, nameEnc, nameIV := testShareFields(t)
	valid, err := ExportShareSecret(dek, cipherIV, nameEnc, nameIV)
	if err != nil {
		t.Fatalf("ExportShareSecret() error = %v", err)
	}
	parts := strings.Split(valid, ShareFragmentDelimiter)

	tests := []struct {
		name     string
		fragment string
	}{
		{"empty", ""},
		{"one field", parts[0]},
		{"three fields", strings.Join(parts[:3], ".")},
		{"five fields", valid + "." + parts[0]},
		{"empty field", parts[0] + ".." + parts[2] + "." + parts[3]},
		{"invalid base64url", "!!!." + parts[1] + "." + parts[2] + "." + parts[3]},
		{"standard base64 alphabet", "++++." + parts[1] + "." + parts[2] + "." + parts[3]},
		{"short DEK", "AAAA." + parts[1] + "." + parts[2] + "." + parts[3]},
		{"short cipher IV", parts[0] + ".AAAA." + parts[2] + "." + parts[3]},
		{"short filename field", parts[0] + "." + parts[1] + ".AAAA." + parts[3]},
		{"short filename IV", parts[0] + "." + parts[1] + "." + parts[2] + ".AAAA"},
		{"truncated fragment", valid[:len(valid)/2]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ImportShareSecret(tt.fragment)
			if !errors.Is(err, ErrMalformedShareLink) {
				t.Errorf("error = %v, expected ErrMalformedShareLink", err)
			}
		})
	}
}

func TestExportShareSecretRejectsBadFields(t *testing.T) {
	dek, cipherIV, nameEnc, nameIV := testShareFields(t)

	if _, err := ExportShareSecret(dek[:16], cipherIV, nameEnc, nameIV); err == nil {
		t.Error("expected error for short DEK")
	}
	if _, err := ExportShareSecret(dek, cipherIV[:4], nameEnc, nameIV); err == nil {
		t.Error("expected error for short cipher IV")
	}
	if _, err := ExportShareSecret(dek, cipherIV, nameEnc[:TagSize-1], nameIV); err == nil {
		t.Error("expected error for short encrypted filename")
	}
	if _, err := ExportShareSecret(dek, cipherIV, nameEnc, nameIV[:4]); err == nil {
		t.Error("expected error for short filename IV")
	}
}
