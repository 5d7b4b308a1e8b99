package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateUsername(t *testing.T) {
	tests := []struct {
		name     string
		username string
		valid    bool
	}{
		{"simple", "alice", true},
		{"with digits", "alice42", true},
		{"with separators", "alice.smith_dev-1", true},
		{"minimum length", "abc", true},
		{"empty", "", false},
		{"too short", "ab", false},
		{"leading dot", ".alice", false},
		{"spaces", "alice smith", false},
		{"unicode", "alïce", false},
		{"too long", strings.Repeat("a", 70), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUsername(tt.username)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
