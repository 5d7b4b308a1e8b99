package crypto

import (
	"fmt"
	"math"

	"github.com/trustelem/zxcvbn"
)

// PasswordRequirements holds the policy applied to encryption passwords
// before a master key is derived from them. The KDF slows offline attacks
// but cannot rescue a guessable password, so the gate sits in front of
// derivation.
type PasswordRequirements struct {
	MinLength      int
	MinEntropyBits float64
	MinScore       int // zxcvbn score 0-4
}

// DefaultPasswordRequirements is the policy for account encryption
// passwords.
var DefaultPasswordRequirements = PasswordRequirements{
	MinLength:      12,
	MinEntropyBits: 50.0,
	MinScore:       3,
}

// PasswordValidationResult reports the outcome of a strength check.
type PasswordValidationResult struct {
	Entropy          float64
	Score            int
	MeetsRequirement bool
	Feedback         []string
}

// ValidatePassword checks an encryption password against the requirements
// using zxcvbn pattern analysis. userInputs carries account-specific strings
// (username, email) that must not contribute to strength.
func ValidatePassword(password string, userInputs []string, reqs PasswordRequirements) PasswordValidationResult {
	result := PasswordValidationResult{MeetsRequirement: true}

	if len(password) < reqs.MinLength {
		result.MeetsRequirement = false
		result.Feedback = append(result.Feedback,
			fmt.Sprintf("password must be at least %d characters, got %d", reqs.MinLength, len(password)))
	}

	strength := zxcvbn.PasswordStrength(password, userInputs)
	result.Score = strength.Score
	if strength.Guesses > 0 {
		result.Entropy = math.Log2(strength.Guesses)
	}

	if result.Score < reqs.MinScore {
		result.MeetsRequirement = false
		result.Feedback = append(result.Feedback,
			fmt.Sprintf("password is too predictable (score %d, need %d)", result.Score, reqs.MinScore))
	}
	if result.Entropy < reqs.MinEntropyBits {
		result.MeetsRequirement = false
		result.Feedback = append(result.Feedback,
			fmt.Sprintf("password entropy %.1f bits below required %.1f", result.Entropy, reqs.MinEntropyBits))
	}

	return result
}

// RequireStrongPassword is the error-returning form used by registration
// flows.
func RequireStrongPassword(password string, userInputs []string) error {
	result := ValidatePassword(password, userInputs, DefaultPasswordRequirements)
	if !result.MeetsRequirement {
		if len(result.Feedback) > 0 {
			return fmt.Errorf("weak encryption password: %s", result.Feedback[0])
		}
		return fmt.Errorf("weak encryption password")
	}
	return nil
}
