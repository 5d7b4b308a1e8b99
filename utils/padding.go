package utils

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
)

// PaddingCalculator handles ciphertext padding so the storage backend does
// not learn exact file sizes. Padding sits outside the authenticated
// envelope: the declared chunk geometry bounds the real ciphertext, and the
// download path reads only that many bytes.
type PaddingCalculator struct{}

// NewPaddingCalculator creates a new padding calculator instance.
func NewPaddingCalculator() *PaddingCalculator {
	return &PaddingCalculator{}
}

// CalculatePaddedSize returns the padded blob size for a given ciphertext
// size using tiered block rounding plus a random component.
func (p *PaddingCalculator) CalculatePaddedSize(originalSize int64) (int64, error) {
	var blockSize int64

	switch {
	case originalSize < 1*1024*1024: // < 1MB
		blockSize = 64 * 1024 // 64KB blocks
	case originalSize < 100*1024*1024: // < 100MB
		blockSize = 1024 * 1024 // 1MB blocks
	case originalSize < 1024*1024*1024: // < 1GB
		blockSize = 10 * 1024 * 1024 // 10MB blocks
	default:
		blockSize = 100 * 1024 * 1024 // 100MB blocks
	}

	// Random padding of 0-10% of the block size on top of block rounding.
	maxRandom := big.NewInt(blockSize / 10)
	randomPadding, err := rand.Int(rand.Reader, maxRandom)
	if err != nil {
		return 0, fmt.Errorf("failed to generate random padding: %w", err)
	}

	padded := ((originalSize + blockSize - 1) / blockSize) * blockSize
	return padded + randomPadding.Int64(), nil
}

// GetPaddingSize calculates how much padding is needed given original and
// target sizes.
func (p *PaddingCalculator) GetPaddingSize(originalSize, targetSize int64) int64 {
	if targetSize <= originalSize {
		return 0
	}
	return targetSize - originalSize
}

// PaddingReader yields cryptographically random padding bytes up to its
// size, then EOF. Appended after the real ciphertext with io.MultiReader.
type PaddingReader struct {
	Remaining int64
}

// Read fills p with random bytes until the padding budget is exhausted.
func (r *PaddingReader) Read(p []byte) (int, error) {
	if r.Remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > r.Remaining {
		p = p[:r.Remaining]
	}
	n, err := rand.Read(p)
	r.Remaining -= int64(n)
	return n, err
}
