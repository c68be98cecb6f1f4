// Package sha256 digests merged artifacts so re-merges can be compared.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/JakeFAU/gumgenie-scout/internal/market"
)

// Hasher implements market.Hasher.
type Hasher struct{}

var _ market.Hasher = (*Hasher)(nil)

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the lowercase hex digest of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
