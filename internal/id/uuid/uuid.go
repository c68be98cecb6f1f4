// Package uuid generates run IDs.
package uuid

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/JakeFAU/gumgenie-scout/internal/market"
)

// Generator creates time-ordered UUIDv7 run IDs, so listing run
// directories lexically also lists them by start time.
type Generator struct{}

var _ market.IDGenerator = Generator{}

// New creates a new Generator.
func New() Generator {
	return Generator{}
}

// NewID returns a UUIDv7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	return id.String(), nil
}
