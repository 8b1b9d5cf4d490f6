// Package uuid mints run ids and crawl versions.
package uuid

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/JakeFAU/journal-crawler/internal/journal"
)

var _ journal.IDGenerator = Generator{}

// Generator mints UUIDv7 strings. Their time-ordered prefix makes crawl
// versions sort by creation.
type Generator struct{}

// New returns a Generator.
func New() Generator {
	return Generator{}
}

// NewID returns a fresh UUIDv7.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("mint id: %w", err)
	}
	return id.String(), nil
}

// Valid reports whether s parses as a UUID. Used to reject malformed run ids
// before they reach the store.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
