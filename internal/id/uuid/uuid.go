// Package uuid provides ID generation helpers.
package uuid

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Generator creates random identifiers.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUIDv7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// ShortID returns the first n hex characters of a random UUIDv4. v4 is used
// because the leading bits of a v7 are a timestamp and collide within a second.
func (Generator) ShortID(n int) (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate uuid4: %w", err)
	}
	hexed := strings.ReplaceAll(id.String(), "-", "")
	if n <= 0 || n > len(hexed) {
		n = len(hexed)
	}
	return hexed[:n], nil
}
