// Package sha256 provides the hex digests used for URL identity, content
// identity and shard checksums.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// Hex returns the lowercase hex SHA-256 digest of data.
func Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// String hashes s.
func String(s string) string {
	return Hex([]byte(s))
}

// Reader streams r through SHA-256 and returns the digest and byte count.
func Reader(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, fmt.Errorf("hash stream: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// File checksums the file at path.
func File(path string) (string, int64, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from the shard directory
	if err != nil {
		return "", 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // read-only handle
	return Reader(f)
}
