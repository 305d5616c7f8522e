// Package audiohash fingerprints audio buffers so persisted results can be
// tied back to the exact bytes they were computed from.
package audiohash

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"

	"lukechampine.com/blake3"
)

// FromReader returns the hex BLAKE3-256 digest of everything read from r.
func FromReader(r io.Reader) (string, error) {
	h := blake3.New(32, nil)
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("calculating blake3 hash: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// FromBytes returns the hex BLAKE3-256 digest of b.
func FromBytes(b []byte) string {
	sum, _ := FromReader(bytes.NewReader(b))
	return sum
}
