// Package passgen generates per-run backup passphrases from the
// cryptographically secure random source. The passphrase is the sole
// protection on the uploaded backup, so a general PRNG is not acceptable here.
package passgen

import (
	"crypto/rand"
	"fmt"
)

// randRead is a test seam for crypto/rand.Read.
var randRead = rand.Read

// Generate returns a passphrase of exactly length characters drawn uniformly
// from charset. Charset is treated as a set of single-byte characters;
// duplicates are harmless. The random stream is over-read and filtered to
// charset members, so each member is equally likely.
func Generate(length int, charset string) (string, error) {
	if length < 1 {
		return "", fmt.Errorf("passphrase length must be positive, got %d", length)
	}
	if charset == "" {
		return "", fmt.Errorf("passphrase charset must not be empty")
	}

	var member [256]bool
	for i := 0; i < len(charset); i++ {
		member[charset[i]] = true
	}

	out := make([]byte, 0, length)
	buf := make([]byte, 128)
	for len(out) < length {
		if _, err := randRead(buf); err != nil {
			return "", fmt.Errorf("reading random source: %w", err)
		}
		for _, b := range buf {
			if member[b] {
				out = append(out, b)
				if len(out) == length {
					break
				}
			}
		}
	}

	return string(out), nil
}
