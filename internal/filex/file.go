// Package filex holds small filesystem helpers shared by pipeline stages.
package filex

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// EnsureDir creates dir (and parents) when missing.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o770); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return nil
}

// Equal reports whether the two streams carry identical bytes. Comparison is
// chunked; neither stream is held in memory whole.
func Equal(a, b io.Reader) (bool, error) {
	bufA := make([]byte, 64*1024)
	bufB := make([]byte, 64*1024)

	for {
		nA, errA := io.ReadFull(a, bufA)
		nB, errB := io.ReadFull(b, bufB)

		if !bytes.Equal(bufA[:nA], bufB[:nB]) {
			return false, nil
		}

		doneA := errA == io.EOF || errA == io.ErrUnexpectedEOF
		doneB := errB == io.EOF || errB == io.ErrUnexpectedEOF

		if errA != nil && !doneA {
			return false, errA
		}
		if errB != nil && !doneB {
			return false, errB
		}
		if doneA || doneB {
			// Identical prefixes: equal only if both ended together.
			return doneA && doneB && nA == nB, nil
		}
	}
}
