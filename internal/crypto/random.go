package crypto

import (
	"crypto/rand"
	"fmt"
	"io"
)

// randReader is the random source for nonces, salts and key generation.
// Tests may override it to make outputs deterministic.
var randReader io.Reader = rand.Reader

// RandomBytes returns n bytes from the package random source.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(randReader, b); err != nil {
		return nil, fmt.Errorf("read random: %w", err)
	}
	return b, nil
}

// Wipe zeroes b in place. Best effort; Go may have copied the data.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
