package crypto

import "io"

// SetRandReaderForTesting replaces the random source used for key
// generation, nonces and salts. Returns a function restoring the original.
func SetRandReaderForTesting(r io.Reader) func() {
	original := randReader
	randReader = r
	return func() { randReader = original }
}
