// Package mnemonic converts 256-bit recovery entropy to and from a 24-word
// BIP-39 English phrase.
package mnemonic

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/tyler-smith/go-bip39"

	"github.com/egregoros/e2eedm-go/internal/crypto"
)

const (
	// EntropySize is the entropy length in bytes.
	EntropySize = 32
	// WordCount is the number of words in a recovery phrase.
	WordCount = 24
	// Wordlist names the dictionary recorded in wrapper params.
	Wordlist = "bip39-en"
)

var (
	// ErrInvalidLength is returned when a phrase does not have 24 words.
	ErrInvalidLength = errors.New("recovery phrase must have 24 words")
	// ErrInvalidWord is returned when a word is not in the dictionary.
	ErrInvalidWord = errors.New("recovery phrase contains an unknown word")
	// ErrInvalidChecksum is returned when the phrase checksum does not match.
	ErrInvalidChecksum = errors.New("recovery phrase checksum mismatch")
	// ErrInvalidEntropy is returned when entropy is not 32 bytes.
	ErrInvalidEntropy = errors.New("entropy must be 32 bytes")
)

var (
	indexOnce sync.Once
	wordIndex map[string]int
)

func dictionary() map[string]int {
	indexOnce.Do(func() {
		words := bip39.GetWordList()
		wordIndex = make(map[string]int, len(words))
		for i, w := range words {
			wordIndex[w] = i
		}
	})
	return wordIndex
}

// NewEntropy returns fresh random recovery entropy.
func NewEntropy() ([]byte, error) {
	return crypto.RandomBytes(EntropySize)
}

// EntropyToWords encodes 32 bytes of entropy as 24 words.
func EntropyToWords(entropy []byte) ([]string, error) {
	phrase, err := Encode(entropy)
	if err != nil {
		return nil, err
	}
	return strings.Fields(phrase), nil
}

// Encode encodes 32 bytes of entropy as a space-separated phrase.
func Encode(entropy []byte) (string, error) {
	if len(entropy) != EntropySize {
		return "", fmt.Errorf("%w: got %d", ErrInvalidEntropy, len(entropy))
	}
	phrase, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidEntropy, err)
	}
	return phrase, nil
}

// Normalize lowercases the phrase and collapses whitespace runs.
func Normalize(phrase string) string {
	return strings.Join(strings.Fields(strings.ToLower(phrase)), " ")
}

// WordsToEntropy decodes a phrase back into its 32-byte entropy. Matching is
// case-insensitive and whitespace-normalized. The checksum is always
// verified.
func WordsToEntropy(phrase string) ([]byte, error) {
	words := strings.Fields(strings.ToLower(phrase))
	if len(words) != WordCount {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidLength, len(words))
	}

	dict := dictionary()
	for i, w := range words {
		if _, ok := dict[w]; !ok {
			return nil, fmt.Errorf("%w: word %d", ErrInvalidWord, i+1)
		}
	}

	entropy, err := bip39.EntropyFromMnemonic(strings.Join(words, " "))
	if err != nil {
		// Length and dictionary are already checked, so any remaining
		// failure is the checksum.
		return nil, ErrInvalidChecksum
	}
	if len(entropy) != EntropySize {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidEntropy, len(entropy))
	}
	return entropy, nil
}

// Valid reports whether phrase decodes successfully.
func Valid(phrase string) bool {
	_, err := WordsToEntropy(phrase)
	return err == nil
}
