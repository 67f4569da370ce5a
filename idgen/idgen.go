// Package idgen draws short, shareable codes for games and players.
package idgen

import (
	crand "crypto/rand"
	"math/big"
	"math/rand"
)

const (
	// DefaultLength is the length of game codes and player ids.
	DefaultLength = 6

	// Alphabet excludes characters that are easy to misread (0/O, 1/I).
	Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// Code returns a random code of length n. Uniqueness is not checked here;
// the store rejects a duplicate game code on insert.
func Code(n int) string {
	if n <= 0 {
		n = DefaultLength
	}
	code := make([]byte, n)
	max := big.NewInt(int64(len(Alphabet)))
	for i := range code {
		v, err := crand.Int(crand.Reader, max)
		if err != nil {
			// fallback to math/rand if crypto fails
			code[i] = Alphabet[rand.Intn(len(Alphabet))]
			continue
		}
		code[i] = Alphabet[v.Int64()]
	}
	return string(code)
}

// Valid reports whether s could have been produced by Code(n).
func Valid(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isAlphabet(s[i]) {
			return false
		}
	}
	return true
}

func isAlphabet(c byte) bool {
	for i := 0; i < len(Alphabet); i++ {
		if Alphabet[i] == c {
			return true
		}
	}
	return false
}
