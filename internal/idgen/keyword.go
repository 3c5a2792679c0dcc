// Package idgen generates short-link keywords.
package idgen

import (
	"crypto/rand"
	"fmt"
	"io"
)

// Alphabet leaves out characters that are easy to misread: 0 O 1 l I i o.
const Alphabet = "23456789abcdefghjkmnpqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ"

const (
	MinLength = 6
	MaxLength = 8
)

// Generator produces candidate keywords. The store's unique index decides
// whether a candidate is actually free. Implementations must be safe for
// concurrent use.
type Generator interface {
	Generate(domain string) (string, error)
}

// Random draws keywords uniformly from Alphabet using crypto/rand.
type Random struct {
	length int
	src    io.Reader
}

func NewRandom(length int) (*Random, error) {
	if length < MinLength || length > MaxLength {
		return nil, fmt.Errorf("keyword length must be between %d and %d, got %d", MinLength, MaxLength, length)
	}
	return &Random{length: length, src: rand.Reader}, nil
}

func (g *Random) Length() int { return g.length }

// Generate ignores domain; every domain shares the same keyword space shape.
func (g *Random) Generate(domain string) (string, error) {
	// Bytes at or above limit are rejected so every symbol is equally likely.
	const limit = 256 - 256%len(Alphabet)

	out := make([]byte, 0, g.length)
	buf := make([]byte, g.length*2)
	for len(out) < g.length {
		if _, err := io.ReadFull(g.src, buf); err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, Alphabet[int(b)%len(Alphabet)])
			if len(out) == g.length {
				break
			}
		}
	}
	return string(out), nil
}
