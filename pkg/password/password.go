// Package password implements the operator's two password-generation
// paths: a CLI-flag-configurable generator for the operator-global
// metrics password, wrapping sethvargo/go-password, and a plain
// random-hex generator for the seven per-cluster internal-user
// passwords.
package password

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/sethvargo/go-password/password"
)

// GeneratorParams mirrors the character-class counts the operator's
// --password-allowed-characters and --password-length flags validate
// into, the same shape categorizeAllowedCharacters in cmd/manager
// produces.
type GeneratorParams struct {
	Length       int
	LowerLetters int
	UpperLetters int
	Digits       int
	Symbols      int
}

// RandomGenerator wraps a sethvargo/go-password generator configured
// from operator flags. It is used only for the operator-global metrics
// password, which is human-set-able via those flags; per-cluster
// internal-user passwords use GenerateHex instead (see below).
type RandomGenerator struct {
	gen    *password.Generator
	params GeneratorParams
}

// NewRandomGenerator builds a RandomGenerator from validated flag
// parameters.
func NewRandomGenerator(params GeneratorParams) (*RandomGenerator, error) {
	gen, err := password.NewGenerator(&password.GeneratorInput{
		LowerLetters: charset(lowerLetters, params.LowerLetters),
		UpperLetters: charset(upperLetters, params.UpperLetters),
		Digits:       charset(digits, params.Digits),
		Symbols:      charset(symbols, params.Symbols),
	})
	if err != nil {
		return nil, fmt.Errorf("constructing password generator: %w", err)
	}
	return &RandomGenerator{gen: gen, params: params}, nil
}

const (
	lowerLetters = "abcdefghijklmnopqrstuvwxyz"
	upperLetters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digits       = "0123456789"
	symbols      = "!@#$%^&*()_+-="
)

func charset(full string, count int) string {
	if count <= 0 {
		return ""
	}
	return full
}

// Generate returns a password from the configured character classes,
// honoring Length/Digits/Symbols the way sethvargo/go-password's
// Generate does.
func (g *RandomGenerator) Generate() (string, error) {
	return g.gen.Generate(g.params.Length, g.params.Digits, g.params.Symbols, false, true)
}

// GenerateHex returns a random hex-encoded token of n random bytes,
// used for the seven internal-user passwords. sethvargo/go-password
// targets human-typable,
// character-class-constrained passwords (letters/digits/symbols); a
// literal hex token is simpler and better served by crypto/rand plus
// encoding/hex directly than by coercing that generator's alphabet
// down to six characters.
func GenerateHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
