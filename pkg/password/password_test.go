package password

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateHex_LengthAndEncoding(t *testing.T) {
	s, err := GenerateHex(16)
	require.NoError(t, err)
	assert.Len(t, s, 32)

	_, err = hex.DecodeString(s)
	assert.NoError(t, err)
}

func TestGenerateHex_DistinctEachCall(t *testing.T) {
	a, err := GenerateHex(16)
	require.NoError(t, err)
	b, err := GenerateHex(16)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestNewRandomGenerator_ProducesRequestedLength(t *testing.T) {
	gen, err := NewRandomGenerator(GeneratorParams{
		Length:       20,
		LowerLetters: 1,
		UpperLetters: 1,
		Digits:       2,
		Symbols:      1,
	})
	require.NoError(t, err)

	pw, err := gen.Generate()
	require.NoError(t, err)
	assert.Len(t, pw, 20)
}

func TestNewRandomGenerator_NoSymbolsWhenDisallowed(t *testing.T) {
	gen, err := NewRandomGenerator(GeneratorParams{
		Length:       16,
		LowerLetters: 1,
		UpperLetters: 1,
		Digits:       1,
		Symbols:      0,
	})
	require.NoError(t, err)

	pw, err := gen.Generate()
	require.NoError(t, err)
	for _, r := range pw {
		assert.NotContains(t, symbols, string(r))
	}
}
