// Copyright Reclaim the Stack and/or licensed to Reclaim the Stack under one
// or more contributor license agreements. Licensed under the Apache License
// 2.0; you may not use this file except in compliance with the License.

package manager

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewZapLogger_LevelMapping(t *testing.T) {
	cases := map[string]zap.AtomicLevel{
		"":      zap.NewAtomicLevelAt(zap.DebugLevel),
		"DEBUG": zap.NewAtomicLevelAt(zap.DebugLevel),
		"info":  zap.NewAtomicLevelAt(zap.InfoLevel),
		"WARN":  zap.NewAtomicLevelAt(zap.WarnLevel),
		"Error": zap.NewAtomicLevelAt(zap.ErrorLevel),
	}

	for level, want := range cases {
		logger, err := newZapLogger(level)
		require.NoError(t, err, "level %q", level)
		assert.Equal(t, want.Level(), logger.Level(), "level %q", level)
	}
}

func TestNewZapLogger_RejectsUnknownLevel(t *testing.T) {
	_, err := newZapLogger("TRACE")
	assert.Error(t, err)
}

func TestCategorizeAllowedCharacters_BucketsByClass(t *testing.T) {
	params, other := categorizeAllowedCharacters("abcXYZ123!@#")
	assert.Empty(t, other)
	assert.Equal(t, 1, params.LowerLetters)
	assert.Equal(t, 1, params.UpperLetters)
	assert.Equal(t, 1, params.Digits)
	assert.Equal(t, 1, params.Symbols)
}

func TestCategorizeAllowedCharacters_RejectsUnknownRunes(t *testing.T) {
	_, other := categorizeAllowedCharacters("abc 123")
	assert.Equal(t, []rune(" "), other)
}

func TestValidatePasswordFlags_RejectsShortAllowedCharacterPool(t *testing.T) {
	_, err := validatePasswordFlags("abc123", 24)
	assert.Error(t, err)
}

func TestValidatePasswordFlags_RejectsOutOfRangeLength(t *testing.T) {
	_, err := validatePasswordFlags(defaultPasswordChars, 4)
	assert.Error(t, err)

	_, err = validatePasswordFlags(defaultPasswordChars, 100)
	assert.Error(t, err)
}

func TestValidatePasswordFlags_AcceptsDefaults(t *testing.T) {
	params, err := validatePasswordFlags(defaultPasswordChars, 24)
	require.NoError(t, err)
	assert.Equal(t, 24, params.Length)
	assert.Equal(t, 1, params.LowerLetters)
	assert.Equal(t, 1, params.UpperLetters)
	assert.Equal(t, 1, params.Digits)
}
