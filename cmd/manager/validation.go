// Copyright Reclaim the Stack and/or licensed to Reclaim the Stack under one
// or more contributor license agreements. Licensed under the Apache License
// 2.0; you may not use this file except in compliance with the License.

package manager

import (
	"fmt"
	"strings"

	"github.com/sethvargo/go-password/password"

	pwgen "github.com/reclaim-the-stack/opensearch-operator/pkg/password"
)

// validatePasswordFlags turns the --password-allowed-characters and
// --password-length flag values into a pwgen.GeneratorParams for this
// operator's one password path: the operator-global metrics user.
func validatePasswordFlags(allowedCharacters string, length int) (pwgen.GeneratorParams, error) {
	params, other := categorizeAllowedCharacters(allowedCharacters)
	if len(other) > 0 {
		return pwgen.GeneratorParams{}, fmt.Errorf("invalid characters in password allowed characters: %s", string(other))
	}

	// OpenSearch's internal_users.yml accepts any password bcrypt can
	// hash; 6 is a conservative floor against trivially short passwords.
	if length < 6 || length > 72 {
		return pwgen.GeneratorParams{}, fmt.Errorf("password length must be at least 6 and at most 72")
	}
	if len(allowedCharacters)-len(other) < 10 {
		return pwgen.GeneratorParams{}, fmt.Errorf("allowedCharacters for password generation needs to be at least 10 for randomness")
	}

	params.Length = length
	return params, nil
}

// categorizeAllowedCharacters sorts the allowed-characters flag into
// the character classes go-password understands, and buckets anything
// outside those classes into other so validatePasswordFlags can reject
// it. A class present in the input gets a minimum-required count of 1
// in the returned params — go-password.Generate takes Digits/Symbols as
// "at least this many of the class", not pool sizes, so a count beyond
// 1 would just be a stricter constraint than is actually needed.
func categorizeAllowedCharacters(s string) (params pwgen.GeneratorParams, other []rune) {
	var hasLower, hasUpper, hasDigit, hasSymbol bool

	for _, r := range s {
		switch {
		case strings.ContainsRune(password.LowerLetters, r):
			hasLower = true
		case strings.ContainsRune(password.UpperLetters, r):
			hasUpper = true
		case strings.ContainsRune(password.Digits, r):
			hasDigit = true
		case strings.ContainsRune(password.Symbols, r):
			hasSymbol = true
		default:
			other = append(other, r)
		}
	}

	if hasLower {
		params.LowerLetters = 1
	}
	if hasUpper {
		params.UpperLetters = 1
	}
	if hasDigit {
		params.Digits = 1
	}
	if hasSymbol {
		params.Symbols = 1
	}

	return params, other
}
