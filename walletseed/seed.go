// Copyright (c) 2016-2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package walletseed generates, checks and decodes BIP-39 mnemonic phrases.
package walletseed

import (
	"strings"

	"github.com/multiwallet/keysafe/errors"
	"github.com/multiwallet/keysafe/internal/zero"
	"github.com/tyler-smith/go-bip39"
)

// DefaultWordCount is the number of words in newly generated mnemonics when
// no count is requested.
const DefaultWordCount = 12

// maxGenerateAttempts bounds the verify-after-generate loop.  BIP-39 phrases
// carry a checksum computed from the entropy itself, so the first candidate
// always verifies and further attempts only run if the word list or entropy
// source misbehaves.
const maxGenerateAttempts = 4

// entropyBits returns the entropy size for a mnemonic of n words.  Every three
// words encode 32 bits of entropy and one checksum bit.
func entropyBits(n int) (int, bool) {
	switch n {
	case 12, 15, 18, 21, 24:
		return n / 3 * 32, true
	}
	return 0, false
}

// GenerateMnemonic returns a checksum-valid mnemonic of wordCount words using
// entropy from a cryptographically-secure random source.  A wordCount of zero
// selects DefaultWordCount.
func GenerateMnemonic(wordCount int) ([]string, error) {
	const op errors.Op = "walletseed.GenerateMnemonic"
	if wordCount == 0 {
		wordCount = DefaultWordCount
	}
	bits, ok := entropyBits(wordCount)
	if !ok {
		return nil, errors.E(op, errors.Invalid, errors.Errorf("unsupported word count %d", wordCount))
	}
	for i := 0; i < maxGenerateAttempts; i++ {
		entropy, err := bip39.NewEntropy(bits)
		if err != nil {
			return nil, errors.E(op, err)
		}
		phrase, err := bip39.NewMnemonic(entropy)
		zero.Bytes(entropy)
		if err != nil {
			return nil, errors.E(op, errors.Bug, err)
		}
		if bip39.IsMnemonicValid(phrase) {
			return strings.Fields(phrase), nil
		}
	}
	return nil, errors.E(op, errors.Bug, "generated mnemonic failed verification")
}

// VerifyMnemonic reports whether phrase is a checksum-valid mnemonic.  Runs of
// whitespace separate words.  It never panics and returns false for any
// malformed input.
func VerifyMnemonic(phrase string) bool {
	words := strings.Fields(phrase)
	if _, ok := entropyBits(len(words)); !ok {
		return false
	}
	return bip39.IsMnemonicValid(strings.Join(words, " "))
}

// DecodeUserInput normalizes a mnemonic typed or pasted by a user (case and
// whitespace) and returns its words after verifying the checksum.
func DecodeUserInput(input string) ([]string, error) {
	const op errors.Op = "walletseed.DecodeUserInput"
	words := strings.Fields(strings.ToLower(input))
	if len(words) == 0 {
		return nil, errors.E(op, errors.Seed, "empty mnemonic")
	}
	if !VerifyMnemonic(strings.Join(words, " ")) {
		return nil, errors.E(op, errors.Seed, "invalid mnemonic")
	}
	return words, nil
}

// Seed returns the 64-byte BIP-39 seed for a verified mnemonic and optional
// passphrase.  The caller should wipe the seed when it is no longer needed.
func Seed(words []string, passphrase string) ([]byte, error) {
	const op errors.Op = "walletseed.Seed"
	seed, err := bip39.NewSeedWithErrorChecking(strings.Join(words, " "), passphrase)
	if err != nil {
		return nil, errors.E(op, errors.Seed, err)
	}
	return seed, nil
}
