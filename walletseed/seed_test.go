// Copyright (c) 2016-2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package walletseed

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/multiwallet/keysafe/errors"
	"pgregory.net/rapid"
)

// BIP-39 reference vectors (TREZOR passphrase).
var seedTests = []struct {
	mnemonic string
	seed     string
}{
	{
		mnemonic: "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about",
		seed:     "c55257c360c07c72029aebc1b53c05ed0362ada38ead3e3e9efa3708e53495531f09a6987599d18264c1e1c92f2cf141630c7a3c4ab7c81b2f001698e7463b04",
	},
	{
		mnemonic: "legal winner thank year wave sausage worth useful legal winner thank yellow",
		seed:     "2e8905819b8723fe2c1d161860e5ee1830318dbf49a83bd451cfb8440c28bd6fa457fe1296106559a3c80937a1c1069be3a3a5bd381ee6260e8d9739fce1f607",
	},
	{
		mnemonic: "zoo zoo zoo zoo zoo zoo zoo zoo zoo zoo zoo zoo zoo zoo zoo zoo zoo zoo zoo zoo zoo zoo zoo vote",
		seed:     "dd48c104698c30cfe2b6142103248622fb7bb0ff692eebb00089b32d22484e1613912f0a5b694407be899ffd31ed3992c456cdf60f5d4564b8ba3f05a69890ad",
	},
}

func TestSeed(t *testing.T) {
	for i, test := range seedTests {
		seed, err := Seed(strings.Fields(test.mnemonic), "TREZOR")
		if err != nil {
			t.Errorf("test %d: unexpected error %v", i, err)
			continue
		}
		if got := hex.EncodeToString(seed); got != test.seed {
			t.Errorf("test %d: got %v want %v", i, got, test.seed)
		}
	}
}

func TestSeedInvalid(t *testing.T) {
	_, err := Seed([]string{"abandon", "abandon"}, "")
	if !errors.Is(errors.Seed, err) {
		t.Fatalf("expected Seed error, got %v", err)
	}
}

func TestGenerateMnemonicWordCounts(t *testing.T) {
	tests := []struct {
		in, want int
		valid    bool
	}{
		{0, 12, true},
		{12, 12, true},
		{15, 15, true},
		{18, 18, true},
		{21, 21, true},
		{24, 24, true},
		{11, 0, false},
		{13, 0, false},
		{25, 0, false},
		{-12, 0, false},
	}
	for i, test := range tests {
		words, err := GenerateMnemonic(test.in)
		if !test.valid {
			if !errors.Is(errors.Invalid, err) {
				t.Errorf("test %d: expected Invalid, got %v", i, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("test %d: unexpected error %v", i, err)
			continue
		}
		if len(words) != test.want {
			t.Errorf("test %d: got %d words want %d", i, len(words), test.want)
		}
	}
}

func TestVerifyMnemonic(t *testing.T) {
	tests := []struct {
		phrase string
		valid  bool
	}{
		{seedTests[0].mnemonic, true},
		{"  abandon abandon abandon abandon abandon abandon\tabandon abandon abandon abandon abandon\nabout ", true},
		{"abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon", false},
		{"not a valid phrase!@#", false},
		{"", false},
		{"zoo", false},
		{"Abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about", false},
	}
	for i, test := range tests {
		if got := VerifyMnemonic(test.phrase); got != test.valid {
			t.Errorf("test %d: got %v want %v", i, got, test.valid)
		}
	}
}

func TestDecodeUserInput(t *testing.T) {
	words, err := DecodeUserInput("  ABANDON abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon About\n")
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(words, " "); got != seedTests[0].mnemonic {
		t.Fatalf("got %q want %q", got, seedTests[0].mnemonic)
	}
	for _, input := range []string{"", "   ", "zoo zoo zoo"} {
		if _, err := DecodeUserInput(input); !errors.Is(errors.Seed, err) {
			t.Errorf("input %q: expected Seed error, got %v", input, err)
		}
	}
}

func TestGeneratedMnemonicsVerify(t *testing.T) {
	counts := []int{0, 12, 15, 18, 21, 24}
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.SampledFrom(counts).Draw(t, "words")
		words, err := GenerateMnemonic(n)
		if err != nil {
			t.Fatal(err)
		}
		if !VerifyMnemonic(strings.Join(words, " ")) {
			t.Fatalf("generated mnemonic does not verify: %d words", len(words))
		}
	})
}
