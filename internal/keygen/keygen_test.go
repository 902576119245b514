package keygen

import (
	"crypto/ed25519"
	"strings"
	"testing"

	"sol_vanity/internal/pattern"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Well-known BIP-39 test mnemonic.
const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func assertValidAddress(t *testing.T, address string) {
	t.Helper()

	// A 32-byte public key encodes to between 32 and 44 Base58 characters.
	assert.GreaterOrEqual(t, len(address), 32)
	assert.LessOrEqual(t, len(address), 44)
	for i := 0; i < len(address); i++ {
		if !strings.ContainsRune(pattern.Alphabet, rune(address[i])) {
			t.Fatalf("address %q contains non-Base58 character %q", address, address[i])
		}
	}
}

func TestGenerateRaw(t *testing.T) {
	var g Generator

	c, err := g.Generate(Raw())
	require.NoError(t, err)

	assertValidAddress(t, c.Address)
	assert.Empty(t, c.Mnemonic, "raw candidates carry no mnemonic")
	assert.Len(t, []byte(c.Secret), ed25519.PrivateKeySize)
	assert.Len(t, []byte(c.Public), ed25519.PublicKeySize)
	assert.NotEmpty(t, c.SecretBase58())
}

func TestGenerateMnemonic12(t *testing.T) {
	var g Generator

	mode, err := Mnemonic(12)
	require.NoError(t, err)

	c, err := g.Generate(mode)
	require.NoError(t, err)

	assertValidAddress(t, c.Address)
	assert.Len(t, strings.Fields(c.Mnemonic), 12)

	// The derivation must be reproducible from the mnemonic alone.
	again, err := FromMnemonic(c.Mnemonic)
	require.NoError(t, err)
	assert.Equal(t, c.Address, again.Address)
	assert.Equal(t, c.Secret, again.Secret)
}

func TestGenerateMnemonic24(t *testing.T) {
	var g Generator

	mode, err := Mnemonic(24)
	require.NoError(t, err)

	c, err := g.Generate(mode)
	require.NoError(t, err)

	assertValidAddress(t, c.Address)
	assert.Len(t, strings.Fields(c.Mnemonic), 24)
}

func TestMnemonicRejectsOtherWordCounts(t *testing.T) {
	for _, n := range []int{0, 6, 15, 18, 21, 25} {
		_, err := Mnemonic(n)
		assert.Error(t, err, "word count %d", n)
	}
}

func TestFromMnemonicDeterministic(t *testing.T) {
	a, err := FromMnemonic(testMnemonic)
	require.NoError(t, err)
	b, err := FromMnemonic(testMnemonic)
	require.NoError(t, err)

	assert.Equal(t, a.Address, b.Address)
	assertValidAddress(t, a.Address)

	// Secret key layout is seed || public key.
	assert.Equal(t, []byte(a.Public), []byte(a.Secret[ed25519.SeedSize:]))
}

func TestFromMnemonicRejectsGarbage(t *testing.T) {
	_, err := FromMnemonic("not a valid mnemonic phrase at all")
	assert.Error(t, err)
}

func TestGenerateDistinct(t *testing.T) {
	var g Generator

	seen := make(map[string]bool)
	for i := 0; i < 32; i++ {
		c, err := g.Generate(Raw())
		require.NoError(t, err)
		assert.False(t, seen[c.Address], "duplicate address %s", c.Address)
		seen[c.Address] = true
	}
}

func BenchmarkGenerateRaw(b *testing.B) {
	var g Generator
	for i := 0; i < b.N; i++ {
		if _, err := g.Generate(Raw()); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkGenerateMnemonic(b *testing.B) {
	var g Generator
	mode, _ := Mnemonic(12)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := g.Generate(mode); err != nil {
			b.Fatal(err)
		}
	}
}
