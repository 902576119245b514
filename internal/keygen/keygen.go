// Package keygen produces candidate keypairs and their Base58 addresses.
//
// A Generator is stateless and safe to call from any number of goroutines:
// every invocation draws fresh entropy from crypto/rand.
package keygen

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/tyler-smith/go-bip39"
)

// ErrEntropyUnavailable wraps a failure of the secure randomness source.
// This is fatal for the whole search; callers must not retry silently.
var ErrEntropyUnavailable = errors.New("keygen: secure randomness source unavailable")

// Kind selects how secret material is produced.
type Kind int

const (
	// RawKeypair draws 32 random bytes and builds an ed25519 keypair directly.
	RawKeypair Kind = iota
	// MnemonicDerived derives the keypair deterministically from a BIP-39
	// mnemonic's seed.
	MnemonicDerived
)

func (k Kind) String() string {
	if k == MnemonicDerived {
		return "mnemonic"
	}
	return "raw"
}

// Mode is a validated generation mode.
type Mode struct {
	kind  Kind
	words int
}

// Raw returns the raw-keypair mode.
func Raw() Mode { return Mode{kind: RawKeypair} }

// Mnemonic returns the mnemonic-derived mode for the given word count.
// Only 12 and 24 words are supported.
func Mnemonic(words int) (Mode, error) {
	if words != 12 && words != 24 {
		return Mode{}, fmt.Errorf("keygen: word count must be 12 or 24, got %d", words)
	}
	return Mode{kind: MnemonicDerived, words: words}, nil
}

// Kind returns the mode's variant.
func (m Mode) Kind() Kind { return m.kind }

// Words returns the mnemonic word count (0 for raw keypairs).
func (m Mode) Words() int { return m.words }

// EntropyBits is the entropy size backing a mnemonic of this mode's length:
// 128 bits for 12 words, 256 for 24.
func (m Mode) EntropyBits() int {
	if m.words == 24 {
		return 256
	}
	return 128
}

func (m Mode) String() string {
	if m.kind == MnemonicDerived {
		return fmt.Sprintf("mnemonic/%d", m.words)
	}
	return "raw"
}

// Candidate is one generated keypair with its derived address. It is owned
// by the caller; the engine keeps no reference to it after returning one.
type Candidate struct {
	Address  string
	Public   ed25519.PublicKey
	Secret   ed25519.PrivateKey
	Mnemonic string // empty for raw keypairs
}

// SecretBase58 encodes the full 64-byte secret key (seed || public key) in
// Base58, the format Solana tooling expects for keypair import.
func (c Candidate) SecretBase58() string {
	return base58.Encode(c.Secret)
}

// DecodeSecretBase58 reverses SecretBase58. Returns nil for input that is
// not valid Base58.
func DecodeSecretBase58(s string) []byte {
	return base58.Decode(s)
}

// Generator produces candidates. The zero value is ready to use.
type Generator struct{}

// Generate draws one candidate in the given mode. The only failure is an
// unavailable randomness source, reported as ErrEntropyUnavailable.
func (Generator) Generate(mode Mode) (Candidate, error) {
	if mode.kind == MnemonicDerived {
		return generateMnemonic(mode.EntropyBits())
	}
	return generateRaw()
}

func generateRaw() (Candidate, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return Candidate{}, fmt.Errorf("%w: %v", ErrEntropyUnavailable, err)
	}
	return Candidate{
		Address: base58.Encode(pub),
		Public:  pub,
		Secret:  priv,
	}, nil
}

func generateMnemonic(entropyBits int) (Candidate, error) {
	entropy, err := bip39.NewEntropy(entropyBits)
	if err != nil {
		return Candidate{}, fmt.Errorf("%w: %v", ErrEntropyUnavailable, err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return Candidate{}, fmt.Errorf("keygen: creating mnemonic: %w", err)
	}
	return FromMnemonic(mnemonic)
}

// FromMnemonic derives the candidate for an existing mnemonic phrase. The
// derivation matches Solana's seed scheme: BIP-39 seed with an empty
// passphrase, first 32 bytes used as the ed25519 seed.
func FromMnemonic(mnemonic string) (Candidate, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return Candidate{}, fmt.Errorf("keygen: invalid mnemonic")
	}
	seed := bip39.NewSeed(mnemonic, "")
	priv := ed25519.NewKeyFromSeed(seed[:ed25519.SeedSize])
	pub := priv.Public().(ed25519.PublicKey)
	return Candidate{
		Address:  base58.Encode(pub),
		Public:   pub,
		Secret:   priv,
		Mnemonic: mnemonic,
	}, nil
}
