// Package pattern defines the validated prefix/suffix request a vanity
// search runs against, and the predicate that tests addresses against it.
package pattern

import (
	"errors"
	"fmt"
	"strings"
)

// Alphabet is the 58-character Base58 alphabet used for Solana addresses.
// It excludes the visually ambiguous characters 0, O, I and l.
const Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// ErrEmptyPattern is returned when neither a prefix nor a suffix is given.
var ErrEmptyPattern = errors.New("pattern: prefix and suffix are both empty")

// InvalidCharError reports a pattern character outside the Base58 alphabet.
type InvalidCharError struct {
	Char byte
	Part string // "prefix" or "suffix"
}

func (e *InvalidCharError) Error() string {
	return fmt.Sprintf("pattern: invalid character %q in %s (allowed: %s)", e.Char, e.Part, Alphabet)
}

// IsValidationError reports whether err belongs to the pattern validation
// class of failures. These are surfaced before any search work begins.
func IsValidationError(err error) bool {
	var ice *InvalidCharError
	return errors.Is(err, ErrEmptyPattern) || errors.As(err, &ice)
}

// Spec is an immutable prefix/suffix pattern. The zero value is invalid;
// construct with New.
type Spec struct {
	prefix string
	suffix string
}

// New validates prefix and suffix against the Base58 alphabet and returns
// an immutable Spec. At least one of the two must be non-empty.
func New(prefix, suffix string) (Spec, error) {
	if prefix == "" && suffix == "" {
		return Spec{}, ErrEmptyPattern
	}
	if err := checkAlphabet(prefix, "prefix"); err != nil {
		return Spec{}, err
	}
	if err := checkAlphabet(suffix, "suffix"); err != nil {
		return Spec{}, err
	}
	return Spec{prefix: prefix, suffix: suffix}, nil
}

func checkAlphabet(part, name string) error {
	for i := 0; i < len(part); i++ {
		if strings.IndexByte(Alphabet, part[i]) < 0 {
			return &InvalidCharError{Char: part[i], Part: name}
		}
	}
	return nil
}

// Prefix returns the required address prefix ("" if unset).
func (s Spec) Prefix() string { return s.prefix }

// Suffix returns the required address suffix ("" if unset).
func (s Spec) Suffix() string { return s.suffix }

// Len is the combined pattern length, the exponent in the 58^-L match
// probability.
func (s Spec) Len() int { return len(s.prefix) + len(s.suffix) }

// Matches reports whether address satisfies the pattern. Both checks apply
// when both parts are present. Case-sensitive, never errors.
func (s Spec) Matches(address string) bool {
	if s.prefix != "" && !strings.HasPrefix(address, s.prefix) {
		return false
	}
	if s.suffix != "" && !strings.HasSuffix(address, s.suffix) {
		return false
	}
	return true
}

func (s Spec) String() string {
	switch {
	case s.prefix != "" && s.suffix != "":
		return fmt.Sprintf("prefix=%s suffix=%s", s.prefix, s.suffix)
	case s.prefix != "":
		return "prefix=" + s.prefix
	default:
		return "suffix=" + s.suffix
	}
}
