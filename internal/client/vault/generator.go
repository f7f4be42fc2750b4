package vault

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
)

// Character classes used by Generate.
const (
	Uppercase = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	Lowercase = "abcdefghijklmnopqrstuvwxyz"
	Digits    = "0123456789"
	Symbols   = "!@#$%^&*()_+-=[]{}|;:,.<>?"
)

// DefaultPasswordLength is the length used when GenerateOptions.Length is zero.
const DefaultPasswordLength = 16

// ErrNoCharacterClass is returned when every class is disabled.
var ErrNoCharacterClass = errors.New("no character class selected")

// GenerateOptions selects the length and alphabet of a generated password.
type GenerateOptions struct {
	Length  int
	Upper   bool
	Lower   bool
	Digits  bool
	Symbols bool
}

// DefaultGenerateOptions enables every class at the default length.
func DefaultGenerateOptions() GenerateOptions {
	return GenerateOptions{Length: DefaultPasswordLength, Upper: true, Lower: true, Digits: true, Symbols: true}
}

func (o GenerateOptions) classes() []string {
	var out []string
	if o.Upper {
		out = append(out, Uppercase)
	}
	if o.Lower {
		out = append(out, Lowercase)
	}
	if o.Digits {
		out = append(out, Digits)
	}
	if o.Symbols {
		out = append(out, Symbols)
	}
	return out
}

// Generate draws a password from crypto/rand. Every selected class appears
// at least once.
func Generate(opts GenerateOptions) (string, error) {
	return generate(rand.Reader, opts)
}

func generate(r io.Reader, opts GenerateOptions) (string, error) {
	classes := opts.classes()
	if len(classes) == 0 {
		return "", ErrNoCharacterClass
	}
	length := opts.Length
	if length == 0 {
		length = DefaultPasswordLength
	}
	if length < len(classes) {
		return "", fmt.Errorf("length %d is shorter than the %d selected classes", length, len(classes))
	}

	alphabet := strings.Join(classes, "")
	out := make([]byte, length)
	for i := range out {
		set := alphabet
		if i < len(classes) {
			set = classes[i]
		}
		n, err := randInt(r, len(set))
		if err != nil {
			return "", err
		}
		out[i] = set[n]
	}

	// Fisher-Yates, so the guaranteed characters are not always first.
	for i := len(out) - 1; i > 0; i-- {
		j, err := randInt(r, i+1)
		if err != nil {
			return "", err
		}
		out[i], out[j] = out[j], out[i]
	}
	return string(out), nil
}

func randInt(r io.Reader, n int) (int, error) {
	v, err := rand.Int(r, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("random: %w", err)
	}
	return int(v.Int64()), nil
}

// Strength scores a password from 0 to 6 on length and variety and names
// the band: weak below 2, medium below 4, strong otherwise.
func Strength(password string) (int, string) {
	score := 0
	switch n := len([]rune(password)); {
	case n >= 12:
		score += 2
	case n >= 8:
		score++
	}
	if strings.ContainsAny(password, Uppercase) {
		score++
	}
	if strings.ContainsAny(password, Lowercase) {
		score++
	}
	if strings.ContainsAny(password, Digits) {
		score++
	}
	if strings.IndexFunc(password, func(r rune) bool {
		return !strings.ContainsRune(Uppercase+Lowercase+Digits, r)
	}) >= 0 {
		score++
	}

	switch {
	case score < 2:
		return score, "weak"
	case score < 4:
		return score, "medium"
	default:
		return score, "strong"
	}
}
