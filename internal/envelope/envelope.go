// Package envelope implements the credential encryption scheme: AES-CBC with
// PKCS#7 padding, an IV carried in front of the ciphertext, and per-record data
// keys wrapped under the session master key.
//
// Envelope text form is hex(iv) ":" base64(ciphertext).
package envelope

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	verrors "github.com/atinyakov/gophvault/internal/errors"
)

const (
	delimiter = ":"
	ivSize    = aes.BlockSize
	// DataKeySize is the length of generated per-credential data keys (AES-256).
	DataKeySize = 32
)

// Engine encrypts and decrypts envelopes. The zero value is not usable; use New.
type Engine struct {
	rand io.Reader
}

// New returns an Engine backed by crypto/rand.
func New() *Engine {
	return &Engine{rand: rand.Reader}
}

// NewWithRand returns an Engine drawing IVs and data keys from r.
func NewWithRand(r io.Reader) *Engine {
	return &Engine{rand: r}
}

// Encrypt encrypts plaintext under key with a fresh IV. Two calls with the
// same inputs never return the same envelope.
func (e *Engine) Encrypt(plaintext, key []byte) (string, error) {
	block, err := newBlock(key)
	if err != nil {
		return "", err
	}

	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(e.rand, iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}

	padded := pad(plaintext)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)

	return hex.EncodeToString(iv) + delimiter + base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. A wrong key usually surfaces as
// ErrPaddingInvalid, but the check is probabilistic: about 1 in 256 wrong
// keys unpad cleanly and return garbage with a nil error. Callers that need
// reliable wrong-key detection use Open, which also checks the unwrapped
// data key length.
func (e *Engine) Decrypt(envelope string, key []byte) ([]byte, error) {
	ivHex, body, ok := strings.Cut(envelope, delimiter)
	if !ok {
		return nil, fmt.Errorf("missing iv delimiter: %w", verrors.ErrMalformedEnvelope)
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil || len(iv) != ivSize {
		return nil, fmt.Errorf("decode iv: %w", verrors.ErrMalformedEnvelope)
	}
	data, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", verrors.ErrMalformedEnvelope)
	}
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext length %d: %w", len(data), verrors.ErrMalformedEnvelope)
	}

	block, err := newBlock(key)
	if err != nil {
		return nil, err
	}

	plain := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, data)

	return unpad(plain)
}

// Seal encrypts plaintext under a fresh data key and wraps that key under
// masterKey. It returns the secret envelope and the wrapped data key.
func (e *Engine) Seal(plaintext, masterKey []byte) (cipherSecret, cipherDataKey string, err error) {
	dataKey := make([]byte, DataKeySize)
	if _, err := io.ReadFull(e.rand, dataKey); err != nil {
		return "", "", fmt.Errorf("generate data key: %w", err)
	}

	cipherSecret, err = e.Encrypt(plaintext, dataKey)
	if err != nil {
		return "", "", fmt.Errorf("encrypt secret: %w", err)
	}
	cipherDataKey, err = e.Encrypt(dataKey, masterKey)
	if err != nil {
		return "", "", fmt.Errorf("wrap data key: %w", err)
	}
	return cipherSecret, cipherDataKey, nil
}

// Open unwraps the data key with masterKey and decrypts the secret.
func (e *Engine) Open(cipherSecret, cipherDataKey string, masterKey []byte) ([]byte, error) {
	dataKey, err := e.unwrap(cipherDataKey, masterKey)
	if err != nil {
		return nil, err
	}
	plain, err := e.Decrypt(cipherSecret, dataKey)
	if err != nil {
		return nil, fmt.Errorf("decrypt secret: %w", err)
	}
	return plain, nil
}

// Rewrap re-encrypts a wrapped data key under a new master key. The secret
// envelope itself is left untouched.
func (e *Engine) Rewrap(cipherDataKey string, oldMaster, newMaster []byte) (string, error) {
	dataKey, err := e.unwrap(cipherDataKey, oldMaster)
	if err != nil {
		return "", err
	}
	wrapped, err := e.Encrypt(dataKey, newMaster)
	if err != nil {
		return "", fmt.Errorf("rewrap data key: %w", err)
	}
	return wrapped, nil
}

func (e *Engine) unwrap(cipherDataKey string, masterKey []byte) ([]byte, error) {
	dataKey, err := e.Decrypt(cipherDataKey, masterKey)
	if err != nil {
		return nil, fmt.Errorf("unwrap data key: %w", err)
	}
	// A wrong master key that happens to unpad cleanly still yields the wrong length.
	if len(dataKey) != DataKeySize {
		return nil, fmt.Errorf("unwrapped data key has %d bytes: %w", len(dataKey), verrors.ErrPaddingInvalid)
	}
	return dataKey, nil
}

func newBlock(key []byte) (cipher.Block, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%d-byte key: %w", len(key), verrors.ErrInvalidKeyLength)
	}
	return block, nil
}

func pad(src []byte) []byte {
	n := aes.BlockSize - len(src)%aes.BlockSize
	return append(bytes.Clone(src), bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(src []byte) ([]byte, error) {
	if len(src) == 0 {
		return nil, verrors.ErrPaddingInvalid
	}
	n := int(src[len(src)-1])
	if n == 0 || n > aes.BlockSize || n > len(src) {
		return nil, verrors.ErrPaddingInvalid
	}
	for _, b := range src[len(src)-n:] {
		if int(b) != n {
			return nil, verrors.ErrPaddingInvalid
		}
	}
	return src[:len(src)-n], nil
}
