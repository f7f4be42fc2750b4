package envelope

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const masterKeyInfo = "gophvault master key v1"

// MasterKeyBytes expands the session master key string into a 32-byte AES key
// with HKDF-SHA256. The result depends only on master.
func MasterKeyBytes(master string) ([]byte, error) {
	h := hkdf.New(sha256.New, []byte(master), nil, []byte(masterKeyInfo))
	out := make([]byte, DataKeySize)
	if _, err := io.ReadFull(h, out); err != nil {
		return nil, fmt.Errorf("derive master key: %w", err)
	}
	return out, nil
}
