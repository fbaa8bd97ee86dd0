package util

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// HKDFKeyLength matches AESKeySize so derived keys feed AES-256-GCM directly.
const HKDFKeyLength = 32

// HKDF derives a fixed-length key from seed material, typically the
// normalized passphrase taken from the environment. info domain-separates
// derivations from the same seed.
func HKDF(seed []byte, salt []byte, info []byte) ([]byte, error) {
	h := hkdf.New(sha256.New, seed, salt, info)
	k := make([]byte, HKDFKeyLength)
	if _, err := io.ReadFull(h, k); err != nil {
		return nil, fmt.Errorf("reading from HKDF: %w", err)
	}
	return k, nil
}
