package crypto

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// FingerprintSize is the number of hash bytes shown in a fingerprint.
const FingerprintSize = 8

// Fingerprint returns a short hex digest of data, used to name keys in logs.
func Fingerprint(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:FingerprintSize])
}
