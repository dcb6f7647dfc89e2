package crypto

import "github.com/cockroachdb/errors"

var (
	// ErrInvalidInput reports malformed parameters to key derivation or the codec.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDecryptionFailed is returned for every decryption failure. It does not
	// say whether the key was wrong or the data was corrupted.
	ErrDecryptionFailed = errors.New("cannot decrypt secret")
)
