package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
)

// Envelope is the storable result of encrypting a secret. Every field is
// standard base64. Salt is set only for password-protected secrets.
type Envelope struct {
	Ciphertext string  `json:"ciphertext"`
	IV         string  `json:"iv"`
	Salt       *string `json:"salt,omitempty"`
	KeyHash    string  `json:"keyHash"`
}

// PasswordProtected reports whether the key must be derived from a password.
func (e *Envelope) PasswordProtected() bool {
	return e.Salt != nil
}

// Validate checks the envelope's shape without touching any key material.
func (e *Envelope) Validate() error {
	ct, err := base64.StdEncoding.DecodeString(e.Ciphertext)
	if err != nil || len(ct) == 0 {
		return errors.Wrap(ErrInvalidInput, "ciphertext must be non-empty base64")
	}
	if len(ct) < aesGCMTagSize {
		return errors.Wrap(ErrInvalidInput, "ciphertext too short")
	}
	iv, err := base64.StdEncoding.DecodeString(e.IV)
	if err != nil || len(iv) != IVLength {
		return errors.Wrapf(ErrInvalidInput, "iv must be %d bytes of base64", IVLength)
	}
	if e.Salt != nil {
		salt, err := base64.StdEncoding.DecodeString(*e.Salt)
		if err != nil || len(salt) != SaltLength {
			return errors.Wrapf(ErrInvalidInput, "salt must be %d bytes of base64", SaltLength)
		}
	}
	hash, err := base64.StdEncoding.DecodeString(e.KeyHash)
	if err != nil || len(hash) != sha256.Size {
		return errors.Wrap(ErrInvalidInput, "keyHash must be a base64 SHA-256 digest")
	}
	return nil
}

const aesGCMTagSize = 16

// Encrypt seals plaintext under key with a fresh random IV.
func (p *Provider) Encrypt(plaintext string, key Key) (*Envelope, error) {
	if !utf8.ValidString(plaintext) {
		return nil, errors.Wrap(ErrInvalidInput, "plaintext must be valid UTF-8")
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, IVLength)
	if err := p.read(iv); err != nil {
		return nil, errors.Wrap(err, "generating iv")
	}

	ciphertext := gcm.Seal(nil, iv, []byte(plaintext), nil)

	return &Envelope{
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		IV:         base64.StdEncoding.EncodeToString(iv),
		KeyHash:    key.Hash(),
	}, nil
}

// EncryptWithPassword draws a fresh salt, derives a key from password and
// seals plaintext under it. The derived key is wiped before returning.
func (p *Provider) EncryptWithPassword(plaintext, password string) (*Envelope, error) {
	salt := make([]byte, SaltLength)
	if err := p.read(salt); err != nil {
		return nil, errors.Wrap(err, "generating salt")
	}

	key, err := DerivePasswordKey(password, salt)
	if err != nil {
		return nil, err
	}
	defer Wipe(key)

	env, err := p.Encrypt(plaintext, key)
	if err != nil {
		return nil, err
	}
	encoded := base64.StdEncoding.EncodeToString(salt)
	env.Salt = &encoded
	return env, nil
}

// Decrypt opens env with key. Any failure after the key length check is
// reported as ErrDecryptionFailed and no plaintext is returned.
func Decrypt(env *Envelope, key Key) (string, error) {
	if env == nil {
		return "", errors.Wrap(ErrInvalidInput, "envelope is required")
	}
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	iv, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil || len(iv) != IVLength {
		return "", ErrDecryptionFailed
	}

	plaintext, err := gcm.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// DecryptWithPassword derives the key from password and env's salt, then decrypts.
func DecryptWithPassword(env *Envelope, password string) (string, error) {
	if password == "" {
		return "", errors.Wrap(ErrInvalidInput, "password is required")
	}
	if env == nil || env.Salt == nil {
		return "", ErrDecryptionFailed
	}
	salt, err := base64.StdEncoding.DecodeString(*env.Salt)
	if err != nil || len(salt) != SaltLength {
		return "", ErrDecryptionFailed
	}

	key, err := DerivePasswordKey(password, salt)
	if err != nil {
		return "", err
	}
	defer Wipe(key)

	return Decrypt(env, key)
}

func newGCM(key Key) (cipher.AEAD, error) {
	if len(key) != KeyLength {
		return nil, errors.Wrapf(ErrInvalidInput, "key must be %d bytes", KeyLength)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "cipher creation failed")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "GCM creation failed")
	}
	return gcm, nil
}
