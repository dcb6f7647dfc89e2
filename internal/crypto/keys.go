// Package crypto implements the client-side envelope used by zk.share.
//
// Secrets are sealed with AES-256-GCM under either a random link key, which
// only ever travels in the URL fragment, or a key stretched from a password
// with PBKDF2-HMAC-SHA256. The server stores the resulting Envelope and the
// SHA-256 hash of the key; it never sees the key itself.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"io"
	"runtime"

	"github.com/cockroachdb/errors"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeyLength is the AES-256 key size in bytes.
	KeyLength = 32

	// IVLength is the GCM nonce size in bytes (96 bits).
	IVLength = 12

	// SaltLength is the PBKDF2 salt size in bytes (128 bits).
	SaltLength = 16

	// PasswordIterations is the fixed PBKDF2 work factor.
	PasswordIterations = 150_000
)

// Key is raw symmetric key material. It must never be persisted or logged.
type Key []byte

// Provider is the entropy capability used for keys, IVs and salts.
type Provider struct {
	rand io.Reader
}

// NewProvider returns a Provider reading from r, or from crypto/rand when r is nil.
func NewProvider(r io.Reader) *Provider {
	if r == nil {
		r = rand.Reader
	}
	return &Provider{rand: r}
}

// RandomKey generates a fresh 256-bit key for password-less sharing.
func (p *Provider) RandomKey() (Key, error) {
	key := make(Key, KeyLength)
	if err := p.read(key); err != nil {
		return nil, errors.Wrap(err, "generating key")
	}
	return key, nil
}

func (p *Provider) read(b []byte) error {
	_, err := io.ReadFull(p.rand, b)
	return err
}

// DerivePasswordKey stretches password into a 256-bit key. The same
// (password, salt) pair always yields the same key.
func DerivePasswordKey(password string, salt []byte) (Key, error) {
	if password == "" {
		return nil, errors.Wrap(ErrInvalidInput, "password is required")
	}
	if len(salt) != SaltLength {
		return nil, errors.Wrapf(ErrInvalidInput, "salt must be %d bytes", SaltLength)
	}
	return pbkdf2.Key([]byte(password), salt, PasswordIterations, KeyLength, sha256.New), nil
}

// Encode renders the key for a share link fragment.
func (k Key) Encode() string {
	return base64.RawURLEncoding.EncodeToString(k)
}

// Hash returns the base64 SHA-256 digest stored alongside the envelope.
func (k Key) Hash() string {
	sum := sha256.Sum256(k)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// ParseKey decodes a key taken from a share link fragment.
func ParseKey(s string) (Key, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidInput, "malformed key")
	}
	if len(b) != KeyLength {
		return nil, errors.Wrapf(ErrInvalidInput, "key must be %d bytes", KeyLength)
	}
	return Key(b), nil
}

// VerifyKey reports whether key matches the envelope's key hash.
func VerifyKey(env *Envelope, key Key) bool {
	if env == nil || env.KeyHash == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(env.KeyHash), []byte(key.Hash())) == 1
}

// Wipe zeroes b in place.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}
