package crypto

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	p := NewProvider(nil)

	tests := []struct {
		name      string
		plaintext string
	}{
		{"ascii", "database password: hunter2"},
		{"empty", ""},
		{"unicode", "пароль 密码 🔑"},
		{"multiline", "line one\nline two\r\n\ttabbed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := p.RandomKey()
			require.NoError(t, err)

			env, err := p.Encrypt(tt.plaintext, key)
			require.NoError(t, err)
			assert.Nil(t, env.Salt)
			assert.Equal(t, key.Hash(), env.KeyHash)

			got, err := Decrypt(env, key)
			require.NoError(t, err)
			assert.Equal(t, tt.plaintext, got)
		})
	}
}

func TestEncryptUsesFreshIV(t *testing.T) {
	p := NewProvider(nil)
	key, err := p.RandomKey()
	require.NoError(t, err)

	a, err := p.Encrypt("same text", key)
	require.NoError(t, err)
	b, err := p.Encrypt("same text", key)
	require.NoError(t, err)

	assert.NotEqual(t, a.IV, b.IV)
	assert.NotEqual(t, a.Ciphertext, b.Ciphertext)
}

func TestEncryptRejectsBadInput(t *testing.T) {
	p := NewProvider(nil)
	key, err := p.RandomKey()
	require.NoError(t, err)

	_, err = p.Encrypt("ok", key[:16])
	assert.True(t, errors.Is(err, ErrInvalidInput))

	_, err = p.Encrypt(string([]byte{0xff, 0xfe}), key)
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestEncryptEntropyFailure(t *testing.T) {
	p := NewProvider(bytes.NewReader(nil))
	_, err := p.RandomKey()
	assert.Error(t, err)

	key := make(Key, KeyLength)
	_, err = p.Encrypt("text", key)
	assert.Error(t, err)
}

func TestDeterministicProvider(t *testing.T) {
	seed := bytes.Repeat([]byte{7}, 128)
	key := make(Key, KeyLength)

	a, err := NewProvider(bytes.NewReader(seed)).Encrypt("fixed", key)
	require.NoError(t, err)
	b, err := NewProvider(bytes.NewReader(seed)).Encrypt("fixed", key)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestDecryptDetectsTampering(t *testing.T) {
	p := NewProvider(nil)
	key, err := p.RandomKey()
	require.NoError(t, err)
	env, err := p.Encrypt("transfer $100 to alice", key)
	require.NoError(t, err)

	ct, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	require.NoError(t, err)

	for i := 0; i < len(ct)*8; i++ {
		flipped := bytes.Clone(ct)
		flipped[i/8] ^= 1 << (i % 8)
		tampered := *env
		tampered.Ciphertext = base64.StdEncoding.EncodeToString(flipped)

		got, err := Decrypt(&tampered, key)
		require.ErrorIs(t, err, ErrDecryptionFailed, "bit %d", i)
		require.Empty(t, got)
	}

	otherIV := make([]byte, IVLength)
	_, err = rand.Read(otherIV)
	require.NoError(t, err)
	tampered := *env
	tampered.IV = base64.StdEncoding.EncodeToString(otherIV)
	_, err = Decrypt(&tampered, key)
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	tampered = *env
	tampered.IV = base64.StdEncoding.EncodeToString(otherIV[:8])
	_, err = Decrypt(&tampered, key)
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	tampered = *env
	tampered.Ciphertext = "%%%not-base64%%%"
	_, err = Decrypt(&tampered, key)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestDecryptWrongKey(t *testing.T) {
	p := NewProvider(nil)
	key, err := p.RandomKey()
	require.NoError(t, err)
	other, err := p.RandomKey()
	require.NoError(t, err)

	env, err := p.Encrypt("secret", key)
	require.NoError(t, err)

	_, err = Decrypt(env, other)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
	assert.False(t, VerifyKey(env, other))
	assert.True(t, VerifyKey(env, key))
}

func TestPasswordRoundTrip(t *testing.T) {
	p := NewProvider(nil)

	env, err := p.EncryptWithPassword("launch codes", "correct horse battery staple")
	require.NoError(t, err)
	require.NotNil(t, env.Salt)
	assert.True(t, env.PasswordProtected())
	require.NoError(t, env.Validate())

	got, err := DecryptWithPassword(env, "correct horse battery staple")
	require.NoError(t, err)
	assert.Equal(t, "launch codes", got)

	_, err = DecryptWithPassword(env, "wrong password")
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	_, err = DecryptWithPassword(env, "")
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestPasswordFreshSalt(t *testing.T) {
	p := NewProvider(nil)

	a, err := p.EncryptWithPassword("x", "pw")
	require.NoError(t, err)
	b, err := p.EncryptWithPassword("x", "pw")
	require.NoError(t, err)

	assert.NotEqual(t, *a.Salt, *b.Salt)
	assert.NotEqual(t, a.KeyHash, b.KeyHash)
}

func TestDecryptWithPasswordMissingSalt(t *testing.T) {
	p := NewProvider(nil)
	key, err := p.RandomKey()
	require.NoError(t, err)
	env, err := p.Encrypt("no salt here", key)
	require.NoError(t, err)

	_, err = DecryptWithPassword(env, "anything")
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestEnvelopeValidate(t *testing.T) {
	p := NewProvider(nil)
	key, err := p.RandomKey()
	require.NoError(t, err)
	good, err := p.Encrypt("hello", key)
	require.NoError(t, err)
	require.NoError(t, good.Validate())

	badSalt := base64.StdEncoding.EncodeToString([]byte("short"))

	tests := []struct {
		name   string
		mutate func(e *Envelope)
	}{
		{"empty ciphertext", func(e *Envelope) { e.Ciphertext = "" }},
		{"ciphertext not base64", func(e *Envelope) { e.Ciphertext = "***" }},
		{"short iv", func(e *Envelope) { e.IV = base64.StdEncoding.EncodeToString([]byte{1, 2, 3}) }},
		{"short salt", func(e *Envelope) { e.Salt = &badSalt }},
		{"missing key hash", func(e *Envelope) { e.KeyHash = "" }},
		{"key hash wrong size", func(e *Envelope) { e.KeyHash = base64.StdEncoding.EncodeToString([]byte("abc")) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := *good
			tt.mutate(&env)
			assert.True(t, errors.Is(env.Validate(), ErrInvalidInput))
		})
	}
}
