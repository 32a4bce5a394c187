// ABOUTME: Tests for room id pointer encryption
// ABOUTME: Covers round-trip, tampering, wrong keys, malformed input and legacy IV sizes

package pointer

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/pbkdf2"
	"maunium.net/go/mautrix/id"
)

func TestCipher_RoundTrip(t *testing.T) {
	rooms := []id.RoomID{
		"!test:localhost",
		"!AbCdEfGhIjKlMnOp:matrix.org",
		"!unicode-ü:example.com",
	}
	secrets := []string{"test123", "a much longer secret with spaces", "x"}

	for _, secret := range secrets {
		c := New(secret)
		for _, room := range rooms {
			blob, err := c.Encrypt(room)
			require.NoError(t, err)

			got, err := c.Decrypt(blob)
			require.NoError(t, err)
			assert.Equal(t, room, got)
		}
	}
}

func TestCipher_BlobShape(t *testing.T) {
	c := New("test123")
	blob, err := c.Encrypt("!test:localhost")
	require.NoError(t, err)

	parts := strings.Split(blob, "|")
	require.Len(t, parts, 3)

	salt, err := base64.StdEncoding.DecodeString(parts[0])
	require.NoError(t, err)
	nonce, err := base64.StdEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	sealed, err := base64.StdEncoding.DecodeString(parts[2])
	require.NoError(t, err)

	assert.Len(t, salt, 16)
	assert.Len(t, nonce, 12)
	assert.Len(t, sealed, len("!test:localhost")+16, "ciphertext plus 128-bit tag")
}

func TestCipher_FreshSaltPerEncryption(t *testing.T) {
	c := New("test123")
	a, err := c.Encrypt("!same:localhost")
	require.NoError(t, err)
	b, err := c.Encrypt("!same:localhost")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestCipher_TamperDetection(t *testing.T) {
	c := New("test123")
	blob, err := c.Encrypt("!test:localhost")
	require.NoError(t, err)

	parts := strings.Split(blob, "|")
	sealed, err := base64.StdEncoding.DecodeString(parts[2])
	require.NoError(t, err)

	for i := range sealed {
		tampered := make([]byte, len(sealed))
		copy(tampered, sealed)
		tampered[i] ^= 0x01

		bad := parts[0] + "|" + parts[1] + "|" + base64.StdEncoding.EncodeToString(tampered)
		got, err := c.Decrypt(bad)
		assert.ErrorIs(t, err, ErrAuthentication, "flipped byte %d", i)
		assert.Empty(t, got)
	}
}

func TestCipher_TamperedSaltOrNonce(t *testing.T) {
	c := New("test123")
	blob, err := c.Encrypt("!test:localhost")
	require.NoError(t, err)
	parts := strings.Split(blob, "|")

	for _, idx := range []int{0, 1} {
		raw, err := base64.StdEncoding.DecodeString(parts[idx])
		require.NoError(t, err)
		raw[0] ^= 0xff

		mutated := append([]string(nil), parts...)
		mutated[idx] = base64.StdEncoding.EncodeToString(raw)

		_, err = c.Decrypt(strings.Join(mutated, "|"))
		assert.ErrorIs(t, err, ErrAuthentication)
	}
}

func TestCipher_WrongKey(t *testing.T) {
	blob, err := New("key-one").Encrypt("!test:localhost")
	require.NoError(t, err)

	got, err := New("key-two").Decrypt(blob)
	assert.ErrorIs(t, err, ErrAuthentication)
	assert.Empty(t, got)
}

func TestCipher_EmptyInput(t *testing.T) {
	got, err := New("test123").Decrypt("")
	assert.ErrorIs(t, err, ErrEmpty)
	assert.Empty(t, got)
}

func TestCipher_Malformed(t *testing.T) {
	c := New("test123")
	cases := map[string]string{
		"single segment": "abc",
		"two segments":   "YWJj|YWJj",
		"four segments":  "YWJj|YWJj|YWJj|YWJj",
		"bad base64":     "!!!|YWJj|YWJj",
		"empty salt":     "|YWJjYWJjYWJj|YWJj",
		"plain room id":  "!test:localhost",
		"unpadded":       "a|b|c",
	}
	for name, blob := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := c.Decrypt(blob)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformed) || errors.Is(err, ErrAuthentication), "unexpected error: %v", err)
			assert.Empty(t, got)
		})
	}
}

func TestCipher_LegacySixteenByteIV(t *testing.T) {
	secret := "test123"
	salt := []byte("0123456789abcdef")
	iv := []byte("fedcba9876543210")

	key := pbkdf2.Key([]byte(secret), salt, 1000, 32, sha256.New)
	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	aead, err := cipher.NewGCMWithNonceSize(block, len(iv))
	require.NoError(t, err)
	sealed := aead.Seal(nil, iv, []byte("!legacy:localhost"), nil)

	blob := base64.StdEncoding.EncodeToString(salt) + "|" +
		base64.StdEncoding.EncodeToString(iv) + "|" +
		base64.StdEncoding.EncodeToString(sealed)

	got, err := New(secret).Decrypt(blob)
	require.NoError(t, err)
	assert.Equal(t, id.RoomID("!legacy:localhost"), got)
}
