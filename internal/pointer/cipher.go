// ABOUTME: Symmetric encryption of room ids into opaque state-event blobs
// ABOUTME: PBKDF2-derived AES-GCM keys with a fresh salt and nonce per blob

package pointer

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
	"maunium.net/go/mautrix/id"
)

const (
	saltSize   = 16
	nonceSize  = 12
	keySize    = 32
	iterations = 1000

	// separator never appears in standard base64 output.
	separator = "|"
)

var (
	// ErrEmpty is returned when decrypting an empty blob.
	ErrEmpty = errors.New("empty pointer")
	// ErrMalformed is returned when a blob does not have the salt|nonce|ciphertext shape.
	ErrMalformed = errors.New("malformed pointer")
	// ErrAuthentication is returned when the GCM tag does not verify (wrong key or tampering).
	ErrAuthentication = errors.New("pointer authentication failed")
)

// Cipher encrypts and decrypts room ids with a shared secret.
type Cipher struct {
	secret []byte
}

// New creates a Cipher for the given shared secret.
func New(secret string) *Cipher {
	return &Cipher{secret: []byte(secret)}
}

// Encrypt returns base64(salt)|base64(nonce)|base64(ciphertext) for the room id.
func (c *Cipher) Encrypt(roomID id.RoomID) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	aead, err := c.aead(salt, nonceSize)
	if err != nil {
		return "", err
	}

	sealed := aead.Seal(nil, nonce, []byte(roomID.String()), nil)

	return strings.Join([]string{
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(nonce),
		base64.StdEncoding.EncodeToString(sealed),
	}, separator), nil
}

// Decrypt recovers the room id from a blob produced by Encrypt.
// The nonce length is read from the blob, so pointers written with a
// 16-byte IV by older deployments still open.
func (c *Cipher) Decrypt(blob string) (id.RoomID, error) {
	if blob == "" {
		return "", ErrEmpty
	}

	parts := strings.Split(blob, separator)
	if len(parts) != 3 {
		return "", fmt.Errorf("%w: expected 3 segments, got %d", ErrMalformed, len(parts))
	}

	decoded := make([][]byte, len(parts))
	for i, part := range parts {
		b, err := base64.StdEncoding.DecodeString(part)
		if err != nil {
			return "", fmt.Errorf("%w: segment %d: %v", ErrMalformed, i, err)
		}
		decoded[i] = b
	}
	salt, nonce, sealed := decoded[0], decoded[1], decoded[2]

	if len(salt) == 0 || len(nonce) == 0 {
		return "", fmt.Errorf("%w: empty salt or nonce", ErrMalformed)
	}

	aead, err := c.aead(salt, len(nonce))
	if err != nil {
		return "", err
	}

	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuthentication, err)
	}

	return id.RoomID(plain), nil
}

func (c *Cipher) aead(salt []byte, nonceLen int) (cipher.AEAD, error) {
	key := pbkdf2.Key(c.secret, salt, iterations, keySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating block cipher: %w", err)
	}

	aead, err := cipher.NewGCMWithNonceSize(block, nonceLen)
	if err != nil {
		return nil, fmt.Errorf("%w: nonce size %d: %v", ErrMalformed, nonceLen, err)
	}
	return aead, nil
}
