// Package pointer encrypts room ids for storage in room state.
//
// A blob is three base64 segments joined by "|": a random 16-byte salt, a
// random GCM nonce, and the AES-256-GCM ciphertext with its tag. The key is
// derived per blob with PBKDF2-HMAC-SHA256 (1000 iterations) from the
// configured encryption key and the salt, so two encryptions of the same
// room id never look alike.
package pointer
