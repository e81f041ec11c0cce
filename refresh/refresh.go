package refresh

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
)

// SecretSize is the number of random bytes in a refresh token.
const SecretSize = 32

// encodedSize is the length of SecretSize bytes in unpadded base64url.
var encodedSize = base64.RawURLEncoding.EncodedLen(SecretSize)

// ErrMalformed is returned for strings that cannot be a token produced by New.
var ErrMalformed = errors.New("malformed refresh token")

// Hash is the SHA-256 of a token's raw bytes. It is the only form ever persisted.
type Hash [sha256.Size]byte

// String renders the hash as lower-case hex, suitable for use in storage keys.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// New returns a fresh token and its hash. The token embeds no data.
func New() (string, Hash, error) {
	var secret [SecretSize]byte
	if _, err := rand.Read(secret[:]); err != nil {
		return "", Hash{}, err
	}
	return base64.RawURLEncoding.EncodeToString(secret[:]), sha256.Sum256(secret[:]), nil
}

// Parse decodes token and returns its hash.
func Parse(token string) (Hash, error) {
	if len(token) != encodedSize {
		return Hash{}, ErrMalformed
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) != SecretSize {
		return Hash{}, ErrMalformed
	}
	return sha256.Sum256(raw), nil
}
