// Package token implements the signed recipient-identity tokens embedded
// in outbound mail and verified during bounce reconciliation.
//
// Wire format: "<id>:<hex ciphertext>[:<delivery id>]" where the
// ciphertext is a symmetric encryption of the decimal id, hex encoded
// with the [a-f0-9] alphabet.
package token

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// Codec encrypts and verifies recipient identity tokens with a shared
// secret. A single codec instance serves both token minting and bounce
// verification.
type Codec struct {
	aead cipher.AEAD
}

// NewCodec derives the AEAD key from the shared secret.
func NewCodec(secret string) (*Codec, error) {
	if secret == "" {
		return nil, fmt.Errorf("token secret must not be empty")
	}
	key := sha256.Sum256([]byte(secret))
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return &Codec{aead: aead}, nil
}

// Encrypt seals the plaintext and hex-encodes nonce plus ciphertext.
func (c *Codec) Encrypt(plain string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plain), nil)
	return hex.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. A tampered or truncated signature fails.
func (c *Codec) Decrypt(hexed string) (string, error) {
	raw, err := hex.DecodeString(hexed)
	if err != nil {
		return "", fmt.Errorf("malformed signature: %w", err)
	}
	if len(raw) < c.aead.NonceSize() {
		return "", fmt.Errorf("signature too short")
	}
	nonce, sealed := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("signature verification failed: %w", err)
	}
	return string(plain), nil
}

// Mint produces the token for a recipient, optionally carrying the
// delivery the token was sent with.
func (c *Codec) Mint(recipientID int64, deliveryID ...int64) (string, error) {
	id := strconv.FormatInt(recipientID, 10)
	sig, err := c.Encrypt(id)
	if err != nil {
		return "", err
	}
	tok := id + ":" + sig
	if len(deliveryID) > 0 {
		tok += ":" + strconv.FormatInt(deliveryID[0], 10)
	}
	return tok, nil
}

// Verify checks that the signature decrypts to the claimed decimal id.
func (c *Codec) Verify(claimedID, hexSig string) bool {
	plain, err := c.Decrypt(hexSig)
	if err != nil {
		return false
	}
	return plain == claimedID
}

// Parse splits a token into its parts. DeliveryID is zero when the token
// carries none.
func (c *Codec) Parse(tok string) (recipientID int64, deliveryID int64, err error) {
	parts := strings.Split(tok, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, 0, fmt.Errorf("malformed token")
	}
	if !c.Verify(parts[0], parts[1]) {
		return 0, 0, fmt.Errorf("token verification failed")
	}
	recipientID, err = strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed recipient id: %w", err)
	}
	if len(parts) == 3 {
		deliveryID, err = strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("malformed delivery id: %w", err)
		}
	}
	return recipientID, deliveryID, nil
}
