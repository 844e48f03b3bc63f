package codec

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"
	"math/bits"

	"github.com/btcsuite/btcd/btcec/v2"
	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/hkdf"

	"github.com/openclaw/remote-signer-go/internal/nostr"
)

const (
	nip44Version   = 2
	nonceSize      = 32
	macSize        = 32
	minPlaintext   = 1
	maxPlaintext   = 65535
	minPayloadLen  = 132
	maxPayloadLen  = 87472
	minDecodedLen  = 99
	maxDecodedLen  = 65603
	messageKeysLen = 76
)

var conversationSalt = []byte("nip44-v2")

// ConversationKey derives the symmetric key shared by secret and pub. It is
// symmetric: ConversationKey(a, B) == ConversationKey(b, A).
func ConversationKey(secretHex, pubHex string) ([]byte, error) {
	priv, err := nostr.ParseSecretKey(secretHex)
	if err != nil {
		return nil, err
	}
	pub, err := nostr.ParsePublicKey(pubHex)
	if err != nil {
		return nil, err
	}
	shared := btcec.GenerateSharedSecret(priv, pub)
	return hkdf.Extract(sha256.New, shared, conversationSalt), nil
}

func messageKeys(convKey, nonce []byte) (chachaKey, chachaNonce, hmacKey []byte, err error) {
	if len(convKey) != 32 {
		return nil, nil, nil, fmt.Errorf("conversation key must be 32 bytes")
	}
	if len(nonce) != nonceSize {
		return nil, nil, nil, fmt.Errorf("nonce must be %d bytes", nonceSize)
	}
	keys := make([]byte, messageKeysLen)
	if _, err := io.ReadFull(hkdf.Expand(sha256.New, convKey, nonce), keys); err != nil {
		return nil, nil, nil, err
	}
	return keys[0:32], keys[32:44], keys[44:76], nil
}

func calcPaddedLen(n int) int {
	if n <= 32 {
		return 32
	}
	nextPow := 1 << bits.Len(uint(n-1))
	chunk := 32
	if nextPow > 256 {
		chunk = nextPow / 8
	}
	return chunk * ((n-1)/chunk + 1)
}

func pad(plaintext string) ([]byte, error) {
	n := len(plaintext)
	if n < minPlaintext || n > maxPlaintext {
		return nil, fmt.Errorf("plaintext length %d out of range", n)
	}
	out := make([]byte, 2+calcPaddedLen(n))
	binary.BigEndian.PutUint16(out, uint16(n))
	copy(out[2:], plaintext)
	return out, nil
}

func unpad(padded []byte) (string, error) {
	if len(padded) < 2 {
		return "", fmt.Errorf("padding too short")
	}
	n := int(binary.BigEndian.Uint16(padded))
	if n < minPlaintext || len(padded) != 2+calcPaddedLen(n) {
		return "", fmt.Errorf("invalid padding")
	}
	return string(padded[2 : 2+n]), nil
}

func hmacAAD(key, nonce, ciphertext []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(nonce)
	h.Write(ciphertext)
	return h.Sum(nil)
}

// Encrypt produces a version 2 payload with a fresh random nonce.
func Encrypt(plaintext string, convKey []byte) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return encryptWithNonce(plaintext, convKey, nonce)
}

func encryptWithNonce(plaintext string, convKey, nonce []byte) (string, error) {
	chachaKey, chachaNonce, hmacKey, err := messageKeys(convKey, nonce)
	if err != nil {
		return "", err
	}
	padded, err := pad(plaintext)
	if err != nil {
		return "", err
	}

	c, err := chacha20.NewUnauthenticatedCipher(chachaKey, chachaNonce)
	if err != nil {
		return "", err
	}
	ciphertext := make([]byte, len(padded))
	c.XORKeyStream(ciphertext, padded)

	mac := hmacAAD(hmacKey, nonce, ciphertext)

	out := make([]byte, 0, 1+nonceSize+len(ciphertext)+macSize)
	out = append(out, nip44Version)
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	out = append(out, mac...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt authenticates and opens a version 2 payload.
func Decrypt(payload string, convKey []byte) (string, error) {
	plen := len(payload)
	if plen == 0 || payload[0] == '#' {
		return "", fmt.Errorf("unsupported encryption version")
	}
	if plen < minPayloadLen || plen > maxPayloadLen {
		return "", fmt.Errorf("invalid payload size %d", plen)
	}

	data, err := base64.StdEncoding.Strict().DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("invalid base64: %w", err)
	}
	dlen := len(data)
	if dlen < minDecodedLen || dlen > maxDecodedLen {
		return "", fmt.Errorf("invalid data size %d", dlen)
	}
	if data[0] != nip44Version {
		return "", fmt.Errorf("unknown version %d", data[0])
	}

	nonce := data[1 : 1+nonceSize]
	ciphertext := data[1+nonceSize : dlen-macSize]
	mac := data[dlen-macSize:]

	chachaKey, chachaNonce, hmacKey, err := messageKeys(convKey, nonce)
	if err != nil {
		return "", err
	}
	if !hmac.Equal(mac, hmacAAD(hmacKey, nonce, ciphertext)) {
		return "", fmt.Errorf("invalid MAC")
	}

	c, err := chacha20.NewUnauthenticatedCipher(chachaKey, chachaNonce)
	if err != nil {
		return "", err
	}
	padded := make([]byte, len(ciphertext))
	c.XORKeyStream(padded, ciphertext)
	return unpad(padded)
}
