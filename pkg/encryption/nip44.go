// Package encryption implements the NIP-44 v2 message primitive, the
// Rumor/Seal/Gift-Wrap envelope used for private messages, and the legacy
// session-key archive kept for decrypting the historical AES-GCM format.
package encryption

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/bits"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/hkdf"
)

const (
	nip44Version     = 2
	minPlaintextSize = 1
	maxPlaintextSize = 65535
)

var (
	ErrDecrypt           = errors.New("decryption failed")
	ErrInvalidPayload    = errors.New("invalid encrypted payload")
	ErrPlaintextSize     = errors.New("plaintext length out of range")
	ErrUnsupportedNonB64 = errors.New("unsupported non-base64 payload")
)

// ConversationKey derives the symmetric key shared between two parties.
// It is symmetric: key(a.sk, b.pk) == key(b.sk, a.pk).
func ConversationKey(sk *secp256k1.PrivateKey, pk *secp256k1.PublicKey) []byte {
	shared := secp256k1.GenerateSharedSecret(sk, pk)
	return hkdf.Extract(sha256.New, shared, []byte("nip44-v2"))
}

func messageKeys(convKey, nonce []byte) (chachaKey, chachaNonce, hmacKey []byte, err error) {
	r := hkdf.Expand(sha256.New, convKey, nonce)
	buf := make([]byte, 76)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to expand message keys: %w", err)
	}
	return buf[0:32], buf[32:44], buf[44:76], nil
}

func calcPaddedLen(unpadded int) int {
	if unpadded <= 32 {
		return 32
	}
	nextPower := 1 << bits.Len(uint(unpadded-1))
	chunk := 32
	if nextPower > 256 {
		chunk = nextPower / 8
	}
	return chunk * ((unpadded-1)/chunk + 1)
}

func pad(plaintext []byte) ([]byte, error) {
	n := len(plaintext)
	if n < minPlaintextSize || n > maxPlaintextSize {
		return nil, ErrPlaintextSize
	}
	padded := make([]byte, 2+calcPaddedLen(n))
	binary.BigEndian.PutUint16(padded[0:2], uint16(n))
	copy(padded[2:], plaintext)
	return padded, nil
}

func unpad(padded []byte) ([]byte, error) {
	if len(padded) < 2+32 {
		return nil, ErrInvalidPayload
	}
	n := int(binary.BigEndian.Uint16(padded[0:2]))
	if n < minPlaintextSize || n > maxPlaintextSize ||
		len(padded) != 2+calcPaddedLen(n) || 2+n > len(padded) {
		return nil, ErrInvalidPayload
	}
	return padded[2 : 2+n], nil
}

func hmacAad(key, aad, message []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(aad)
	mac.Write(message)
	return mac.Sum(nil)
}

// EncryptNIP44 seals plaintext under the conversation key, producing the
// base64 payload (version || nonce || ciphertext || mac).
func EncryptNIP44(convKey []byte, plaintext string) (string, error) {
	padded, err := pad([]byte(plaintext))
	if err != nil {
		return "", err
	}

	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to draw nonce: %w", err)
	}

	chachaKey, chachaNonce, hmacKey, err := messageKeys(convKey, nonce)
	if err != nil {
		return "", err
	}

	stream, err := chacha20.NewUnauthenticatedCipher(chachaKey, chachaNonce)
	if err != nil {
		return "", fmt.Errorf("failed to init cipher: %w", err)
	}
	ciphertext := make([]byte, len(padded))
	stream.XORKeyStream(ciphertext, padded)

	mac := hmacAad(hmacKey, nonce, ciphertext)

	payload := make([]byte, 0, 1+len(nonce)+len(ciphertext)+len(mac))
	payload = append(payload, nip44Version)
	payload = append(payload, nonce...)
	payload = append(payload, ciphertext...)
	payload = append(payload, mac...)
	return base64.StdEncoding.EncodeToString(payload), nil
}

// DecryptNIP44 opens a base64 payload produced by EncryptNIP44.
func DecryptNIP44(convKey []byte, payload string) (string, error) {
	if len(payload) > 0 && payload[0] == '#' {
		return "", ErrUnsupportedNonB64
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("%w: bad base64", ErrInvalidPayload)
	}
	// version(1) + nonce(32) + ciphertext(>=34) + mac(32)
	if len(raw) < 99 {
		return "", ErrInvalidPayload
	}
	if raw[0] != nip44Version {
		return "", fmt.Errorf("%w: unknown version %d", ErrInvalidPayload, raw[0])
	}

	nonce := raw[1:33]
	ciphertext := raw[33 : len(raw)-32]
	mac := raw[len(raw)-32:]

	chachaKey, chachaNonce, hmacKey, err := messageKeys(convKey, nonce)
	if err != nil {
		return "", err
	}
	if !hmac.Equal(mac, hmacAad(hmacKey, nonce, ciphertext)) {
		return "", fmt.Errorf("%w: mac mismatch", ErrDecrypt)
	}

	stream, err := chacha20.NewUnauthenticatedCipher(chachaKey, chachaNonce)
	if err != nil {
		return "", fmt.Errorf("failed to init cipher: %w", err)
	}
	padded := make([]byte, len(ciphertext))
	stream.XORKeyStream(padded, ciphertext)

	plain, err := unpad(padded)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
