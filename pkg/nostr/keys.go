package nostr

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

var (
	ErrInvalidKey    = errors.New("invalid key")
	ErrInvalidPubKey = errors.New("invalid public key")
)

// Keys holds a secp256k1 identity keypair. The secret key lives only in
// process memory and is never logged or persisted by this package.
type Keys struct {
	sk *secp256k1.PrivateKey
	pk *secp256k1.PublicKey
}

// GenerateKeys creates a fresh random keypair.
func GenerateKeys() (*Keys, error) {
	sk, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return &Keys{sk: sk, pk: sk.PubKey()}, nil
}

// ParseKeys accepts a secret key as 64-char hex or bech32 nsec.
func ParseKeys(secret string) (*Keys, error) {
	secret = strings.TrimSpace(secret)

	var raw []byte
	switch {
	case strings.HasPrefix(secret, "nsec1"):
		hrp, data, err := decodeBech32(secret)
		if err != nil || hrp != "nsec" {
			return nil, fmt.Errorf("%w: bad nsec encoding", ErrInvalidKey)
		}
		raw = data
	case len(secret) == 64:
		var err error
		raw, err = hex.DecodeString(secret)
		if err != nil {
			return nil, fmt.Errorf("%w: bad hex encoding", ErrInvalidKey)
		}
	default:
		return nil, fmt.Errorf("%w: expected hex or nsec", ErrInvalidKey)
	}

	if len(raw) != 32 {
		return nil, fmt.Errorf("%w: secret must be 32 bytes", ErrInvalidKey)
	}

	sk := secp256k1.PrivKeyFromBytes(raw)
	if sk.Key.IsZero() {
		return nil, fmt.Errorf("%w: zero secret", ErrInvalidKey)
	}
	return &Keys{sk: sk, pk: sk.PubKey()}, nil
}

// Secret returns the private scalar. Callers must not log it.
func (k *Keys) Secret() *secp256k1.PrivateKey { return k.sk }

// Public returns the full public key point.
func (k *Keys) Public() *secp256k1.PublicKey { return k.pk }

// PublicKeyHex returns the 32-byte x-only public key in hex, the form
// carried on the wire in events and p-tags.
func (k *Keys) PublicKeyHex() string {
	return hex.EncodeToString(schnorr.SerializePubKey(k.pk))
}

// SecretHex returns the secret key as hex. Used only for export flows.
func (k *Keys) SecretHex() string {
	return hex.EncodeToString(k.sk.Serialize())
}

// Npub returns the bech32-encoded public key.
func (k *Keys) Npub() string {
	return encodeBech32("npub", schnorr.SerializePubKey(k.pk))
}

// Nsec returns the bech32-encoded secret key.
func (k *Keys) Nsec() string {
	return encodeBech32("nsec", k.sk.Serialize())
}

// ParsePublicKey accepts an x-only public key as 64-char hex or bech32 npub
// and returns the normalized hex form plus the parsed point.
func ParsePublicKey(s string) (string, *secp256k1.PublicKey, error) {
	s = strings.TrimSpace(s)

	var raw []byte
	switch {
	case strings.HasPrefix(s, "npub1"):
		hrp, data, err := decodeBech32(s)
		if err != nil || hrp != "npub" {
			return "", nil, fmt.Errorf("%w: bad npub encoding", ErrInvalidPubKey)
		}
		raw = data
	case len(s) == 64:
		var err error
		raw, err = hex.DecodeString(s)
		if err != nil {
			return "", nil, fmt.Errorf("%w: bad hex encoding", ErrInvalidPubKey)
		}
	default:
		return "", nil, fmt.Errorf("%w: expected hex or npub", ErrInvalidPubKey)
	}

	if len(raw) != 32 {
		return "", nil, fmt.Errorf("%w: must be 32 bytes", ErrInvalidPubKey)
	}

	pk, err := schnorr.ParsePubKey(raw)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidPubKey, err)
	}
	return hex.EncodeToString(raw), pk, nil
}

// NpubFromHex converts an x-only hex public key to its npub form.
func NpubFromHex(pubkeyHex string) (string, error) {
	raw, err := hex.DecodeString(pubkeyHex)
	if err != nil || len(raw) != 32 {
		return "", fmt.Errorf("%w: bad hex pubkey", ErrInvalidPubKey)
	}
	return encodeBech32("npub", raw), nil
}

// encodeBech32 encodes a fixed 32-byte value; the conversion cannot fail for
// well-formed input so the error is dropped.
func encodeBech32(hrp string, data []byte) string {
	converted, err := bech32.ConvertBits(data, 8, 5, true)
	if err != nil {
		return ""
	}
	out, err := bech32.Encode(hrp, converted)
	if err != nil {
		return ""
	}
	return out
}

func decodeBech32(s string) (string, []byte, error) {
	hrp, data, err := bech32.Decode(s)
	if err != nil {
		return "", nil, err
	}
	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return "", nil, err
	}
	return hrp, raw, nil
}
