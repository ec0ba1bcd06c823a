package signing

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/bech32"
)

// DecodeKey decodes a bech32 serialized key to its raw bytes.
func DecodeKey(serializedKey string) ([]byte, error) {
	_, bytesToBits, err := bech32.Decode(serializedKey)
	if err != nil {
		return nil, err
	}

	keyBytes, err := bech32.ConvertBits(bytesToBits, 5, 8, false)
	if err != nil {
		return nil, err
	}

	return keyBytes, nil
}

// DeserializePrivateKey parses an nsec or hex encoded private key.
func DeserializePrivateKey(serializedKey string) (*btcec.PrivateKey, *btcec.PublicKey, error) {
	keyBytes, err := DecodeKey(serializedKey)
	if err != nil {
		keyBytes, err = hex.DecodeString(serializedKey)
		if err != nil {
			return nil, nil, fmt.Errorf("key is neither bech32 nor hex: %w", err)
		}
	}

	privateKey, publicKey := btcec.PrivKeyFromBytes(keyBytes)

	return privateKey, publicKey, nil
}

func GeneratePrivateKey() (*btcec.PrivateKey, error) {
	privateKey, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}

	return privateKey, nil
}

// SerializePrivateKey encodes a private key as nsec bech32.
func SerializePrivateKey(privateKey *btcec.PrivateKey) (string, error) {
	bytesToBits, err := bech32.ConvertBits(privateKey.Serialize(), 8, 5, true)
	if err != nil {
		return "", err
	}

	return bech32.Encode("nsec", bytesToBits)
}

// SerializePublicKeyBech32 encodes the x-only public key as npub bech32.
func SerializePublicKeyBech32(publicKey *btcec.PublicKey) (string, error) {
	bytesToBits, err := bech32.ConvertBits(schnorr.SerializePubKey(publicKey), 8, 5, true)
	if err != nil {
		return "", err
	}

	return bech32.Encode("npub", bytesToBits)
}

// SerializePublicKeyHex encodes the x-only public key as the 64-char hex
// form nostr events carry.
func SerializePublicKeyHex(publicKey *btcec.PublicKey) string {
	return hex.EncodeToString(schnorr.SerializePubKey(publicKey))
}

// SerializePrivateKeyHex encodes a private key as hex, the form go-nostr's
// signing helpers take.
func SerializePrivateKeyHex(privateKey *btcec.PrivateKey) string {
	return hex.EncodeToString(privateKey.Serialize())
}
