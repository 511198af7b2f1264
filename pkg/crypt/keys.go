// Package crypt manages the ECDSA key that signs session tokens.
package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/btcsuite/btcutil/base58"
	"github.com/cespare/xxhash"
	"github.com/rakutentech/jwk-go/jwk"
)

const AlgorithmES256 = "ES256"

var ErrorInvalidPassphrase = errors.New("invalid signing key passphrase")

// KeyID derives a short stable identifier for a public key.
func KeyID(publicKey *ecdsa.PublicKey) string {
	xxxHash := xxhash.New()
	xxxHash.Write(publicKey.X.Bytes())
	xxxHash.Write(publicKey.Y.Bytes())
	rawID := xxxHash.Sum(nil)
	return base58.Encode(rawID)
}

func GenerateKey() (*ecdsa.PrivateKey, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating public/private key pair: %w", err)
	}
	return privateKey, nil
}

func marshalJWK(key interface{}, keyID string) ([]byte, error) {
	ks := jwk.NewSpec(key)
	rawJWK, err := ks.ToJWK()
	if err != nil {
		return nil, fmt.Errorf("creating JWK: %w", err)
	}

	rawJWK.Use = "sig"
	rawJWK.Alg = AlgorithmES256
	rawJWK.Kid = keyID

	keyData, err := rawJWK.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("marshalling JWK: %w", err)
	}
	return keyData, nil
}

func sealingKey(keyID string, passphrase string) []byte {
	shaHash := sha256.New()
	shaHash.Write(base58.Decode(keyID))
	shaHash.Write([]byte(passphrase))
	return shaHash.Sum(nil)
}

// EncodePrivateKey seals the key's JWK with AES-GCM. The result is
// <nonce>.<ciphertext>, both base64.
func EncodePrivateKey(privateKey *ecdsa.PrivateKey, keyID string, passphrase string) (string, error) {
	keyData, err := marshalJWK(privateKey, keyID)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(sealingKey(keyID, passphrase))
	if err != nil {
		return "", fmt.Errorf("creating AES cipher: %w", err)
	}

	nonce := make([]byte, 12)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("creating AES nonce: %w", err)
	}

	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("creating GCM cipher: %w", err)
	}

	ciphertext := aesgcm.Seal(nil, nonce, keyData, nil)
	sb := strings.Builder{}
	sb.WriteString(base64.StdEncoding.EncodeToString(nonce))
	sb.WriteRune('.')
	sb.WriteString(base64.StdEncoding.EncodeToString(ciphertext))

	return sb.String(), nil
}

func DecodePrivateKey(encoded string, keyID string, passphrase string) (*ecdsa.PrivateKey, error) {
	parts := strings.Split(encoded, ".")
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid private key")
	}
	nonce, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("decoding ciphertext: %w", err)
	}

	block, err := aes.NewCipher(sealingKey(keyID, passphrase))
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM cipher: %w", err)
	}
	if len(nonce) != aesgcm.NonceSize() {
		return nil, fmt.Errorf("invalid nonce")
	}

	keyData, err := aesgcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrorInvalidPassphrase
	}

	keySpec, err := jwk.Parse(string(keyData))
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	privateKey, ok := keySpec.Key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is %T, not ECDSA", keySpec.Key)
	}
	return privateKey, nil
}

// PublicJWK returns the public half of the key as JWK JSON.
func PublicJWK(publicKey *ecdsa.PublicKey, keyID string) (json.RawMessage, error) {
	return marshalJWK(publicKey, keyID)
}

type keyFile struct {
	KeyID string `json:"kid"`
	Key   string `json:"key"`
}

// LoadOrCreate reads the signing key stored at keyPath. A new key is
// generated and written there when the file does not exist.
func LoadOrCreate(keyPath string, passphrase string) (*ecdsa.PrivateKey, string, error) {
	data, err := os.ReadFile(keyPath)
	if err == nil {
		var stored keyFile
		if err := json.Unmarshal(data, &stored); err != nil {
			return nil, "", fmt.Errorf("decoding key file: %w", err)
		}
		privateKey, err := DecodePrivateKey(stored.Key, stored.KeyID, passphrase)
		if err != nil {
			return nil, "", err
		}
		return privateKey, stored.KeyID, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, "", fmt.Errorf("reading key file: %w", err)
	}

	privateKey, err := GenerateKey()
	if err != nil {
		return nil, "", err
	}
	keyID := KeyID(&privateKey.PublicKey)
	encoded, err := EncodePrivateKey(privateKey, keyID, passphrase)
	if err != nil {
		return nil, "", fmt.Errorf("encrypting private key: %w", err)
	}
	data, err = json.Marshal(keyFile{KeyID: keyID, Key: encoded})
	if err != nil {
		return nil, "", fmt.Errorf("encoding key file: %w", err)
	}
	if err := os.MkdirAll(path.Dir(keyPath), 0o700); err != nil {
		return nil, "", fmt.Errorf("creating key directory: %w", err)
	}
	if err := os.WriteFile(keyPath, data, 0o600); err != nil {
		return nil, "", fmt.Errorf("writing key file: %w", err)
	}
	return privateKey, keyID, nil
}
