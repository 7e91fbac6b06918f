// Package crypto resolves the executor wallet and protects it at rest with
// password-based encryption.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/gagliardetto/solana-go"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// pbkdf2Iterations is the OWASP-recommended minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	// saltLen is the random salt length in bytes.
	saltLen = 16
	// aesKeyLen is the derived AES-256 key length.
	aesKeyLen = 32
	// currentVersion is the encrypted-key JSON schema version.
	currentVersion = 2
)

// ErrNoKeySource is returned when no wallet source is configured.
var ErrNoKeySource = errors.New("crypto: no wallet key source configured")

// encryptedKeyJSON is the on-disk format for an encrypted secret key.
type encryptedKeyJSON struct {
	Version    int    `json:"version"`
	PublicKey  string `json:"publicKey"`
	Salt       string `json:"salt"`       // base64 standard encoding
	Nonce      string `json:"nonce"`      // base64 standard encoding
	Ciphertext string `json:"ciphertext"` // base64 standard encoding
}

// KeyConfig carries the information LoadKeypair needs to resolve a wallet.
type KeyConfig struct {
	// RawPrivateKey is a base58 secret key or a CLI JSON byte array.
	RawPrivateKey string

	// KeypairPath is a Solana CLI keypair file.
	KeypairPath string

	// EncryptedKeyPath is the path to a JSON file produced by EncryptKeypair.
	EncryptedKeyPath string

	// KeyPassword decrypts the file at EncryptedKeyPath.
	KeyPassword string
}

// Configured reports whether any key source is set.
func (c KeyConfig) Configured() bool {
	return c.RawPrivateKey != "" || c.KeypairPath != "" || c.EncryptedKeyPath != ""
}

// EncryptKeypair encrypts kp's secret key with a password using
// PBKDF2-HMAC-SHA256 key derivation and AES-256-GCM authenticated encryption.
// The public key is stored in clear so the file can be identified without the
// password, and is bound to the ciphertext as additional data.
func EncryptKeypair(kp solana.PrivateKey, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	if err := checkPrivateKey(kp); err != nil {
		return nil, err
	}
	secret := []byte(kp)

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generating salt: %w", err)
	}

	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}

	pub := kp.PublicKey().String()
	ciphertext := gcm.Seal(nil, nonce, secret, []byte(pub))

	out := encryptedKeyJSON{
		Version:    currentVersion,
		PublicKey:  pub,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}
	return json.MarshalIndent(out, "", "  ")
}

// DecryptKeypair decrypts a JSON blob produced by EncryptKeypair.
func DecryptKeypair(encryptedJSON []byte, password string) (solana.PrivateKey, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}

	var stored encryptedKeyJSON
	if err := json.Unmarshal(encryptedJSON, &stored); err != nil {
		return nil, fmt.Errorf("crypto: parsing encrypted key JSON: %w", err)
	}
	if stored.Version != currentVersion {
		return nil, fmt.Errorf("crypto: unsupported version %d", stored.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(stored.Salt)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(stored.Nonce)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(stored.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding ciphertext: %w", err)
	}

	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("crypto: nonce has %d bytes, want %d", len(nonce), gcm.NonceSize())
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, []byte(stored.PublicKey))
	if err != nil {
		return nil, fmt.Errorf("crypto: decryption failed (wrong password?): %w", err)
	}

	kp := solana.PrivateKey(plaintext)
	if err := checkPrivateKey(kp); err != nil {
		return nil, err
	}
	if kp.PublicKey().String() != stored.PublicKey {
		return nil, errors.New("crypto: decrypted key does not match stored public key")
	}
	return kp, nil
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	derivedKey := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}
	return gcm, nil
}

// LoadKeypair resolves the wallet from the provided configuration.
//
// Resolution order:
//  1. RawPrivateKey.
//  2. KeypairPath.
//  3. EncryptedKeyPath decrypted with KeyPassword.
func LoadKeypair(cfg KeyConfig) (solana.PrivateKey, error) {
	if cfg.RawPrivateKey != "" {
		kp, err := ParsePrivateKey(cfg.RawPrivateKey)
		if err != nil {
			return nil, fmt.Errorf("crypto: raw private key: %w", err)
		}
		return kp, nil
	}

	if cfg.KeypairPath != "" {
		kp, err := solana.PrivateKeyFromSolanaKeygenFile(cfg.KeypairPath)
		if err != nil {
			return nil, fmt.Errorf("crypto: keypair file: %w", err)
		}
		if err := checkPrivateKey(kp); err != nil {
			return nil, err
		}
		return kp, nil
	}

	if cfg.EncryptedKeyPath != "" {
		data, err := os.ReadFile(cfg.EncryptedKeyPath)
		if err != nil {
			return nil, fmt.Errorf("crypto: reading encrypted key file: %w", err)
		}
		return DecryptKeypair(data, cfg.KeyPassword)
	}

	return nil, ErrNoKeySource
}

// ParsePrivateKey accepts either a base58 secret key or the Solana CLI JSON
// byte-array format.
func ParsePrivateKey(s string) (solana.PrivateKey, error) {
	s = strings.TrimSpace(s)
	var kp solana.PrivateKey
	if strings.HasPrefix(s, "[") {
		var raw []byte
		var ints []int
		if err := json.Unmarshal([]byte(s), &ints); err != nil {
			return nil, fmt.Errorf("crypto: parse keypair json: %w", err)
		}
		raw = make([]byte, len(ints))
		for i, v := range ints {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("crypto: keypair json byte %d out of range", i)
			}
			raw[i] = byte(v)
		}
		kp = solana.PrivateKey(raw)
	} else {
		var err error
		kp, err = solana.PrivateKeyFromBase58(s)
		if err != nil {
			return nil, fmt.Errorf("crypto: decode base58 key: %w", err)
		}
	}
	if err := checkPrivateKey(kp); err != nil {
		return nil, err
	}
	return kp, nil
}

// checkPrivateKey requires a 64-byte secret whose public half matches the
// seed.
func checkPrivateKey(kp solana.PrivateKey) error {
	if len(kp) != ed25519.PrivateKeySize {
		return fmt.Errorf("crypto: secret key has %d bytes, want %d", len(kp), ed25519.PrivateKeySize)
	}
	derived := ed25519.NewKeyFromSeed(kp[:ed25519.SeedSize])
	if string(derived[ed25519.SeedSize:]) != string(kp[ed25519.SeedSize:]) {
		return errors.New("crypto: secret key public half does not match seed")
	}
	return nil
}
