package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	nonceSize = 12 // recommended for GCM
	keySize   = 32 // AES-256
)

var (
	ErrUnknownKeyVersion = errors.New("crypto: unknown key version")
	ErrMalformedEnvelope = errors.New("crypto: malformed envelope")
)

// TokenSealer encrypts OAuth tokens at rest with AES-256-GCM. Envelopes are
// self-describing ("v<version>.<base64(nonce||ciphertext)>") so keys can be
// rotated without re-encrypting old records: new writes use the current
// version, reads select the key by the envelope's version.
type TokenSealer struct {
	keys    map[int][]byte
	current int
}

// NewTokenSealer builds a sealer from hex-encoded 32-byte keys keyed by
// version. The current version must be present in the key set.
func NewTokenSealer(hexKeys map[string]string, current int) (*TokenSealer, error) {
	if len(hexKeys) == 0 {
		return nil, errors.New("crypto: no keys configured")
	}
	keys := make(map[int][]byte, len(hexKeys))
	for vs, hk := range hexKeys {
		v, err := strconv.Atoi(vs)
		if err != nil {
			return nil, fmt.Errorf("crypto: invalid key version %q: %w", vs, err)
		}
		key, err := hex.DecodeString(hk)
		if err != nil {
			return nil, fmt.Errorf("crypto: key version %d is not valid hex: %w", v, err)
		}
		if len(key) != keySize {
			return nil, fmt.Errorf("crypto: key version %d must be %d bytes, got %d", v, keySize, len(key))
		}
		keys[v] = key
	}
	if _, ok := keys[current]; !ok {
		return nil, fmt.Errorf("crypto: current key version %d not configured", current)
	}
	return &TokenSealer{keys: keys, current: current}, nil
}

// Seal encrypts plaintext under the current key version with a fresh random
// nonce per call.
func (s *TokenSealer) Seal(plaintext string) (string, error) {
	aesgcm, err := s.gcm(s.current)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	ciphertext := aesgcm.Seal(nil, nonce, []byte(plaintext), nil)
	body := base64.StdEncoding.EncodeToString(append(nonce, ciphertext...))
	return fmt.Sprintf("v%d.%s", s.current, body), nil
}

// Open decrypts an envelope. It fails closed: tag mismatch, truncation and
// unknown versions all return an error, never garbage.
func (s *TokenSealer) Open(envelope string) (string, error) {
	version, body, err := splitEnvelope(envelope)
	if err != nil {
		return "", err
	}
	aesgcm, err := s.gcm(version)
	if err != nil {
		return "", err
	}
	raw, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if len(raw) < nonceSize {
		return "", ErrMalformedEnvelope
	}
	plaintext, err := aesgcm.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("crypto: decryption failed: %w", err)
	}
	return string(plaintext), nil
}

func (s *TokenSealer) gcm(version int) (cipher.AEAD, error) {
	key, ok := s.keys[version]
	if !ok {
		return nil, fmt.Errorf("%w: v%d", ErrUnknownKeyVersion, version)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func splitEnvelope(envelope string) (int, string, error) {
	if !strings.HasPrefix(envelope, "v") {
		return 0, "", ErrMalformedEnvelope
	}
	dot := strings.IndexByte(envelope, '.')
	if dot < 2 {
		return 0, "", ErrMalformedEnvelope
	}
	version, err := strconv.Atoi(envelope[1:dot])
	if err != nil {
		return 0, "", ErrMalformedEnvelope
	}
	return version, envelope[dot+1:], nil
}
