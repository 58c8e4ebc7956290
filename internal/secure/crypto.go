// Package secure holds the cryptographic primitives shared by the action
// engine and the token store: value encryption at rest, the inline reversible
// transform, the deterministic anagram, and token id derivation.
package secure

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	mrand "math/rand"
	"strings"
	"unicode"
)

// HashText returns the hex-encoded SHA-256 of a string.
func HashText(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// deriveKey turns a configured secret plus context labels into a 32-byte key.
func deriveKey(secret string, labels ...string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	for _, label := range labels {
		mac.Write([]byte(label))
		mac.Write([]byte{0})
	}
	return mac.Sum(nil)
}

// EncryptValue encrypts a plaintext with AES-256-GCM under a key derived from
// the secret. Output is base64url(nonce || ciphertext).
func EncryptValue(plain, secret string) (string, error) {
	block, err := aes.NewCipher(deriveKey(secret, "store"))
	if err != nil {
		return "", fmt.Errorf("cipher init: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("gcm init: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plain), nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// DecryptValue reverses EncryptValue.
func DecryptValue(encoded, secret string) (string, error) {
	raw, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	block, err := aes.NewCipher(deriveKey(secret, "store"))
	if err != nil {
		return "", fmt.Errorf("cipher init: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("gcm init: %w", err)
	}
	if len(raw) < gcm.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}
	plain, err := gcm.Open(nil, raw[:gcm.NonceSize()], raw[gcm.NonceSize():], nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plain), nil
}

// SimpleEncrypt produces the inline reversible form ENC[base64url]. The
// keystream is keyed by the deployment secret plus the session, so decoding is
// a pure function of configuration, with no store lookup.
func SimpleEncrypt(value, secret, sessionID string) string {
	out := xorKeystream([]byte(value), secret, sessionID)
	return "ENC[" + base64.URLEncoding.EncodeToString(out) + "]"
}

// SimpleDecode reverses SimpleEncrypt. Returns false if the input does not
// have the ENC[...] shape or fails to decode.
func SimpleDecode(encoded, secret, sessionID string) (string, bool) {
	if !strings.HasPrefix(encoded, "ENC[") || !strings.HasSuffix(encoded, "]") {
		return "", false
	}
	raw, err := base64.URLEncoding.DecodeString(encoded[4 : len(encoded)-1])
	if err != nil {
		return "", false
	}
	return string(xorKeystream(raw, secret, sessionID)), true
}

// xorKeystream XORs data with a SHA-256-expanded keystream. Symmetric.
func xorKeystream(data []byte, secret, sessionID string) []byte {
	out := make([]byte, len(data))
	var block [32]byte
	for i := range data {
		if i%32 == 0 {
			block = sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", secret, sessionID, i/32)))
		}
		out[i] = data[i] ^ block[i%32]
	}
	return out
}

// Anagram returns a deterministic shuffle of value seeded by the deployment
// secret, session, category, and the value itself. Letters permute among
// letter positions and digits among digit positions, so length and character
// class are preserved. Not reversible; obfuscation only.
func Anagram(value, secret, sessionID, category string) string {
	seed := deriveKey(secret, "anagram", sessionID, category, value)
	rng := mrand.New(mrand.NewSource(int64(binary.BigEndian.Uint64(seed[:8]))))

	runes := []rune(value)
	var letterPos, digitPos []int
	for i, r := range runes {
		switch {
		case unicode.IsLetter(r):
			letterPos = append(letterPos, i)
		case unicode.IsDigit(r):
			digitPos = append(digitPos, i)
		}
	}

	shuffle := func(positions []int) {
		rng.Shuffle(len(positions), func(i, j int) {
			runes[positions[i]], runes[positions[j]] = runes[positions[j]], runes[positions[i]]
		})
	}
	shuffle(letterPos)
	shuffle(digitPos)

	return string(runes)
}

// TokenID derives the deterministic opaque id for a tokenized value. Repeated
// mentions of the same normalized value within one session collapse to the
// same id; different sessions get different ids.
func TokenID(secret, sessionID, category, normalized string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s|%s|%s", sessionID, category, normalized)
	return hex.EncodeToString(mac.Sum(nil))[:10]
}

// NormalizeValue canonicalizes a sensitive value for token id derivation:
// case-folded with whitespace collapsed.
func NormalizeValue(value string) string {
	return strings.Join(strings.Fields(strings.ToLower(value)), " ")
}
