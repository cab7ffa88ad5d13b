package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// ErrCipherTextTooShort は復号対象がnonceより短い場合のエラー
var ErrCipherTextTooShort = errors.New("cipher text too short")

// Cipher はシークレットから導出したAES-256鍵でテキストを暗号化・復号する
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher はシークレットからCipherを作成する
// シークレットの長さは任意で、SHA-256で32バイト鍵に変換する
func NewCipher(secret string) (*Cipher, error) {
	if secret == "" {
		return nil, errors.New("empty encryption secret")
	}

	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher block: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM block: %w", err)
	}

	return &Cipher{aead: aead}, nil
}

// Encrypt は nonce + 暗号文 を base64 でエンコードした文字列を返す
func (c *Cipher) Encrypt(plainText string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	cipherText := c.aead.Seal(nonce, nonce, []byte(plainText), nil)
	return base64.StdEncoding.EncodeToString(cipherText), nil
}

// Decrypt は Encrypt の出力を元の文字列に戻す
func (c *Cipher) Decrypt(encrypted string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return "", fmt.Errorf("failed to base64 decode: %w", err)
	}

	nonceSize := c.aead.NonceSize()
	if len(data) < nonceSize {
		return "", ErrCipherTextTooShort
	}

	plainText, err := c.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}

	return string(plainText), nil
}
