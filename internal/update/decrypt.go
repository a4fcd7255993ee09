package update

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
)

var ErrInvalidKey = errors.New("invalid encryption key")

// Decryptor decrypts downloaded artifacts that the server stored encrypted
// with AES-CTR. The ciphertext is prefixed with a 16-byte IV.
type Decryptor struct {
	key []byte
}

// NewDecryptor creates a decryptor from a base64 encoded AES-128/192/256 key.
func NewDecryptor(base64Key string) (*Decryptor, error) {
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}

	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("%w: expected 16, 24, or 32 bytes, got %d", ErrInvalidKey, len(key))
	}

	return &Decryptor{key: key}, nil
}

// DecryptFile decrypts srcPath into dstPath. srcPath and dstPath may be the
// same file; output goes to a temp file that is renamed over dstPath.
func (d *Decryptor) DecryptFile(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer src.Close()

	block, err := aes.NewCipher(d.key)
	if err != nil {
		return fmt.Errorf("failed to create cipher: %w", err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(src, iv); err != nil {
		return fmt.Errorf("failed to read IV: %w", err)
	}

	tmpPath := dstPath + ".tmp"
	dst, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}

	reader := &cipher.StreamReader{S: cipher.NewCTR(block, iv), R: src}
	if _, err := io.Copy(dst, reader); err != nil {
		dst.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to decrypt: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close decrypted file: %w", err)
	}
	src.Close()

	if err := os.Rename(tmpPath, dstPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename decrypted file: %w", err)
	}

	return nil
}
