package update

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

const hashBlockSize = 32 * 1024

// HashFile returns the lowercase hex SHA-256 digest of the file at path.
// The file is streamed in fixed-size blocks.
func HashFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file for hashing: %w", err)
	}
	defer file.Close()

	h := sha256.New()
	buf := make([]byte, hashBlockSize)
	if _, err := io.CopyBuffer(h, file, buf); err != nil {
		return "", fmt.Errorf("failed to hash file: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyFile reports whether the SHA-256 digest of the file matches
// expectedHash, ignoring case. A mismatch is (false, nil); the error is only
// set when the file cannot be read.
func VerifyFile(path, expectedHash string) (bool, error) {
	actual, err := HashFile(path)
	if err != nil {
		return false, err
	}
	return actual == strings.ToLower(expectedHash), nil
}
