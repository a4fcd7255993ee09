package update

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeKey(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}

func encryptCTR(t *testing.T, key, iv, plain []byte) []byte {
	t.Helper()
	block, err := aes.NewCipher(key)
	require.NoError(t, err)

	out := make([]byte, len(plain))
	cipher.NewCTR(block, iv).XORKeyStream(out, plain)
	return append(append([]byte{}, iv...), out...)
}

func TestDecryptor(t *testing.T) {
	key := bytes.Repeat([]byte{0x2a}, 32)
	iv := bytes.Repeat([]byte{0x07}, 16)
	plain := payload(5000)

	sealed := encryptCTR(t, key, iv, plain)
	path := writeTempFile(t, sealed)

	d, err := NewDecryptor(encodeKey(key))
	require.NoError(t, err)
	require.NoError(t, d.DecryptFile(path, path))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, plain, got)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestDecryptor_Errors(t *testing.T) {
	_, err := NewDecryptor("not base64!!")
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = NewDecryptor(encodeKey([]byte("short")))
	assert.ErrorIs(t, err, ErrInvalidKey)

	d, err := NewDecryptor(encodeKey(bytes.Repeat([]byte{1}, 16)))
	require.NoError(t, err)

	path := writeTempFile(t, []byte("tiny"))
	err = d.DecryptFile(path, path+".out")
	assert.Error(t, err, "input shorter than the IV")

	err = d.DecryptFile(filepath.Join(t.TempDir(), "missing"), "out")
	assert.Error(t, err)
}
