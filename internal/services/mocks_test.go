package services

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/securebank/backend/internal/crypto"
	"github.com/securebank/backend/internal/models"
	"github.com/stretchr/testify/require"
)

// Fixed key and IVs so tests can compute the exact ciphertexts the
// services will produce.
const testKey = "0123456789abcdef"

var (
	testIVAlice = []byte("aaaaaaaaaaaaaaaa")
	testIVBob   = []byte("bbbbbbbbbbbbbbbb")
)

func newTestCodec(t *testing.T) *crypto.Codec {
	t.Helper()
	codec, err := crypto.NewCodec([]byte(testKey))
	require.NoError(t, err)
	return codec
}

func mustEncrypt(t *testing.T, codec *crypto.Codec, plaintext string, iv []byte) string {
	t.Helper()
	ciphertext, err := codec.Encrypt(plaintext, iv)
	require.NoError(t, err)
	return ciphertext
}

func encodeIV(iv []byte) string {
	return base64.StdEncoding.EncodeToString(iv)
}

func testUser(t *testing.T, codec *crypto.Codec, id, username string, iv []byte, balance string, version int) *models.User {
	t.Helper()
	return &models.User{
		ID:        id,
		Username:  username,
		IV:        encodeIV(iv),
		Balance:   mustEncrypt(t, codec, balance, iv),
		Version:   version,
		CreatedAt: time.Now(),
	}
}
