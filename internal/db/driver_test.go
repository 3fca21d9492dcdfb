package db_test

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/myluster/QtWebServerChat/internal/db"
	"github.com/stretchr/testify/assert"
)

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// TestVerifyPassword exercises the §4.2 password scheme: plain SHA-256 over
// the UTF-8 password, compared to the stored hex digest. The rest of the
// Driver requires a live Postgres instance to exercise meaningfully and is
// left to integration testing against a real deployment.
func TestVerifyPassword(t *testing.T) {
	stored := sha256Hex("correct horse battery staple")

	assert.True(t, db.VerifyPassword("correct horse battery staple", stored))
	assert.False(t, db.VerifyPassword("wrong password", stored))
}

func TestVerifyPassword_EmptyPassword(t *testing.T) {
	stored := sha256Hex("")
	assert.True(t, db.VerifyPassword("", stored))
}

func TestVerifyPassword_CaseSensitiveHash(t *testing.T) {
	stored := sha256Hex("Password1")
	assert.False(t, db.VerifyPassword("password1", stored))
}
