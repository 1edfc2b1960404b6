package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// TestHashPassword tests hashing and checking a password
func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("correct-horse-battery")

	require.NoError(t, err)
	assert.True(t, CheckPassword(hash, "correct-horse-battery"))
	assert.False(t, CheckPassword(hash, "correct-horse-battery!"))
	assert.False(t, NeedsRehash(hash))
}

// TestValidatePassword tests the length limits
func TestValidatePassword(t *testing.T) {
	assert.ErrorIs(t, ValidatePassword("short"), ErrPasswordLength)
	assert.ErrorIs(t, ValidatePassword(strings.Repeat("a", MaxPasswordLength+1)), ErrPasswordLength)
	assert.NoError(t, ValidatePassword(strings.Repeat("a", MaxPasswordLength)))

	_, err := HashPassword("short")
	assert.ErrorIs(t, err, ErrPasswordLength)
}

// TestNeedsRehash tests detection of weaker hashes
func TestNeedsRehash(t *testing.T) {
	weak, err := bcrypt.GenerateFromPassword([]byte("correct-horse-battery"), bcrypt.MinCost)
	require.NoError(t, err)

	assert.True(t, NeedsRehash(string(weak)))
	assert.True(t, NeedsRehash("not-a-hash"))
}
