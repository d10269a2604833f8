package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateToken_URLSafeAlphabet(t *testing.T) {
	token, err := GenerateToken(32)
	require.NoError(t, err)

	assert.Len(t, token, 43) // 32 bytes, base64 without padding
	assert.NoError(t, ValidateTokenFormat(token))
}

func TestGenerateToken_RejectsShortLength(t *testing.T) {
	_, err := GenerateToken(16)
	assert.Error(t, err)
}

func TestGenerateToken_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		token, err := GenerateToken(32)
		require.NoError(t, err)
		assert.False(t, seen[token], "duplicate token generated")
		seen[token] = true
	}
}

func TestHashToken_Deterministic(t *testing.T) {
	token, err := GenerateToken(32)
	require.NoError(t, err)

	first := HashToken(token)
	second := HashToken(token)

	assert.Equal(t, first, second)
	assert.Len(t, first, 64) // hex SHA-256
	assert.NotEqual(t, first, HashToken(token+"x"))
	assert.NotContains(t, first, token)
}

func TestTokenPrefix_ShortAndNotTheSecret(t *testing.T) {
	token, err := GenerateToken(32)
	require.NoError(t, err)

	prefix := TokenPrefix(token)
	assert.Len(t, prefix, 8)
	assert.False(t, strings.Contains(token, prefix), "prefix must come from the hash, not the secret")
}

func TestValidateTokenFormat(t *testing.T) {
	valid, err := GenerateToken(32)
	require.NoError(t, err)

	cases := []struct {
		name  string
		input string
		ok    bool
	}{
		{"generated token", valid, true},
		{"empty", "", false},
		{"too short", "abc123", false},
		{"too long", strings.Repeat("a", 129), false},
		{"sql injection", "' OR '1'='1;--" + strings.Repeat("a", 40), false},
		{"markup", "<script>alert(1)</script>" + strings.Repeat("a", 30), false},
		{"whitespace", strings.Repeat("a", 42) + " ", false},
		{"max length url-safe", strings.Repeat("A1-_", 32), true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateTokenFormat(tc.input)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidTokenFormat)
			}
		})
	}
}

func TestValidateEmail(t *testing.T) {
	assert.NoError(t, ValidateEmail("user@example.com"))
	assert.Error(t, ValidateEmail(""))
	assert.Error(t, ValidateEmail("not-an-email"))
	assert.Error(t, ValidateEmail(strings.Repeat("a", 250)+"@example.com"))
}
