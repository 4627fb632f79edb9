package utils

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateReference(t *testing.T) {
	ref := GenerateReference("LP", time.Date(2024, 5, 2, 23, 0, 0, 0, time.UTC))
	assert.Regexp(t, regexp.MustCompile(`^LP_20240502_[A-Z0-9]{8}$`), ref)

	assert.NotEqual(t, GeneratePayTransRef(), GeneratePayTransRef())
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", TruncateString("short", 10))
	assert.Equal(t, "abcdefg...", TruncateString("abcdefghijklmnop", 10))
	assert.Equal(t, "ab", TruncateString("abcdef", 2))
}

func TestDeviceTokenRoundTrip(t *testing.T) {
	issued, err := GenerateDeviceToken("secret", "device-1", "user-1", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "Bearer", issued.TokenType)
	assert.Equal(t, int64(3600), issued.ExpiresIn)

	claims, err := ValidateToken("secret", issued.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "device-1", claims.DeviceID)
	assert.Equal(t, "user-1", claims.UserID)

	_, err = ValidateToken("other-secret", issued.AccessToken)
	assert.Error(t, err)
}

func TestDeviceTokenExpired(t *testing.T) {
	issued, err := GenerateDeviceToken("secret", "device-1", "", -time.Minute)
	require.NoError(t, err)

	_, err = ValidateToken("secret", issued.AccessToken)
	assert.Error(t, err)
}

func TestGenerateDeviceTokenRequiresInputs(t *testing.T) {
	_, err := GenerateDeviceToken("", "device-1", "", time.Hour)
	assert.Error(t, err)
	_, err = GenerateDeviceToken("secret", "", "", time.Hour)
	assert.Error(t, err)
}
