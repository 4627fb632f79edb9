package secrets

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSecretWithFallbackWithoutCLI(t *testing.T) {
	client := NewDopplerClient("lidapay", "dev")
	client.lookPath = func(string) (string, error) { return "", errors.New("not installed") }

	assert.Error(t, client.Initialize())
	assert.Equal(t, "fallback", client.GetSecretWithFallback("GATEWAY_API_KEY", "fallback"))
}

func TestGetSecretFromCLI(t *testing.T) {
	client := NewDopplerClient("lidapay", "prd")
	client.lookPath = func(string) (string, error) { return "/usr/bin/doppler", nil }

	var gotArgs []string
	client.run = func(name string, args ...string) ([]byte, error) {
		gotArgs = args
		return []byte("  sk_live_123\n"), nil
	}

	value, err := client.GetSecret("LIDAPAY_TEST_ONLY_KEY")
	require.NoError(t, err)
	assert.Equal(t, "sk_live_123", value)
	assert.Contains(t, gotArgs, "LIDAPAY_TEST_ONLY_KEY")
	assert.Contains(t, gotArgs, "prd")
}

func TestGetSecretPrefersEnvironment(t *testing.T) {
	t.Setenv("LIDAPAY_TEST_ENV_KEY", "from-env")
	client := NewDopplerClient("lidapay", "dev")
	client.lookPath = func(string) (string, error) { return "/usr/bin/doppler", nil }
	client.run = func(string, ...string) ([]byte, error) {
		t.Fatal("CLI must not be called when the variable is set")
		return nil, nil
	}

	assert.Equal(t, "from-env", client.GetSecretWithFallback("LIDAPAY_TEST_ENV_KEY", ""))
}
