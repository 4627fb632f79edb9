package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("RECONCILE_MAX_RETRIES", "")
	t.Setenv("RECONCILE_INITIAL_DELAY", "")
	t.Setenv("RECONCILE_RETRY_DELAY", "")
	t.Setenv("RECONCILE_PENDING_POLICY", "")

	cfg := LoadConfig()

	assert.Equal(t, 20, cfg.Reconcile.MaxRetries)
	assert.Equal(t, 10*time.Second, cfg.Reconcile.InitialDelay)
	assert.Equal(t, 3*time.Second, cfg.Reconcile.RetryDelay)
	assert.Equal(t, 24*time.Hour, cfg.Reconcile.StaleAfter)
	assert.Equal(t, "reject", cfg.Reconcile.PendingPolicy)
	assert.NotEmpty(t, cfg.JWT.Secret)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("RECONCILE_MAX_RETRIES", "5")
	t.Setenv("RECONCILE_INITIAL_DELAY", "250ms")
	t.Setenv("RECONCILE_RETRY_DELAY", "2")
	t.Setenv("RECONCILE_PENDING_POLICY", "OVERWRITE")

	cfg := LoadConfig()

	assert.Equal(t, 5, cfg.Reconcile.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Reconcile.InitialDelay)
	assert.Equal(t, 2*time.Second, cfg.Reconcile.RetryDelay)
	assert.Equal(t, "overwrite", cfg.Reconcile.PendingPolicy)
}

func TestUnknownPendingPolicyFallsBackToReject(t *testing.T) {
	t.Setenv("RECONCILE_PENDING_POLICY", "overwrit")
	assert.Equal(t, "reject", LoadConfig().Reconcile.PendingPolicy)

	t.Setenv("RECONCILE_PENDING_POLICY", " Reject ")
	assert.Equal(t, "reject", LoadConfig().Reconcile.PendingPolicy)
}

func TestGetEnvIntFallsBackOnGarbage(t *testing.T) {
	t.Setenv("SOME_INT", "twenty")
	assert.Equal(t, 7, getEnvInt("SOME_INT", 7))
}
