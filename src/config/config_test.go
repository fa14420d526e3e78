package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validEnv(t *testing.T) {
	t.Setenv("API_ENV", "test")
	t.Setenv("RPC_URL", "http://127.0.0.1:8545")
	t.Setenv("CONTRACT_ADDRESS", "0x5FbDB2315678afecb367f032d93F642f64180aa3")
	t.Setenv("SIGNER_VAULT", "static")
	t.Setenv("PRIVATE_KEY", "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	t.Setenv("JWT_SECRET", "secret")
}

func TestLoadDefaults(t *testing.T) {
	validEnv(t)
	c := Load()
	assert.NoError(t, c.Validate())
	assert.Equal(t, "9090", c.Port)
	assert.Equal(t, 2*time.Minute, c.TxWaitTimeout)
	assert.Equal(t, uint64(1), c.TxConfirmations)
	assert.Equal(t, "memory", c.NonceLock)
	assert.Equal(t, "reservations.lifecycle", c.LifecycleTopic)
	assert.Equal(t, 5*time.Minute, c.ReconcileEvery)
}

func TestLoadFallsBackToAdminKey(t *testing.T) {
	validEnv(t)
	t.Setenv("PRIVATE_KEY", "")
	t.Setenv("ADMIN_PRIVATE_KEY", "0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d")
	c := Load()
	assert.Equal(t, "0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d", c.PrivateKey)
	assert.NoError(t, c.Validate())
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]map[string]string{
		"bad contract":        {"CONTRACT_ADDRESS": "0x123"},
		"bad key":             {"PRIVATE_KEY": "abc"},
		"unknown vault":       {"SIGNER_VAULT": "hsm"},
		"missing jwt secret":  {"JWT_SECRET": ""},
		"redis lock no host":  {"NONCE_LOCK": "redis", "REDIS_HOST": ""},
		"header auth in prod": {"AUTH_MODE": "header", "API_ENV": "production"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			validEnv(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			err := Load().Validate()
			assert.Error(t, err)
			assert.True(t, errors.Is(err, ErrUnconfigured))
		})
	}
}

func TestBadDurationFallsBack(t *testing.T) {
	validEnv(t)
	t.Setenv("TX_WAIT_TIMEOUT", "soon")
	assert.Equal(t, 2*time.Minute, Load().TxWaitTimeout)
}
