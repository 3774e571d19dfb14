package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("AUTH_SECURITY_STATE_SECRET", "test-secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, SessionBackendMemory, cfg.Session.Backend)
	assert.Equal(t, 4101, cfg.HTTP.Port)
	assert.Equal(t, []string{"profile"}, cfg.Token.DefaultScopes)
	assert.False(t, cfg.Providers.Google.Enabled)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{
			name: "missing state secret",
			env:  map[string]string{},
		},
		{
			name: "unknown driver",
			env: map[string]string{
				"AUTH_SECURITY_STATE_SECRET": "s",
				"AUTH_DB_DRIVER":             "mysql",
			},
		},
		{
			name: "unknown session backend",
			env: map[string]string{
				"AUTH_SECURITY_STATE_SECRET": "s",
				"AUTH_SESSION_BACKEND":       "cookie",
			},
		},
		{
			name: "google enabled without credentials",
			env: map[string]string{
				"AUTH_SECURITY_STATE_SECRET":     "s",
				"AUTH_PROVIDERS_GOOGLE_ENABLED": "true",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("AUTH_SECURITY_STATE_SECRET", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
		})
	}
}
