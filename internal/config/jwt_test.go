package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJWTConfig_DefaultExpiration(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret-key")
	t.Setenv("JWT_EXPIRATION_HOURS", "")

	cfg, err := NewJWTConfig()
	require.NoError(t, err)
	assert.Equal(t, "test-secret-key", cfg.Secret)
	assert.Equal(t, 24, cfg.ExpirationHours, "should use default expiration of 24 hours")
}

func TestNewJWTConfig_Expiration(t *testing.T) {
	tests := []struct {
		name          string
		expiration    string
		expectedHours int
		wantErr       string
	}{
		{name: "custom 12 hours", expiration: "12", expectedHours: 12},
		{name: "minimum 1 hour", expiration: "1", expectedHours: 1},
		{name: "one week", expiration: "168", expectedHours: 168},
		{name: "non-numeric", expiration: "invalid", wantErr: "JWT_EXPIRATION_HOURS"},
		{name: "float", expiration: "12.5", wantErr: "JWT_EXPIRATION_HOURS"},
		{name: "zero", expiration: "0", wantErr: "at least 1 hour"},
		{name: "negative", expiration: "-1", wantErr: "at least 1 hour"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("JWT_SECRET", "test-secret-key")
			t.Setenv("JWT_EXPIRATION_HOURS", tt.expiration)

			cfg, err := NewJWTConfig()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Nil(t, cfg)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectedHours, cfg.ExpirationHours)
		})
	}
}

func TestNewJWTConfig_MissingSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	cfg, err := NewJWTConfig()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestJWTConfig_Resolve(t *testing.T) {
	t.Run("configured secret wins", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "from-env")

		cfg, err := JWTConfig{Secret: "from-file", ExpirationHours: 2}.Resolve()
		require.NoError(t, err)
		assert.Equal(t, "from-file", cfg.Secret)
		assert.Equal(t, 2, cfg.ExpirationHours)
	})

	t.Run("falls back to environment", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "from-env")
		t.Setenv("JWT_EXPIRATION_HOURS", "6")

		cfg, err := JWTConfig{}.Resolve()
		require.NoError(t, err)
		assert.Equal(t, "from-env", cfg.Secret)
		assert.Equal(t, 6, cfg.ExpirationHours)
	})

	t.Run("invalid expiration", func(t *testing.T) {
		_, err := JWTConfig{Secret: "s", ExpirationHours: 0}.Resolve()
		assert.Error(t, err)
	})
}
