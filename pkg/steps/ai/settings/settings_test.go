package settings

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestNewSettingsFromViper_Defaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	s, err := NewSettingsFromViper(v)
	require.NoError(t, err)
	assert.False(t, s.API.IsConfigured())
	assert.Equal(t, 30*time.Second, s.Dispatch.Timeout)
	assert.Equal(t, 2, s.Dispatch.MaxAttempts)
	assert.Equal(t, 0.9, s.Generation.Temperature)
	assert.Equal(t, 1, s.Generation.TopK)
	assert.Equal(t, 1.0, s.Generation.TopP)
	assert.Equal(t, 2048, s.Generation.MaxOutputTokens)
	assert.Equal(t, "file", s.Store.Backend)
	assert.False(t, s.Dispatch.AllowHTTP)
	assert.False(t, s.Dispatch.AllowLocalNetworks)
}

func TestNewSettingsFromViper_EndpointPolicyKeysAreIndependent(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set(KeyDispatchAllowLocal, true)

	s, err := NewSettingsFromViper(v)
	require.NoError(t, err)
	assert.False(t, s.Dispatch.AllowHTTP)
	assert.True(t, s.Dispatch.AllowLocalNetworks)

	opts := s.Dispatch.EndpointOptions()
	assert.False(t, opts.AllowHTTP)
	assert.True(t, opts.AllowLocalNetworks)
}

func TestNewSettingsFromViper_Env(t *testing.T) {
	t.Setenv("MASTRO_API_URL", "https://example.com/v1/models/m:generateContent")
	t.Setenv("MASTRO_API_KEY", "secret")
	t.Setenv("MASTRO_DISPATCH_MAX_ATTEMPTS", "4")

	v := viper.New()
	v.SetEnvPrefix("mastro")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	s, err := NewSettingsFromViper(v)
	require.NoError(t, err)
	assert.True(t, s.API.IsConfigured())
	assert.Equal(t, "secret", s.API.Key)
	assert.Equal(t, 4, s.Dispatch.MaxAttempts)
}

func TestSettings_YAMLRoundTripThroughViper(t *testing.T) {
	s := NewSettings()
	s.API.URL = "https://example.com"
	s.API.Key = "k"
	s.Dispatch.Timeout = 5 * time.Second
	s.Dispatch.AllowLocalNetworks = true
	s.Store.Backend = "bolt"

	b, err := yaml.Marshal(s)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, b, 0o600))

	v := viper.New()
	SetDefaults(v)
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	got, err := NewSettingsFromViper(v)
	require.NoError(t, err)
	assert.Equal(t, s, got)
}

func TestSettings_Validate(t *testing.T) {
	s := NewSettings()
	s.Store.Backend = "redis"
	require.Error(t, s.Validate())

	s = NewSettings()
	s.Dispatch.Timeout = 0
	require.Error(t, s.Validate())

	s = NewSettings()
	s.Dispatch.MaxAttempts = -1
	require.Error(t, s.Validate())
}

func TestSettings_Clone(t *testing.T) {
	s := NewSettings()
	c := s.Clone()
	c.API.Key = "changed"
	assert.Empty(t, s.API.Key)
}
