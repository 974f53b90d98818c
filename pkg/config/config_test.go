package config

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestNewConfig(t *testing.T) {
	once = sync.Once{}
	viper.Reset()

	cfg, err := NewConfig()
	assert.NoError(t, err)
	assert.NotNil(t, cfg)

	// Test singleton behavior
	cfg2, err := NewConfig()
	assert.NoError(t, err)
	assert.Equal(t, cfg, cfg2, "Expected NewConfig to return the same instance")
}

func TestLoadConfig(t *testing.T) {
	viper.Reset()

	tmpFile, err := os.CreateTemp("", "config_*.yaml")
	assert.NoError(t, err)
	defer func() {
		if err := os.Remove(tmpFile.Name()); err != nil {
			t.Logf("Failed to remove temp file: %v", err)
		}
	}()

	configContent := `jwt:
  enabled: true
  issuer: "https://login.example.com"
  audience: "rtvi-clients"
  leeway: "15s"
basic_auth:
  username: "ops"
  password: "hunter2"
cache:
  freshness: "30m"
daily:
  api_key: "dk-test"
bot:
  implementation: "gemini"
  max_per_room: 2
server:
  port: 9090
`
	_, err = tmpFile.WriteString(configContent)
	assert.NoError(t, err)
	err = tmpFile.Close()
	assert.NoError(t, err)

	customLoadConfig := func(cfg *Config) error {
		v := viper.New() // Use a fresh viper instance
		v.SetConfigFile(tmpFile.Name())

		if err := v.ReadInConfig(); err != nil {
			t.Logf("Failed to read config file: %v", err)
			return err
		}

		if err := v.Unmarshal(cfg); err != nil {
			return err
		}

		return cfg.Validate()
	}

	cfg := &Config{}
	err = customLoadConfig(cfg)
	assert.NoError(t, err)

	assert.True(t, cfg.JWT.Enabled)
	assert.Equal(t, "https://login.example.com", cfg.JWT.Issuer)
	assert.Equal(t, "rtvi-clients", cfg.JWT.Audience)
	assert.Equal(t, 15*time.Second, cfg.JWT.Leeway)
	assert.Equal(t, "ops", cfg.BasicAuth.Username)
	assert.Equal(t, "hunter2", cfg.BasicAuth.Password)
	assert.Equal(t, 30*time.Minute, cfg.Cache.Freshness)
	assert.Equal(t, "dk-test", cfg.Daily.APIKey)
	assert.Equal(t, "gemini", cfg.Bot.Implementation)
	assert.Equal(t, 2, cfg.Bot.MaxPerRoom)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestLoadConfigDefaults(t *testing.T) {
	viper.Reset()

	// Point at a non-existent file so only defaults apply
	t.Setenv("CONFIG_NAME", "non-existent-config")
	t.Setenv("CONFIG_PATH", "/tmp/non-existent-path")

	cfg := &Config{}
	err := cfg.LoadConfig()
	assert.NoError(t, err)

	assert.True(t, cfg.JWT.Enabled)
	assert.Equal(t, "https://devlogin.strongmind.com", cfg.JWT.Issuer)
	assert.Equal(t, 30*time.Second, cfg.JWT.Leeway)
	assert.Equal(t, "admin", cfg.BasicAuth.Username)
	assert.Equal(t, time.Hour, cfg.Cache.Freshness)
	assert.Equal(t, "none", cfg.Cache.Store)
	assert.Equal(t, "https://api.daily.co/v1", cfg.Daily.APIURL)
	assert.Equal(t, "nova", cfg.Bot.Implementation)
	assert.Equal(t, 1, cfg.Bot.MaxPerRoom)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	viper.Reset()

	t.Setenv("CONFIG_NAME", "non-existent-config")
	t.Setenv("CONFIG_PATH", "/tmp/non-existent-path")
	t.Setenv("RTVI_JWT_ISSUER", "https://env.issuer.example.com")
	t.Setenv("RTVI_JWT_AUDIENCE", "env-audience")
	t.Setenv("RTVI_BASIC_AUTH_PASSWORD", "env-secret")
	t.Setenv("RTVI_BOT_IMPLEMENTATION", "polly")

	cfg := &Config{}
	err := cfg.LoadConfig()
	assert.NoError(t, err)

	assert.Equal(t, "https://env.issuer.example.com", cfg.JWT.Issuer)
	assert.Equal(t, "env-audience", cfg.JWT.Audience)
	assert.Equal(t, "env-secret", cfg.BasicAuth.Password)
	assert.Equal(t, "polly", cfg.Bot.Implementation)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			JWT:       &JWT{Enabled: true, Issuer: "https://login.example.com", Leeway: 30 * time.Second},
			BasicAuth: &BasicAuth{Username: "admin", Password: "password"},
			Cache:     &Cache{Freshness: time.Hour, Store: "none"},
			Daily:     &Daily{APIURL: "https://api.daily.co/v1"},
			Bot:       &Bot{Implementation: "nova", MaxPerRoom: 1},
			Server:    &Server{Host: "0.0.0.0", Port: 8080},
		}
	}

	tests := []struct {
		name      string
		mutate    func(*Config)
		expectErr bool
	}{
		{
			name:      "valid config",
			mutate:    func(c *Config) {},
			expectErr: false,
		},
		{
			name:      "jwt disabled needs no issuer",
			mutate:    func(c *Config) { c.JWT = &JWT{Enabled: false} },
			expectErr: false,
		},
		{
			name:      "missing issuer with jwt enabled",
			mutate:    func(c *Config) { c.JWT.Issuer = "" },
			expectErr: true,
		},
		{
			name:      "leeway above one minute",
			mutate:    func(c *Config) { c.JWT.Leeway = 2 * time.Minute },
			expectErr: true,
		},
		{
			name:      "negative leeway",
			mutate:    func(c *Config) { c.JWT.Leeway = -time.Second },
			expectErr: true,
		},
		{
			name:      "missing basic auth password",
			mutate:    func(c *Config) { c.BasicAuth.Password = "" },
			expectErr: true,
		},
		{
			name:      "zero cache freshness",
			mutate:    func(c *Config) { c.Cache.Freshness = 0 },
			expectErr: true,
		},
		{
			name:      "redis store without address",
			mutate:    func(c *Config) { c.Cache.Store = "redis" },
			expectErr: true,
		},
		{
			name: "redis store with address",
			mutate: func(c *Config) {
				c.Cache.Store = "redis"
				c.Cache.RedisAddr = "localhost:6379"
			},
			expectErr: false,
		},
		{
			name:      "unsupported cache store",
			mutate:    func(c *Config) { c.Cache.Store = "memcached" },
			expectErr: true,
		},
		{
			name:      "unknown bot implementation",
			mutate:    func(c *Config) { c.Bot.Implementation = "skynet" },
			expectErr: true,
		},
		{
			name:      "max per room below one",
			mutate:    func(c *Config) { c.Bot.MaxPerRoom = 0 },
			expectErr: true,
		},
		{
			name:      "port out of range",
			mutate:    func(c *Config) { c.Server.Port = 70000 },
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.expectErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateDerivesJWKSURL(t *testing.T) {
	cfg := Config{
		JWT:       &JWT{Enabled: true, Issuer: "https://login.example.com/"},
		BasicAuth: &BasicAuth{Username: "admin", Password: "password"},
		Cache:     &Cache{Freshness: time.Hour},
		Bot:       &Bot{MaxPerRoom: 1},
		Server:    &Server{Port: 8080},
	}

	assert.NoError(t, cfg.Validate())
	assert.Equal(t, "https://login.example.com"+WellKnownJWKSPath, cfg.JWT.JWKSURL)

	// An explicit JWKS URL is never overwritten.
	cfg.JWT.JWKSURL = "https://keys.example.com/jwks.json"
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, "https://keys.example.com/jwks.json", cfg.JWT.JWKSURL)
}
