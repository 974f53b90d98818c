package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/strongmind/rtvi-gateway/pkg/utils"
)

var (
	once     sync.Once
	instance *Config

	// Default values when neither a config file nor environment variables
	// provide them.
	defaultIssuer         = "https://devlogin.strongmind.com"
	defaultBasicUsername  = "admin"
	defaultBasicPassword  = "password"
	defaultFreshness      = "1h"
	defaultLeeway         = "30s"
	defaultCacheStore     = "none"
	defaultRedisKeyPrefix = "rtvi:jwks:"
	defaultDailyAPIURL    = "https://api.daily.co/v1"
	defaultBotImpl        = "nova"
	defaultMaxPerRoom     = 1
	defaultHost           = "0.0.0.0"
	defaultPort           = 8080
)

// WellKnownJWKSPath is appended to the issuer URL when no explicit JWKS URL
// is configured.
const WellKnownJWKSPath = "/.well-known/openid-configuration/jwks"

// BotImplementations lists the bot session implementations the gateway can
// launch.
var BotImplementations = []string{"openai", "gemini", "nova", "polly"}

// JWT holds the token verification settings.
type JWT struct {
	Enabled  bool          `mapstructure:"enabled"`  // Whether bearer-token verification is attempted before Basic Auth
	Issuer   string        `mapstructure:"issuer"`   // Expected "iss" claim and base URL for JWKS discovery
	JWKSURL  string        `mapstructure:"jwks_url"` // JWKS endpoint; derived from the issuer when empty
	Audience string        `mapstructure:"audience"` // Expected "aud" claim; audience checking is skipped when empty
	Leeway   time.Duration `mapstructure:"leeway"`   // Clock skew tolerance for time-based claims (max 60s)
}

// BasicAuth is the static fallback credential pair.
type BasicAuth struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// Cache configures the JWKS cache.
type Cache struct {
	Freshness      time.Duration `mapstructure:"freshness"`        // How long a fetched key set is considered fresh
	Store          string        `mapstructure:"store"`            // Shared snapshot store: "none" or "redis"
	RedisAddr      string        `mapstructure:"redis_addr"`       // Redis address (if using the redis store)
	RedisKeyPrefix string        `mapstructure:"redis_key_prefix"` // Redis key prefix (if using the redis store)
}

// Daily holds the room provisioning API settings.
type Daily struct {
	APIKey    string `mapstructure:"api_key"`
	APIURL    string `mapstructure:"api_url"`
	RoomURL   string `mapstructure:"room_url"`   // Static room override; skips room creation when set
	RoomToken string `mapstructure:"room_token"` // Token paired with the static room
}

// Bot configures bot session launching.
type Bot struct {
	Implementation string `mapstructure:"implementation"` // Default implementation when the request does not name one
	MaxPerRoom     int    `mapstructure:"max_per_room"`   // Maximum concurrent bot processes per room
}

// Server holds the HTTP listener settings.
type Server struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type Config struct {
	JWT       *JWT       `mapstructure:"jwt"`
	BasicAuth *BasicAuth `mapstructure:"basic_auth"`
	Cache     *Cache     `mapstructure:"cache"`
	Daily     *Daily     `mapstructure:"daily"`
	Bot       *Bot       `mapstructure:"bot"`
	Server    *Server    `mapstructure:"server"`
}

// NewConfig initializes and returns the configuration. It ensures that the config is loaded only once.
func NewConfig() (*Config, error) {
	var err error
	once.Do(func() {
		instance = &Config{}
		err = instance.LoadConfig()
	})
	return instance, err
}

// LoadConfig attempts to load configuration from a file or uses default values if not found.
func (c *Config) LoadConfig() error {
	configName := utils.GetEnv("CONFIG_NAME", "config") // Configuration file name without extension
	configPath := utils.GetEnv("CONFIG_PATH", ".")      // Configuration file path, default to current directory

	// Set environment variable handling first
	viper.SetEnvPrefix("rtvi") // Set the environment variable prefix ex: "RTVI_"
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	viper.AddConfigPath("/etc/rtvi-gateway/")
	viper.AddConfigPath(configPath)
	viper.SetConfigName(configName)

	// Set default values
	viper.SetDefault("jwt.enabled", true)
	viper.SetDefault("jwt.issuer", defaultIssuer)
	viper.SetDefault("jwt.leeway", defaultLeeway)
	viper.SetDefault("basic_auth.username", defaultBasicUsername)
	viper.SetDefault("basic_auth.password", defaultBasicPassword)
	viper.SetDefault("cache.freshness", defaultFreshness)
	viper.SetDefault("cache.store", defaultCacheStore)
	viper.SetDefault("cache.redis_key_prefix", defaultRedisKeyPrefix)
	viper.SetDefault("daily.api_url", defaultDailyAPIURL)
	viper.SetDefault("bot.implementation", defaultBotImpl)
	viper.SetDefault("bot.max_per_room", defaultMaxPerRoom)
	viper.SetDefault("server.host", defaultHost)
	viper.SetDefault("server.port", defaultPort)

	// Explicitly bind all config keys to environment variables
	// JWT settings
	_ = viper.BindEnv("jwt.enabled")  // RTVI_JWT_ENABLED
	_ = viper.BindEnv("jwt.issuer")   // RTVI_JWT_ISSUER
	_ = viper.BindEnv("jwt.jwks_url") // RTVI_JWT_JWKS_URL
	_ = viper.BindEnv("jwt.audience") // RTVI_JWT_AUDIENCE
	_ = viper.BindEnv("jwt.leeway")   // RTVI_JWT_LEEWAY

	// Basic auth settings
	_ = viper.BindEnv("basic_auth.username") // RTVI_BASIC_AUTH_USERNAME
	_ = viper.BindEnv("basic_auth.password") // RTVI_BASIC_AUTH_PASSWORD

	// Cache settings
	_ = viper.BindEnv("cache.freshness")        // RTVI_CACHE_FRESHNESS
	_ = viper.BindEnv("cache.store")            // RTVI_CACHE_STORE
	_ = viper.BindEnv("cache.redis_addr")       // RTVI_CACHE_REDIS_ADDR
	_ = viper.BindEnv("cache.redis_key_prefix") // RTVI_CACHE_REDIS_KEY_PREFIX

	// Daily settings
	_ = viper.BindEnv("daily.api_key")    // RTVI_DAILY_API_KEY
	_ = viper.BindEnv("daily.api_url")    // RTVI_DAILY_API_URL
	_ = viper.BindEnv("daily.room_url")   // RTVI_DAILY_ROOM_URL
	_ = viper.BindEnv("daily.room_token") // RTVI_DAILY_ROOM_TOKEN

	// Bot settings
	_ = viper.BindEnv("bot.implementation") // RTVI_BOT_IMPLEMENTATION
	_ = viper.BindEnv("bot.max_per_room")   // RTVI_BOT_MAX_PER_ROOM

	// Server settings
	_ = viper.BindEnv("server.host") // RTVI_SERVER_HOST
	_ = viper.BindEnv("server.port") // RTVI_SERVER_PORT

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; rely on defaults
		} else {
			return fmt.Errorf("problem reading config file: %w", err)
		}
	}

	if err := viper.Unmarshal(c); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return c.Validate()
}

// Validate checks if the configuration is valid and fills in derivable values.
func (c *Config) Validate() error {
	if c.JWT == nil {
		c.JWT = &JWT{}
	}
	if c.BasicAuth == nil {
		c.BasicAuth = &BasicAuth{}
	}
	if c.Cache == nil {
		c.Cache = &Cache{}
	}
	if c.Daily == nil {
		c.Daily = &Daily{}
	}
	if c.Bot == nil {
		c.Bot = &Bot{}
	}
	if c.Server == nil {
		c.Server = &Server{}
	}

	if c.JWT.Enabled {
		if c.JWT.Issuer == "" {
			return errors.New("jwt issuer is required when jwt is enabled")
		}
		if c.JWT.JWKSURL == "" {
			c.JWT.JWKSURL = strings.TrimSuffix(c.JWT.Issuer, "/") + WellKnownJWKSPath
		}
		if c.JWT.Leeway < 0 || c.JWT.Leeway > time.Minute {
			return fmt.Errorf("jwt leeway must be between 0s and 60s, got %s", c.JWT.Leeway)
		}
	}

	if c.BasicAuth.Username == "" || c.BasicAuth.Password == "" {
		return errors.New("basic auth username and password are required")
	}

	if c.Cache.Freshness <= 0 {
		return fmt.Errorf("cache freshness must be positive, got %s", c.Cache.Freshness)
	}

	switch c.Cache.Store {
	case "", "none":
	case "redis":
		if c.Cache.RedisAddr == "" {
			return errors.New("cache redis_addr is required for the redis store")
		}
	default:
		return fmt.Errorf("unsupported cache store: %s", c.Cache.Store)
	}

	if c.Bot.Implementation != "" && !slices.Contains(BotImplementations, c.Bot.Implementation) {
		return fmt.Errorf("invalid bot implementation: %s. Must be one of %s",
			c.Bot.Implementation, strings.Join(BotImplementations, ", "))
	}
	if c.Bot.MaxPerRoom < 1 {
		return fmt.Errorf("bot max_per_room must be at least 1, got %d", c.Bot.MaxPerRoom)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	return nil
}
