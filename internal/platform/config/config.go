package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	License   LicenseConfig   `mapstructure:"license"`
	Admin     AdminConfig     `mapstructure:"admin"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type DatabaseConfig struct {
	// DSN for the sqlite store. Must carry _txlock=immediate so that
	// read-modify-write transactions (device binding, revocation) take the
	// write lock up front and serialize instead of failing late with BUSY.
	DSN            string `mapstructure:"dsn"`
	MaxConnections int    `mapstructure:"max_connections"`
}

type JWTConfig struct {
	PrivateKeyPath string `mapstructure:"private_key_path"`
	PublicKeyPath  string `mapstructure:"public_key_path"`
	Issuer         string `mapstructure:"issuer"`
	Product        string `mapstructure:"product"`
	KeyID          string `mapstructure:"key_id"`
	// Applied when a license with no expiry mints its first credential.
	DefaultValidityDays int `mapstructure:"default_validity_days"`
}

type LicenseConfig struct {
	KeyGroups      int    `mapstructure:"key_groups"`
	KeyGroupLength int    `mapstructure:"key_group_length"`
	DefaultPlan    string `mapstructure:"default_plan"`
	DefaultDevices int    `mapstructure:"default_devices"`
}

type AdminConfig struct {
	// bcrypt hash of the bootstrap root token. DB-issued admin keys are the
	// normal path; the root token exists to create the first one.
	RootTokenHash string `mapstructure:"root_token_hash"`
}

type RateLimitConfig struct {
	ActivatePerMinute int `mapstructure:"activate_per_minute"`
	VerifyPerMinute   int `mapstructure:"verify_per_minute"`
	AdminPerMinute    int `mapstructure:"admin_per_minute"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	FilePath string `mapstructure:"file_path"`
}

func Load(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	if config.JWT.DefaultValidityDays <= 0 {
		config.JWT.DefaultValidityDays = 30
	}
	if config.License.KeyGroups <= 0 {
		config.License.KeyGroups = 4
	}
	if config.License.KeyGroupLength <= 0 {
		config.License.KeyGroupLength = 5
	}
	if config.License.DefaultPlan == "" {
		config.License.DefaultPlan = "pro"
	}
	if config.License.DefaultDevices <= 0 {
		config.License.DefaultDevices = 1
	}

	return &config, nil
}
