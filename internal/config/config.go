package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

const (
	RoleDay   = "day"
	RoleNight = "night"
)

type Config struct {
	Site      SiteConfig      `mapstructure:"site" json:"site"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" json:"scheduler"`
	Cameras   CamerasConfig   `mapstructure:"cameras" json:"cameras"`
	Camera    CameraConfig    `mapstructure:"camera" json:"camera"`
	Output    OutputConfig    `mapstructure:"output" json:"output"`
	Server    ServerConfig    `mapstructure:"server" json:"server"`
	Database  DatabaseConfig  `mapstructure:"database" json:"database"`
	Auth      AuthConfig      `mapstructure:"auth" json:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging" json:"logging"`
}

type SiteConfig struct {
	Name      string  `mapstructure:"name" json:"name"`
	Latitude  float64 `mapstructure:"latitude" json:"latitude"`
	Longitude float64 `mapstructure:"longitude" json:"longitude"`
	Elevation float64 `mapstructure:"elevation" json:"elevation"`
}

type SchedulerConfig struct {
	Interval     time.Duration `mapstructure:"interval" json:"interval"`
	DarkInterval time.Duration `mapstructure:"dark_interval" json:"dark_interval"`
}

// DeviceConfig describes one camera. Processing flags are passed through to
// the output stage untouched.
type DeviceConfig struct {
	Device      string  `mapstructure:"device" yaml:"device" json:"device"`
	Exposure    float64 `mapstructure:"exposure" yaml:"exposure" json:"exposure"`
	Dark        bool    `mapstructure:"dark" yaml:"dark" json:"dark"`
	Debayer     bool    `mapstructure:"debayer" yaml:"debayer" json:"debayer"`
	Grayscale   bool    `mapstructure:"grayscale" yaml:"grayscale" json:"grayscale"`
	Postprocess bool    `mapstructure:"postprocess" yaml:"postprocess" json:"postprocess"`
	Overlay     bool    `mapstructure:"overlay" yaml:"overlay" json:"overlay"`
	Rotate180   bool    `mapstructure:"rotate180" yaml:"rotate180" json:"rotate180"`
	Heating     bool    `mapstructure:"heating" yaml:"heating" json:"heating"`
}

type CamerasConfig struct {
	Day   DeviceConfig `mapstructure:"day" json:"day"`
	Night DeviceConfig `mapstructure:"night" json:"night"`
}

// Role returns the camera bound to role.
func (c CamerasConfig) Role(role string) (DeviceConfig, bool) {
	switch role {
	case RoleDay:
		return c.Day, true
	case RoleNight:
		return c.Night, true
	default:
		return DeviceConfig{}, false
	}
}

// Line and protocol tuning shared by all cameras
type CameraConfig struct {
	BaudRates        []int         `mapstructure:"baud_rates" json:"baud_rates"`
	Retries          int           `mapstructure:"retries" json:"retries"`
	BlockRetries     int           `mapstructure:"block_retries" json:"block_retries"`
	CommandTimeout   time.Duration `mapstructure:"command_timeout" json:"command_timeout"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout" json:"handshake_timeout"`
	ReadoutMargin    time.Duration `mapstructure:"readout_margin" json:"readout_margin"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout" json:"read_timeout"`
	DialTimeout      time.Duration `mapstructure:"dial_timeout" json:"dial_timeout"`
}

type OutputConfig struct {
	Directory string `mapstructure:"directory" json:"directory"`
}

type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled" json:"enabled"`
	GRPCPort        int           `mapstructure:"grpc_port" json:"grpc_port"`
	HTTPPort        int           `mapstructure:"http_port" json:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" json:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Enabled        bool   `mapstructure:"enabled" json:"enabled"`
	Host           string `mapstructure:"host" json:"host"`
	Port           int    `mapstructure:"port" json:"port"`
	Database       string `mapstructure:"database" json:"database"`
	User           string `mapstructure:"user" json:"user"`
	Password       string `mapstructure:"password" json:"password"`
	MaxConnections int    `mapstructure:"max_connections" json:"max_connections"`
}

type AuthConfig struct {
	JWTSecretEnv      string        `mapstructure:"jwt_secret_env" json:"jwt_secret_env"`
	AccessTokenTTL    time.Duration `mapstructure:"access_token_ttl" json:"access_token_ttl"`
	AdminUser         string        `mapstructure:"admin_user" json:"admin_user"`
	AdminPasswordHash string        `mapstructure:"admin_password_hash" json:"admin_password_hash"`

	MaxFailedLoginAttempts int           `mapstructure:"max_failed_login_attempts" json:"max_failed_login_attempts"`
	AccountLockDuration    time.Duration `mapstructure:"account_lock_duration" json:"account_lock_duration"`
}

type LoggingConfig struct {
	Level       string `mapstructure:"level" json:"level"`
	Development bool   `mapstructure:"development" json:"development"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("site.name", "allsky")
	v.SetDefault("site.elevation", 0.0)

	v.SetDefault("scheduler.interval", "1m")
	v.SetDefault("scheduler.dark_interval", "1h")

	v.SetDefault("camera.baud_rates", []int{9600, 19200, 38400, 57600, 115200})
	v.SetDefault("camera.retries", 3)
	v.SetDefault("camera.block_retries", 10)
	v.SetDefault("camera.command_timeout", "500ms")
	v.SetDefault("camera.handshake_timeout", "100ms")
	v.SetDefault("camera.readout_margin", "15s")
	v.SetDefault("camera.read_timeout", "100ms")
	v.SetDefault("camera.dial_timeout", "5s")

	v.SetDefault("output.directory", "/var/lib/allsky")

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "allsky")
	v.SetDefault("database.user", "allsky")
	v.SetDefault("database.password", "")
	v.SetDefault("database.max_connections", 4)

	// Auth Defaults
	v.SetDefault("auth.jwt_secret_env", "ALLSKY_JWT_SECRET")
	v.SetDefault("auth.access_token_ttl", "60m")
	v.SetDefault("auth.admin_user", "admin")
	v.SetDefault("auth.admin_password_hash", "")
	v.SetDefault("auth.max_failed_login_attempts", 5)
	v.SetDefault("auth.account_lock_duration", "15m")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)
}

// Load reads path into the global viper instance, so flags bound with
// viper.BindPFlag take part.
func Load(path string) (*Config, error) {
	return LoadWith(viper.GetViper(), path)
}

// LoadWith reads, validates and decodes the configuration. Every failure is a
// *ConfigurationError.
func LoadWith(v *viper.Viper, path string) (*Config, error) {
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	SetDefaults(v)

	// Environment Variables mit Prefix ALLSKY_, z.B. ALLSKY_SITE_LATITUDE
	v.SetEnvPrefix("ALLSKY")
	v.SetEnvKeyReplacer(envReplacer)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, &ConfigurationError{Field: path, Err: fmt.Errorf("failed to read config: %w", err)}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, &ConfigurationError{Err: fmt.Errorf("failed to unmarshal config: %w", err)}
	}

	if err := ValidateSchema(&config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

const devSecret = "dev-secret-change-in-production-min-32-chars"

// JWT Secret aus Environment Variable laden
func (a *AuthConfig) GetJWTSecret() string {
	envVar := a.JWTSecretEnv
	if envVar == "" {
		envVar = "ALLSKY_JWT_SECRET"
	}

	secret := os.Getenv(envVar)
	if secret == "" {
		return devSecret
	}
	return secret
}

func (a *AuthConfig) IsProductionReady() bool {
	secret := a.GetJWTSecret()
	return secret != devSecret && len(secret) >= 32
}
