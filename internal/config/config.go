package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:",squash"`
	Database DatabaseConfig `mapstructure:",squash"`
	Redis    RedisConfig    `mapstructure:",squash"`
	Kafka    KafkaConfig    `mapstructure:",squash"`
	Auth     AuthConfig     `mapstructure:",squash"`
	Checkin  CheckinConfig  `mapstructure:",squash"`
}

type ServerConfig struct {
	Port           string        `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	AllowedOrigins []string      `mapstructure:"cors_allowed_origins"`
	LogLevel       string        `mapstructure:"log_level"`
}

type DatabaseConfig struct {
	Driver       string        `mapstructure:"db_driver"`
	DSN          string        `mapstructure:"db_dsn"`
	MaxOpenConns int           `mapstructure:"db_max_open_conns"`
	MaxIdleConns int           `mapstructure:"db_max_idle_conns"`
	MaxLifetime  time.Duration `mapstructure:"db_max_lifetime"`
}

type RedisConfig struct {
	Enabled     bool          `mapstructure:"redis_enabled"`
	Addr        string        `mapstructure:"redis_addr"`
	Password    string        `mapstructure:"redis_password"`
	DB          int           `mapstructure:"redis_db"`
	SessionTTL  time.Duration `mapstructure:"redis_session_ttl"`
	IdentityTTL time.Duration `mapstructure:"redis_identity_ttl"`
}

type KafkaConfig struct {
	Enabled bool        `mapstructure:"kafka_enabled"`
	Brokers []string    `mapstructure:"kafka_brokers"`
	GroupID string      `mapstructure:"kafka_group_id"`
	Topics  TopicConfig `mapstructure:",squash"`
}

type TopicConfig struct {
	ScanRecorded   string `mapstructure:"kafka_topic_scans"`
	TicketIssued   string `mapstructure:"kafka_topic_issued"`
	TicketRevoked  string `mapstructure:"kafka_topic_revoked"`
	OrderCompleted string `mapstructure:"kafka_topic_orders"`
}

type AuthConfig struct {
	JWTSecret  string `mapstructure:"jwt_secret"`
	OIDCIssuer string `mapstructure:"oidc_issuer"`
}

type CheckinConfig struct {
	QRSecretKey         string `mapstructure:"qr_secret_key"`
	FeedSize            int    `mapstructure:"checkin_feed_size"`
	RecentSize          int    `mapstructure:"session_recent_size"`
	TicketNumberPattern string `mapstructure:"ticket_number_pattern"`
}

var defaults = map[string]interface{}{
	"port":                 ":8085",
	"read_timeout":         15 * time.Second,
	"write_timeout":        15 * time.Second,
	"idle_timeout":         60 * time.Second,
	"cors_allowed_origins": []string{"*"},
	"log_level":            "info",

	"db_driver":         "sqlite",
	"db_dsn":            "file:checkin.db?cache=shared",
	"db_max_open_conns": 25,
	"db_max_idle_conns": 25,
	"db_max_lifetime":   5 * time.Minute,

	"redis_enabled":      false,
	"redis_addr":         "localhost:6379",
	"redis_password":     "",
	"redis_db":           0,
	"redis_session_ttl":  24 * time.Hour,
	"redis_identity_ttl": 5 * time.Minute,

	"kafka_enabled":       false,
	"kafka_brokers":       []string{"localhost:9092"},
	"kafka_group_id":      "checkin-service",
	"kafka_topic_scans":   "ticketly.checkin.scanned",
	"kafka_topic_issued":  "ticketly.ticket.issued",
	"kafka_topic_revoked": "ticketly.ticket.revoked",
	"kafka_topic_orders":  "ticketly.order.completed",

	"jwt_secret":  "",
	"oidc_issuer": "",

	"qr_secret_key":         "",
	"checkin_feed_size":     32,
	"session_recent_size":   50,
	"ticket_number_pattern": "",
}

// Load reads configuration from the environment (upper-case keys such as
// DB_DRIVER) and, when CONFIG_FILE is set, from that YAML file. Environment
// values win over the file.
func Load() (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.BindEnv("config_file"); err != nil {
		return nil, err
	}
	if path := v.GetString("config_file"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if !strings.Contains(cfg.Server.Port, ":") {
		cfg.Server.Port = ":" + cfg.Server.Port
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "memory", "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER must be memory, sqlite or postgres, got %q", c.Database.Driver))
	}
	if c.Database.Driver != "memory" && c.Database.DSN == "" {
		errs = append(errs, errors.New("DB_DSN is required"))
	}
	if c.Auth.JWTSecret == "" && c.Auth.OIDCIssuer == "" {
		errs = append(errs, errors.New("one of JWT_SECRET or OIDC_ISSUER is required"))
	}
	if c.Checkin.QRSecretKey == "" {
		errs = append(errs, errors.New("QR_SECRET_KEY is required"))
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKERS is required when Kafka is enabled"))
	}
	return errors.Join(errs...)
}
