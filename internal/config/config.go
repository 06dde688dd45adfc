package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	DB      DBConfig      `mapstructure:"db"`
	Token   TokenConfig   `mapstructure:"token"`
	Logger  LoggerConfig  `mapstructure:"logger"`
	Refund  RefundConfig  `mapstructure:"refund"`
	Voting  VotingConfig  `mapstructure:"voting"`
	Gateway GatewayConfig `mapstructure:"gateway"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
	Redis   RedisConfig   `mapstructure:"redis"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
}

type DBConfig struct {
	// Driver is "postgres" or "memory".
	Driver             string        `mapstructure:"driver"`
	DatabaseURL        string        `mapstructure:"databaseURL"`
	MaxOpenConnection  int           `mapstructure:"maxOpenConnection"`
	MaxIdleConnection  int           `mapstructure:"maxIdleConnection"`
	ConnectionLifetime time.Duration `mapstructure:"connectionLifetime"`
	MigrationsPath     string        `mapstructure:"migrationsPath"`
}

type TokenConfig struct {
	JWTSecret string `mapstructure:"jwtSecret"`
	Issuer    string `mapstructure:"issuer"`
}

type LoggerConfig struct {
	LoggerLevel string `mapstructure:"loggerLevel"`
}

type RefundConfig struct {
	MaxAttempts    int           `mapstructure:"maxAttempts"`
	Concurrency    int           `mapstructure:"concurrency"`
	CallTimeout    time.Duration `mapstructure:"callTimeout"`
	StaleAfter     time.Duration `mapstructure:"staleAfter"`
	RecoveryPeriod time.Duration `mapstructure:"recoveryPeriod"`
}

type VotingConfig struct {
	Threshold string `mapstructure:"threshold"`
}

type GatewayConfig struct {
	// Mode is "http" or "simulated".
	Mode      string        `mapstructure:"mode"`
	BaseURL   string        `mapstructure:"baseURL"`
	KYCURL    string        `mapstructure:"kycURL"`
	KeyID     string        `mapstructure:"keyID"`
	KeySecret string        `mapstructure:"keySecret"`
	Timeout   time.Duration `mapstructure:"timeout"`
	// PayoutGrace is how long an approved payout with no gateway record is
	// still considered in flight.
	PayoutGrace time.Duration `mapstructure:"payoutGrace"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type RedisConfig struct {
	URL      string        `mapstructure:"url"`
	CacheTTL time.Duration `mapstructure:"cacheTTL"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.shutdownTimeout", 15*time.Second)
	v.SetDefault("db.driver", "postgres")
	v.SetDefault("db.databaseURL", "")
	v.SetDefault("db.maxOpenConnection", 15)
	v.SetDefault("db.maxIdleConnection", 10)
	v.SetDefault("db.connectionLifetime", time.Hour)
	v.SetDefault("db.migrationsPath", "internal/repository/migration/init.sql")
	v.SetDefault("token.jwtSecret", "")
	v.SetDefault("token.issuer", "fundflow")
	v.SetDefault("logger.loggerLevel", "info")
	v.SetDefault("refund.maxAttempts", 3)
	v.SetDefault("refund.concurrency", 5)
	v.SetDefault("refund.callTimeout", 30*time.Second)
	v.SetDefault("refund.staleAfter", 10*time.Minute)
	v.SetDefault("refund.recoveryPeriod", time.Minute)
	v.SetDefault("voting.threshold", "50000")
	v.SetDefault("gateway.mode", "simulated")
	v.SetDefault("gateway.baseURL", "")
	v.SetDefault("gateway.kycURL", "")
	v.SetDefault("gateway.keyID", "")
	v.SetDefault("gateway.keySecret", "")
	v.SetDefault("gateway.timeout", 10*time.Second)
	v.SetDefault("gateway.payoutGrace", 5*time.Minute)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "fundflow.events")
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.cacheTTL", 10*time.Minute)
}

// Load reads .env (if present), then config.yaml from the working directory
// or ./internal/config, then environment variables such as REFUND_MAXATTEMPTS.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./internal/config")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		slog.Info("config file not found, using defaults and environment")
	} else {
		slog.Info("using config file", "path", v.ConfigFileUsed())
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) Validate() error {
	switch c.DB.Driver {
	case "postgres":
		if c.DB.DatabaseURL == "" {
			return errors.New("config: db.databaseURL is required for the postgres driver")
		}
	case "memory":
	default:
		return fmt.Errorf("config: unknown db.driver %q", c.DB.Driver)
	}
	if c.Refund.MaxAttempts <= 0 {
		return errors.New("config: refund.maxAttempts must be positive")
	}
	if c.Refund.Concurrency <= 0 {
		return errors.New("config: refund.concurrency must be positive")
	}
	if c.Refund.StaleAfter <= c.Refund.CallTimeout {
		return errors.New("config: refund.staleAfter must exceed refund.callTimeout")
	}
	if c.Gateway.Mode != "http" && c.Gateway.Mode != "simulated" {
		return fmt.Errorf("config: unknown gateway.mode %q", c.Gateway.Mode)
	}
	if c.Gateway.PayoutGrace <= c.Gateway.Timeout {
		return errors.New("config: gateway.payoutGrace must exceed gateway.timeout")
	}
	if c.Gateway.Mode == "http" && c.Gateway.BaseURL == "" {
		return errors.New("config: gateway.baseURL is required in http mode")
	}
	return nil
}
