package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type HTTPConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type MySQLConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	PoolSize int    `mapstructure:"pool_size"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type OracleConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type EngineConfig struct {
	QueueSize   int           `mapstructure:"queue_size"`
	WorkerCount int           `mapstructure:"worker_count"`
	LockWait    time.Duration `mapstructure:"lock_wait"`
}

type AppConfig struct {
	ServiceName string       `mapstructure:"service_name"`
	Env         string       `mapstructure:"env"`
	LogLevel    string       `mapstructure:"log_level"`
	MetricsPath string       `mapstructure:"metrics_path"`
	HTTP        HTTPConfig   `mapstructure:"http"`
	MySQL       MySQLConfig  `mapstructure:"mysql"`
	Redis       RedisConfig  `mapstructure:"redis"`
	Kafka       KafkaConfig  `mapstructure:"kafka"`
	Oracle      OracleConfig `mapstructure:"oracle"`
	Engine      EngineConfig `mapstructure:"engine"`
}

func Load(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("MINTBAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path == "" {
		path = "config.yaml"
	}

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service_name", "mintbay")
	v.SetDefault("env", "dev")
	v.SetDefault("log_level", "info")
	v.SetDefault("metrics_path", "/metrics")
	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", "5s")
	v.SetDefault("http.write_timeout", "10s")
	v.SetDefault("http.idle_timeout", "60s")
	v.SetDefault("mysql.dsn", "")
	v.SetDefault("mysql.max_open_conns", 50)
	v.SetDefault("mysql.max_idle_conns", 25)
	v.SetDefault("mysql.conn_max_lifetime", "5m")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.pool_size", 100)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "mintbay.transactions")
	v.SetDefault("oracle.url", "")
	v.SetDefault("oracle.timeout", "3s")
	v.SetDefault("engine.queue_size", 1024)
	v.SetDefault("engine.worker_count", 4)
	v.SetDefault("engine.lock_wait", "5s")
}
