package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Cfg 全局可访问的配置实例
var Cfg *Config

// Default 返回各项参数的默认值，配置文件中缺失的字段以此为准
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		DB: DBConfig{
			MaxIdle:     10,
			MaxOpen:     50,
			MaxLifetime: 30,
		},
		Redis: RedisConfig{Addr: "localhost:6379", PoolSize: 20},
		Mongo: MongoConfig{URL: "mongodb://localhost:27017", Database: "murmur"},
		Kafka: KafkaConfig{
			Consumer: ConsumerConfig{
				SessionTimeout:    10,
				HeartbeatInterval: 3,
				RebalanceTimeout:  60,
				MaxProcessingTime: 5,
			},
		},
		KafkaReadCursorConsumer: KafkaReadCursorConsumer{
			Topic:   "canal-murmur-read-cursors",
			GroupID: "murmur-read-cursors",
		},
		JWT: JWTConfig{Issuer: "Murmur", TTL: 24 * time.Hour},
		Sync: SyncConfig{
			HeartbeatInterval:  30 * time.Second,
			PresenceTTL:        90 * time.Second,
			ReconcileDelay:     500 * time.Millisecond,
			SyncThreshold:      5 * time.Minute,
			SyncCheckInterval:  time.Minute,
			PageSize:           30,
			RetryAttempts:      3,
			RetryBaseDelay:     200 * time.Millisecond,
			QueryCacheTTL:      2 * time.Minute,
			SessionIdleTimeout: 30 * time.Minute,
			PresenceSweepSpec:  "@every 30s",
			SessionReapSpec:    "@every 1m",
		},
	}
}

// LoadConfig 从文件加载配置并填充到 Cfg
func LoadConfig() error {
	v := viper.New()
	if path := os.Getenv("MURMUR_CONFIG"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
	}
	v.SetEnvPrefix("MURMUR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("config file not found: %w", err)
		}
		return fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	Cfg = cfg

	return nil
}

// Validate 校验同步参数
func (c *Config) Validate() error {
	s := c.Sync
	durations := map[string]time.Duration{
		"sync.heartbeat_interval":   s.HeartbeatInterval,
		"sync.presence_ttl":         s.PresenceTTL,
		"sync.reconcile_delay":      s.ReconcileDelay,
		"sync.sync_threshold":       s.SyncThreshold,
		"sync.sync_check_interval":  s.SyncCheckInterval,
		"sync.retry_base_delay":     s.RetryBaseDelay,
		"sync.query_cache_ttl":      s.QueryCacheTTL,
		"sync.session_idle_timeout": s.SessionIdleTimeout,
	}
	for key, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", key, d)
		}
	}
	if s.PageSize <= 0 {
		return fmt.Errorf("sync.page_size must be positive, got %d", s.PageSize)
	}
	if s.RetryAttempts <= 0 {
		return fmt.Errorf("sync.retry_attempts must be positive, got %d", s.RetryAttempts)
	}
	if s.PresenceTTL <= s.HeartbeatInterval {
		return fmt.Errorf("sync.presence_ttl (%s) must exceed sync.heartbeat_interval (%s)", s.PresenceTTL, s.HeartbeatInterval)
	}
	if c.JWT.Secret == "" {
		return errors.New("jwt.secret cannot be empty")
	}
	return nil
}
