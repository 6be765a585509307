package config

import "time"

// Config 配置主体
type Config struct {
	Server                  ServerConfig            `mapstructure:"server"`
	DB                      DBConfig                `mapstructure:"database"`
	Redis                   RedisConfig             `mapstructure:"redis"`
	Mongo                   MongoConfig             `mapstructure:"mongo"`
	Kafka                   KafkaConfig             `mapstructure:"kafka"`
	KafkaReadCursorConsumer KafkaReadCursorConsumer `mapstructure:"kafka_read_cursor_consumer"`
	Logstash                LogstashConfig          `mapstructure:"logstash"`
	JWT                     JWTConfig               `mapstructure:"jwt"`
	Sync                    SyncConfig              `mapstructure:"sync"`
}

// ServerConfig Server配置
type ServerConfig struct {
	Port         int      `mapstructure:"port"`
	AllowOrigins []string `mapstructure:"allow_origins"` // 为空时放行所有来源
}

// DBConfig 数据库配置
type DBConfig struct {
	DSN         string `mapstructure:"dsn"`
	MaxIdle     int    `mapstructure:"max_idle"`
	MaxOpen     int    `mapstructure:"max_open"`
	MaxLifetime int    `mapstructure:"max_lifetime"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// MongoConfig 消息库配置
type MongoConfig struct {
	URL      string `mapstructure:"url"`
	Database string `mapstructure:"database"`
}

type KafkaConfig struct {
	Brokers  []string       `mapstructure:"brokers"`
	Sasl     SaslConfig     `mapstructure:"sasl"`
	Consumer ConsumerConfig `mapstructure:"consumer"`
}

type SaslConfig struct {
	Enable   bool   `mapstructure:"enable"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type ConsumerConfig struct {
	SessionTimeout    int `mapstructure:"session_timeout"`
	HeartbeatInterval int `mapstructure:"heartbeat_interval"`
	RebalanceTimeout  int `mapstructure:"rebalance_timeout"`
	MaxProcessingTime int `mapstructure:"max_processing_time"`
}

// KafkaReadCursorConsumer read_cursors 表的 Canal 变更主题
type KafkaReadCursorConsumer struct {
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

type LogstashConfig struct {
	Address string `mapstructure:"address"`
	Index   string `mapstructure:"index"`
	Token   string `mapstructure:"token"`
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Issuer string        `mapstructure:"issuer"`
	TTL    time.Duration `mapstructure:"ttl"`
}

// SyncConfig 在线状态、已读游标与未读数同步的调优参数
type SyncConfig struct {
	HeartbeatInterval  time.Duration `mapstructure:"heartbeat_interval"`
	PresenceTTL        time.Duration `mapstructure:"presence_ttl"`
	ReconcileDelay     time.Duration `mapstructure:"reconcile_delay"`
	SyncThreshold      time.Duration `mapstructure:"sync_threshold"`
	SyncCheckInterval  time.Duration `mapstructure:"sync_check_interval"`
	PageSize           int           `mapstructure:"page_size"`
	RetryAttempts      int           `mapstructure:"retry_attempts"`
	RetryBaseDelay     time.Duration `mapstructure:"retry_base_delay"`
	QueryCacheTTL      time.Duration `mapstructure:"query_cache_ttl"`
	SessionIdleTimeout time.Duration `mapstructure:"session_idle_timeout"`
	PresenceSweepSpec  string        `mapstructure:"presence_sweep_spec"`
	SessionReapSpec    string        `mapstructure:"session_reap_spec"`
}
