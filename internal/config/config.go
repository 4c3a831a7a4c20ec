package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charging-platform/ocpi-node/internal/logger"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀，例如 OCPI_SERVER_PORT
const EnvPrefix = "OCPI"

// Config 应用程序配置结构
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Log       LogConfig       `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	OCPI      OCPIConfig      `mapstructure:"ocpi"`
}

// AppConfig 节点标识
type AppConfig struct {
	Name    string `mapstructure:"name"`
	NodeID  string `mapstructure:"node_id"`
	Profile string `mapstructure:"profile"`
}

// ServerConfig HTTP服务配置
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int           `mapstructure:"max_body_bytes"`
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
}

// KafkaConfig Kafka配置
type KafkaConfig struct {
	Enabled       bool           `mapstructure:"enabled"`
	Brokers       []string       `mapstructure:"brokers"`
	EventsTopic   string         `mapstructure:"events_topic"`
	CommandsTopic string         `mapstructure:"commands_topic"`
	ConsumerGroup string         `mapstructure:"consumer_group"`
	Producer      ProducerConfig `mapstructure:"producer"`
	Consumer      ConsumerConfig `mapstructure:"consumer"`
}

// ProducerConfig Kafka生产者配置
type ProducerConfig struct {
	RetryMax       int           `mapstructure:"retry_max"`
	ReturnSuccess  bool          `mapstructure:"return_successes"`
	FlushFrequency time.Duration `mapstructure:"flush_frequency"`
}

// ConsumerConfig Kafka消费者配置
type ConsumerConfig struct {
	ReturnErrors    bool   `mapstructure:"return_errors"`
	OffsetsInitial  string `mapstructure:"offsets_initial"`
	MaxMessageBytes int    `mapstructure:"max_message_bytes"`
}

// CacheConfig 对端地址缓存配置
type CacheConfig struct {
	MaxSize         int           `mapstructure:"max_size"`
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
	Caller bool   `mapstructure:"caller"`
	Async  bool   `mapstructure:"async"`
}

// MetricsConfig 监控指标配置
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	Path    string `mapstructure:"path"`
}

// WebSocketConfig 指令事件推送配置
type WebSocketConfig struct {
	Path            string        `mapstructure:"path"`
	ReadBufferSize  int           `mapstructure:"read_buffer_size"`
	WriteBufferSize int           `mapstructure:"write_buffer_size"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	SendQueueSize   int           `mapstructure:"send_queue_size"`
	CheckOrigin     bool          `mapstructure:"check_origin"`
}

// OCPIConfig 本方身份和协议参数
type OCPIConfig struct {
	CountryCode    string        `mapstructure:"country_code"`
	PartyID        string        `mapstructure:"party_id"`
	Role           string        `mapstructure:"role"`
	BaseURL        string        `mapstructure:"base_url"`
	Token          string        `mapstructure:"token"`
	Versions       []string      `mapstructure:"versions"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	DefaultLimit   int           `mapstructure:"default_limit"`
	MaxLimit       int           `mapstructure:"max_limit"`
}

// SetDefaults 注册所有默认值
func SetDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "ocpi-node")
	v.SetDefault("app.node_id", hostname())
	v.SetDefault("app.profile", "local")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.max_body_bytes", 1<<20)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")
	v.SetDefault("redis.key_prefix", "ocpi:endpoints:")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.events_topic", "ocpi-command-events")
	v.SetDefault("kafka.commands_topic", "ocpi-command-requests")
	v.SetDefault("kafka.consumer_group", "ocpi-node")
	v.SetDefault("kafka.producer.retry_max", 3)
	v.SetDefault("kafka.producer.return_successes", false)
	v.SetDefault("kafka.producer.flush_frequency", "100ms")
	v.SetDefault("kafka.consumer.return_errors", true)
	v.SetDefault("kafka.consumer.offsets_initial", "newest")
	v.SetDefault("kafka.consumer.max_message_bytes", 1<<20)

	v.SetDefault("cache.max_size", 1000)
	v.SetDefault("cache.ttl", "5m")
	v.SetDefault("cache.cleanup_interval", "1m")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.caller", false)
	v.SetDefault("log.async", false)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("websocket.path", "/ws/commands")
	v.SetDefault("websocket.read_buffer_size", 1024)
	v.SetDefault("websocket.write_buffer_size", 1024)
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.write_timeout", "10s")
	v.SetDefault("websocket.send_queue_size", 64)
	v.SetDefault("websocket.check_origin", false)

	v.SetDefault("ocpi.country_code", "NL")
	v.SetDefault("ocpi.party_id", "EMS")
	v.SetDefault("ocpi.role", "EMSP")
	v.SetDefault("ocpi.base_url", "http://localhost:8080/ocpi")
	v.SetDefault("ocpi.token", "")
	v.SetDefault("ocpi.versions", []string{"2.2.1", "2.3.0", "3.0"})
	v.SetDefault("ocpi.command_timeout", "30s")
	v.SetDefault("ocpi.request_timeout", "15s")
	v.SetDefault("ocpi.default_limit", 50)
	v.SetDefault("ocpi.max_limit", 500)
}

// New 创建绑定了默认值和环境变量的viper实例
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load 加载配置：默认值 < configs/application[-profile].yaml < 环境变量
func Load() (*Config, error) {
	v := New()

	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")
	v.SetConfigName("application")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if profile := v.GetString("app.profile"); profile != "" {
		v.SetConfigName("application-" + profile)
		if err := v.MergeInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to merge %s profile config: %w", profile, err)
			}
		}
	}

	return LoadFrom(v)
}

// LoadFrom 从已准备好的viper实例解析配置
func LoadFrom(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 检查配置的基本约束
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.OCPI.DefaultLimit <= 0 {
		return fmt.Errorf("ocpi.default_limit must be positive")
	}
	if c.OCPI.MaxLimit < c.OCPI.DefaultLimit {
		return fmt.Errorf("ocpi.max_limit (%d) must be >= ocpi.default_limit (%d)", c.OCPI.MaxLimit, c.OCPI.DefaultLimit)
	}
	if c.OCPI.CommandTimeout <= 0 {
		return fmt.Errorf("ocpi.command_timeout must be positive")
	}
	if !strings.HasPrefix(c.OCPI.BaseURL, "http://") && !strings.HasPrefix(c.OCPI.BaseURL, "https://") {
		return fmt.Errorf("ocpi.base_url must be an absolute http(s) URL, got %q", c.OCPI.BaseURL)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers must not be empty when kafka is enabled")
	}
	return nil
}

// GetServerAddr 获取服务器地址
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// GetMetricsAddr 获取监控地址
func (c *Config) GetMetricsAddr() string {
	return c.Metrics.Addr
}

// LoggerConfig 转换为日志模块配置
func (c *Config) LoggerConfig() *logger.Config {
	cfg := logger.DefaultConfig()
	cfg.Level = c.Log.Level
	cfg.Format = c.Log.Format
	cfg.Output = c.Log.Output
	cfg.Caller = c.Log.Caller
	cfg.Async = c.Log.Async
	return cfg
}

// CommandsBaseURL 本方指令模块地址，回调地址在其下生成
func (c *Config) CommandsBaseURL(version string) string {
	return strings.TrimRight(c.OCPI.BaseURL, "/") + "/" + version + "/commands"
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "ocpi-node"
	}
	return name
}
