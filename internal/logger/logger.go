package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/diode"
	"github.com/rs/zerolog/log"
)

// Logger 日志管理器，对zerolog做一层薄封装
type Logger struct {
	logger zerolog.Logger
	config *Config
	closer io.Closer // 文件输出或异步writer
}

// Config 日志配置
type Config struct {
	Level      string `mapstructure:"level" json:"level"`             // 日志级别: debug, info, warn, error
	Format     string `mapstructure:"format" json:"format"`           // 输出格式: console, json
	Output     string `mapstructure:"output" json:"output"`           // 输出目标: stdout, stderr, file path
	TimeFormat string `mapstructure:"time_format" json:"time_format"` // 时间格式
	Caller     bool   `mapstructure:"caller" json:"caller"`           // 是否显示调用者信息
	Async      bool   `mapstructure:"async" json:"async"`             // 是否启用异步日志
}

// DefaultConfig 默认日志配置
func DefaultConfig() *Config {
	return &Config{
		Level:      "info",
		Format:     "console",
		Output:     "stdout",
		TimeFormat: time.RFC3339,
		Caller:     false,
		Async:      false,
	}
}

// New 创建新的日志管理器，同时替换全局zerolog日志器
func New(config *Config) (*Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.TimeFormat == "" {
		config.TimeFormat = time.RFC3339
	}

	zerolog.TimeFieldFormat = config.TimeFormat

	level, err := zerolog.ParseLevel(strings.ToLower(config.Level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %s: %w", config.Level, err)
	}

	var (
		output io.Writer
		closer io.Closer
	)
	switch strings.ToLower(config.Output) {
	case "", "stdout":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		if err := ensureDir(filepath.Dir(config.Output)); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		file, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", config.Output, err)
		}
		output, closer = file, file
	}

	if config.Async {
		// 缓冲区满时丢弃并计数
		w := diode.NewWriter(output, 1000, 10*time.Millisecond, func(missed int) {
			fmt.Fprintf(os.Stderr, "Logger dropped %d messages\n", missed)
		})
		output, closer = w, w
	}

	var zl zerolog.Logger
	switch strings.ToLower(config.Format) {
	case "console":
		zl = zerolog.New(zerolog.ConsoleWriter{Out: output, TimeFormat: config.TimeFormat})
	case "json":
		zl = zerolog.New(output)
	default:
		if closer != nil {
			closer.Close()
		}
		return nil, fmt.Errorf("unsupported log format: %s", config.Format)
	}

	zl = zl.With().Timestamp().Logger()
	if config.Caller {
		zl = zl.With().Caller().Logger()
	}
	zl = zl.Level(level)

	log.Logger = zl

	return &Logger{logger: zl, config: config, closer: closer}, nil
}

// NewWithWriter 写入指定writer的json日志器，不修改全局状态
func NewWithWriter(w io.Writer, level string) *Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	cfg := DefaultConfig()
	cfg.Format = "json"
	cfg.Level = lvl.String()
	return &Logger{
		logger: zerolog.New(w).With().Timestamp().Logger().Level(lvl),
		config: cfg,
	}
}

// Nop 丢弃所有输出
func Nop() *Logger {
	return &Logger{logger: zerolog.Nop(), config: DefaultConfig()}
}

// OrNop 为nil时返回Nop日志器
func OrNop(l *Logger) *Logger {
	if l == nil {
		return Nop()
	}
	return l
}

// With 派生带component字段的子日志器
func (l *Logger) With(component string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("component", component).Logger(),
		config: l.config,
	}
}

// GetLogger 获取zerolog实例
func (l *Logger) GetLogger() zerolog.Logger {
	return l.logger
}

func (l *Logger) Debug() *zerolog.Event { return l.logger.Debug() }
func (l *Logger) Info() *zerolog.Event  { return l.logger.Info() }
func (l *Logger) Warn() *zerolog.Event  { return l.logger.Warn() }
func (l *Logger) Error() *zerolog.Event { return l.logger.Error() }

// Debugf 格式化调试日志
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.logger.Debug().Msgf(format, args...)
}

// Infof 格式化信息日志
func (l *Logger) Infof(format string, args ...interface{}) {
	l.logger.Info().Msgf(format, args...)
}

// Warnf 格式化警告日志
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.logger.Warn().Msgf(format, args...)
}

// Errorf 格式化错误日志
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.logger.Error().Msgf(format, args...)
}

// ErrorWithErr 带错误对象的错误日志
func (l *Logger) ErrorWithErr(err error, msg string) {
	l.logger.Error().Err(err).Msg(msg)
}

// Fatalf 格式化致命错误日志，会退出进程
func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.logger.Fatal().Msgf(format, args...)
}

// SetLevel 动态设置日志级别
func (l *Logger) SetLevel(level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %s: %w", level, err)
	}
	l.logger = l.logger.Level(lvl)
	l.config.Level = level
	return nil
}

// GetLevel 获取当前日志级别
func (l *Logger) GetLevel() string {
	return l.config.Level
}

// Close 刷新异步缓冲并关闭日志文件
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

func ensureDir(dir string) error {
	if dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0755)
}
