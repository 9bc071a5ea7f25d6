package logger

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config defines the configuration for the logger.
type Config struct {
	Level       string // debug, info, warn, error
	Format      string // json, console
	EnableColor bool   // only in console mode
	// Caller adds the file:line of the log call.
	Caller bool
}

var (
	globalLogger *zap.Logger
	atom         = zap.NewAtomicLevel()
	mu           sync.Mutex
)

// DefaultConfig returns the configuration described by LOG_LEVEL, LOG_FORMAT,
// NO_COLOR and LOG_COLOR.
func DefaultConfig() Config {
	return Config{
		Level:       getEnv("LOG_LEVEL", "info"),
		Format:      getEnv("LOG_FORMAT", "console"),
		EnableColor: shouldEnableColor(),
	}
}

// LevelForVerbosity maps the CLI verbosity flags to a level. The most
// verbose flag wins. It returns fallback when no flag is set.
func LevelForVerbosity(quiet, verbose, debug bool, fallback string) string {
	switch {
	case debug:
		return "debug"
	case verbose:
		return "info"
	case quiet:
		return "warn"
	default:
		return fallback
	}
}

// Initialize builds the global logger. Logs go to stderr so command output on
// stdout stays machine readable. Calling it again replaces the logger.
func Initialize(cfg Config) *zap.Logger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if cfg.Format == "console" && cfg.EnableColor {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	var encoder zapcore.Encoder
	switch {
	case cfg.Format == "json":
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	case cfg.EnableColor:
		encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
		encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		encoder = NewColoredConsoleEncoder(encoderConfig)
	default:
		encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
		encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	level := parseLevel(cfg.Level)
	atom.SetLevel(level)

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), atom)
	stackLevel := zapcore.ErrorLevel
	if level == zapcore.DebugLevel {
		stackLevel = zapcore.WarnLevel
	}
	opts := []zap.Option{zap.AddStacktrace(stackLevel)}
	if cfg.Caller || level == zapcore.DebugLevel {
		opts = append(opts, zap.AddCaller())
	}

	l := zap.New(core, opts...)

	mu.Lock()
	globalLogger = l
	mu.Unlock()
	return l
}

// SetLevel changes the level of the global logger at runtime.
func SetLevel(level string) {
	atom.SetLevel(parseLevel(level))
}

// Get returns the global logger. Initializes with defaults if not already set.
func Get() *zap.Logger {
	mu.Lock()
	l := globalLogger
	mu.Unlock()
	if l == nil {
		return Initialize(DefaultConfig())
	}
	return l
}

// With creates a child logger and adds structured context to it.
func With(fields ...zap.Field) *zap.Logger {
	return Get().With(fields...)
}

func Info(msg string, fields ...zap.Field) {
	Get().Info(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	Get().Error(msg, fields...)
}

func Debug(msg string, fields ...zap.Field) {
	Get().Debug(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	Get().Warn(msg, fields...)
}

func Sync() {
	mu.Lock()
	l := globalLogger
	mu.Unlock()
	if l != nil {
		_ = l.Sync()
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return strings.ToLower(value)
	}
	return fallback
}

func parseLevel(lvl string) zapcore.Level {
	switch strings.ToLower(lvl) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// shouldEnableColor honors NO_COLOR (https://no-color.org/) first, then an
// explicit LOG_COLOR, and otherwise colors only when stderr is a terminal.
func shouldEnableColor() bool {
	if _, noColor := os.LookupEnv("NO_COLOR"); noColor {
		return false
	}
	if val := os.Getenv("LOG_COLOR"); val != "" {
		return val == "true" || val == "1"
	}
	info, err := os.Stderr.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}
