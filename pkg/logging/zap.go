package logging

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapConfig defines the zap backend configuration
type ZapConfig struct {
	Level  string // "debug", "info", "warn", "error"
	Format string // "json", "console"
	Output string // "stdout", "stderr"

	// Fields are attached to every entry, e.g. the supervisor run id
	Fields map[string]string
}

// ZapBackend owns a zap logger and exposes it as LogFuncs for NewLogger
type ZapBackend struct {
	logger *zap.Logger
	sugar  *zap.SugaredLogger
}

// NewZapBackend creates a zap backend writing to the configured output
func NewZapBackend(config ZapConfig) *ZapBackend {
	var out io.Writer = os.Stdout
	if config.Output == "stderr" {
		out = os.Stderr
	}
	return NewZapBackendWithWriter(config, out)
}

// NewZapBackendWithWriter creates a zap backend writing to w
func NewZapBackendWithWriter(config ZapConfig, w io.Writer) *ZapBackend {
	level, err := ParseLevel(config.Level)
	if err != nil {
		level = LogLevelInfo
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	encoderConfig.LevelKey = "level"
	encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder

	var encoder zapcore.Encoder
	switch config.Format {
	case "console":
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	default:
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(w)), toZapLevel(level))

	fields := make([]zap.Field, 0, len(config.Fields))
	for key, value := range config.Fields {
		fields = append(fields, zap.String(key, value))
	}

	zapLogger := zap.New(core).With(fields...)
	return &ZapBackend{
		logger: zapLogger,
		sugar:  zapLogger.Sugar(),
	}
}

// LogFuncs returns the backend as a LogFuncs set
func (z *ZapBackend) LogFuncs() LogFuncs {
	return LogFuncs{
		Debugf: z.sugar.Debugf,
		Infof:  z.sugar.Infof,
		Warnf:  z.sugar.Warnf,
		Errorf: z.sugar.Errorf,
	}
}

// Sync flushes any buffered log entries
func (z *ZapBackend) Sync() error {
	return z.logger.Sync()
}

func toZapLevel(level int) zapcore.Level {
	switch level {
	case LogLevelDebug:
		return zapcore.DebugLevel
	case LogLevelWarn:
		return zapcore.WarnLevel
	case LogLevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
