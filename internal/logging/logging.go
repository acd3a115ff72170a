package logging

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	requestIDField     = "request_id"
	operationNameField = "operation_name"
)

// New builds the process logger writing to stdout.
func New(pretty, development bool, level zapcore.LevelEnabler) *zap.Logger {
	return NewZapLogger(zapcore.AddSync(os.Stdout), pretty, development, level)
}

func baseEncoderConfig() zapcore.EncoderConfig {
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeDuration = zapcore.SecondsDurationEncoder
	ec.TimeKey = "time"
	return ec
}

func jsonEncoder() zapcore.Encoder {
	ec := baseEncoderConfig()
	ec.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendInt64(int64(math.Trunc(float64(t.UnixNano()) / float64(time.Millisecond))))
	}
	return zapcore.NewJSONEncoder(ec)
}

func consoleEncoder() zapcore.Encoder {
	ec := baseEncoderConfig()
	ec.ConsoleSeparator = " "
	ec.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05 PM")
	ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zapcore.NewConsoleEncoder(ec)
}

// NewZapLogger builds a logger on an arbitrary syncer. A console encoder is used when pretty is set.
func NewZapLogger(syncer zapcore.WriteSyncer, pretty, development bool, level zapcore.LevelEnabler) *zap.Logger {
	encoder := jsonEncoder()
	if pretty {
		encoder = consoleEncoder()
	}

	opts := []zap.Option{zap.AddStacktrace(zap.ErrorLevel)}
	if development {
		opts = append(opts, zap.AddCaller(), zap.Development())
	}

	logger := zap.New(zapcore.NewCore(encoder, syncer, level), opts...)

	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return logger.With(
		zap.String("hostname", host),
		zap.Int("pid", os.Getpid()),
	)
}

// ParseLevel accepts the usual level names, case-insensitively. "warning" is an alias of "warn".
func ParseLevel(s string) (zapcore.Level, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "warning" {
		name = "warn"
	}

	level, err := zapcore.ParseLevel(name)
	if err != nil {
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}

func WithRequestID(id string) zap.Field {
	return zap.String(requestIDField, id)
}

func WithOperationName(name string) zap.Field {
	return zap.String(operationNameField, name)
}
