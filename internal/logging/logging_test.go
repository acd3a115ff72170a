package logging_test

import (
	"bytes"
	"testing"

	"github.com/goccy/go-json"
	"github.com/n9te9/go-graphql-fusion-gateway/internal/logging"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewZapLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewZapLogger(zapcore.AddSync(&buf), false, false, zapcore.InfoLevel)

	logger.Debug("dropped")
	logger.Info("planned", logging.WithRequestID("abc"), logging.WithOperationName("GetProduct"))
	require.NoError(t, logger.Sync())

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	require.Equal(t, "planned", entry["msg"])
	require.Equal(t, "info", entry["level"])
	require.Equal(t, "abc", entry["request_id"])
	require.Equal(t, "GetProduct", entry["operation_name"])
	require.Contains(t, entry, "hostname")
	require.Contains(t, entry, "pid")
	require.Contains(t, entry, "time")
}

func TestNewZapLogger_Pretty(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewZapLogger(zapcore.AddSync(&buf), true, false, zapcore.DebugLevel)

	logger.Debug("hello")
	require.NoError(t, logger.Sync())
	require.Contains(t, buf.String(), "hello")
	require.False(t, json.Valid(bytes.TrimSpace(buf.Bytes())))
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{in: "DEBUG", want: zapcore.DebugLevel},
		{in: "info", want: zapcore.InfoLevel},
		{in: "Warning", want: zapcore.WarnLevel},
		{in: "warn", want: zapcore.WarnLevel},
		{in: "error", want: zapcore.ErrorLevel},
		{in: "verbose", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := logging.ParseLevel(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}
