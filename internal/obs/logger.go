// Copyright 2025 James Ross
package obs

import (
    "strings"

    "go.uber.org/zap"
    "go.uber.org/zap/zapcore"
)

// NewLogger builds a JSON zap.Logger at the given level. Every worker binary
// opens exactly one of these in bootstrap.Init and tags it with WithStage.
func NewLogger(level string) (*zap.Logger, error) {
    lvl := zapcore.InfoLevel
    switch strings.ToLower(level) {
    case "debug":
        lvl = zapcore.DebugLevel
    case "warn":
        lvl = zapcore.WarnLevel
    case "error":
        lvl = zapcore.ErrorLevel
    }
    cfg := zap.NewProductionConfig()
    cfg.Level = zap.NewAtomicLevelAt(lvl)
    cfg.Encoding = "json"
    cfg.EncoderConfig.TimeKey = "ts"
    cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
    return cfg.Build()
}

// WithStage tags every entry a logger emits with the owning stage. Six
// worker binaries share this package, so "stage" is what tells log
// aggregation which binary produced a given line, the way the metrics in
// metrics.go are already broken out per stage.
func WithStage(log *zap.Logger, stage string) *zap.Logger {
    return log.With(String("stage", stage))
}

// Convenience typed fields. No Bool helper: nothing logged in this pipeline
// is a boolean toggle, every flag worth logging here is a status string, an
// enum, or a count.
func String(k, v string) zap.Field { return zap.String(k, v) }
func Int(k string, v int) zap.Field { return zap.Int(k, v) }
func Err(err error) zap.Field { return zap.Error(err) }
