// Package logging builds the single structured logger threaded through every
// other package by constructor injection.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Options controls logger construction.
type Options struct {
	Level   string // "debug", "info", "warn", "error"; default "info"
	File    string // if set, logs rotate into this file via lumberjack
	MaxMB   int    // lumberjack MaxSize, default 100
	MaxDays int    // lumberjack MaxAge, default 14
	Backups int    // lumberjack MaxBackups, default 3
}

// New builds a *zap.Logger writing JSON to File when set (rotated through
// lumberjack), or a console encoder on stderr otherwise.
func New(opts Options) (*zap.Logger, error) {
	level, err := parseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	var core zapcore.Core
	if opts.File != "" {
		sink := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    orDefault(opts.MaxMB, 100),
			MaxAge:     orDefault(opts.MaxDays, 14),
			MaxBackups: orDefault(opts.Backups, 3),
		}
		encoderCfg := zap.NewProductionEncoderConfig()
		encoderCfg.TimeKey = "ts"
		encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		core = zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(sink), level)
	} else {
		encoderCfg := zap.NewDevelopmentEncoderConfig()
		core = zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.Lock(zapcore.AddSync(os.Stderr)), level)
	}

	return zap.New(core, zap.AddCaller()), nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func parseLevel(s string) (zapcore.Level, error) {
	if s == "" {
		return zapcore.InfoLevel, nil
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("logging: invalid level %q: %w", s, err)
	}
	return level, nil
}
