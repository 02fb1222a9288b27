// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package commons provides the logging abstraction threaded through every
// daemon component, wrapping zap so call sites never import it directly.
package commons

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the logging contract every component is constructed with.
type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Debugw(msg string, keysAndValues ...interface{})
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warn(args ...interface{})
	Warnf(format string, args ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
	With(fields ...zap.Field) Logger
	Sync() error
}

type zapLogger struct {
	s *zap.SugaredLogger
}

// Options configures NewApplicationLogger.
type Options struct {
	Level      string // debug|info|warn|error
	Production bool
	LogFile    string // when set, logs rotate through lumberjack
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

func DefaultOptions() Options {
	return Options{
		Level:      "info",
		Production: true,
		MaxSizeMB:  100,
		MaxBackups: 5,
		MaxAgeDays: 28,
	}
}

// NewApplicationLogger builds the process-wide logger, matching the
// construction call sites elsewhere in this codebase (commons.NewApplicationLogger()).
func NewApplicationLogger(opts Options) (Logger, error) {
	level := zapcore.InfoLevel
	if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encCfg)
	if !opts.Production {
		encCfg = zap.NewDevelopmentEncoderConfig()
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	var writer zapcore.WriteSyncer = zapcore.AddSync(os.Stdout)
	if opts.LogFile != "" {
		writer = zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.LogFile,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		})
	}

	core := zapcore.NewCore(encoder, writer, level)
	base := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	return &zapLogger{s: base.Sugar()}, nil
}

// NewNopLogger returns a Logger that discards everything, for tests.
func NewNopLogger() Logger {
	return &zapLogger{s: zap.NewNop().Sugar()}
}

func (l *zapLogger) Debug(args ...interface{})                        { l.s.Debug(args...) }
func (l *zapLogger) Debugf(format string, args ...interface{})        { l.s.Debugf(format, args...) }
func (l *zapLogger) Debugw(msg string, kv ...interface{})             { l.s.Debugw(msg, kv...) }
func (l *zapLogger) Info(args ...interface{})                         { l.s.Info(args...) }
func (l *zapLogger) Infof(format string, args ...interface{})         { l.s.Infof(format, args...) }
func (l *zapLogger) Infow(msg string, kv ...interface{})              { l.s.Infow(msg, kv...) }
func (l *zapLogger) Warn(args ...interface{})                         { l.s.Warn(args...) }
func (l *zapLogger) Warnf(format string, args ...interface{})         { l.s.Warnf(format, args...) }
func (l *zapLogger) Warnw(msg string, kv ...interface{})              { l.s.Warnw(msg, kv...) }
func (l *zapLogger) Error(args ...interface{})                        { l.s.Error(args...) }
func (l *zapLogger) Errorf(format string, args ...interface{})        { l.s.Errorf(format, args...) }
func (l *zapLogger) Errorw(msg string, kv ...interface{})             { l.s.Errorw(msg, kv...) }
func (l *zapLogger) Sync() error                                     { return l.s.Sync() }

func (l *zapLogger) With(fields ...zap.Field) Logger {
	return &zapLogger{s: l.s.Desugar().WithOptions(zap.AddCallerSkip(-1)).With(fields...).Sugar()}
}
