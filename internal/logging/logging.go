package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls where and how verbosely the service logs
type Options struct {
	Level       string
	File        string // empty disables file output
	MaxSizeMB   int
	MaxBackups  int
	MaxAgeDays  int
	Compress    bool
	Development bool
}

var logger = newLogger(Options{Level: "info"})

// Init replaces the package logger. Call once from main before any component starts.
func Init(opts Options) {
	logger = newLogger(opts)
}

func newLogger(opts Options) *zap.SugaredLogger {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	level, err := zap.ParseAtomicLevel(strings.ToLower(opts.Level))
	if err != nil {
		level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	sinks := []zapcore.WriteSyncer{zapcore.AddSync(os.Stdout)}
	if opts.File != "" {
		sinks = append(sinks, zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
			LocalTime:  true,
		}))
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.NewMultiWriteSyncer(sinks...),
		level,
	)

	zapOpts := []zap.Option{zap.AddCaller(), zap.AddCallerSkip(1)}
	if opts.Development {
		zapOpts = append(zapOpts, zap.Development())
	}
	return zap.New(core, zapOpts...).Sugar()
}

// With returns a child logger carrying the given key/value pairs
func With(keysAndValues ...interface{}) *zap.SugaredLogger {
	return logger.Desugar().WithOptions(zap.AddCallerSkip(-1)).Sugar().With(keysAndValues...)
}

func Debugf(template string, args ...interface{}) { logger.Debugf(template, args...) }
func Infof(template string, args ...interface{}) { logger.Infof(template, args...) }
func Warnf(template string, args ...interface{}) { logger.Warnf(template, args...) }
func Errorf(template string, args ...interface{}) { logger.Errorf(template, args...) }
func Fatalf(template string, args ...interface{}) { logger.Fatalf(template, args...) }

// Sync flushes buffered entries; main defers it
func Sync() error {
	return logger.Sync()
}
