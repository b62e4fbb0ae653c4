// Package logging builds the zap logger used by the server and the CLI.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the logger.
type Options struct {
	Level      string // debug, info, warn, error
	File       string // optional rotated file sink in addition to stderr
	MaxSizeMB  int
	MaxBackups int
	Dev        bool // console encoder instead of JSON
}

// RotatingWriter returns a size-rotated file writer.
func RotatingWriter(file string, maxSizeMB, maxBackups int) (*lumberjack.Logger, error) {
	if file == "" {
		return nil, fmt.Errorf("log file path must not be empty")
	}
	if maxSizeMB <= 0 {
		maxSizeMB = 10
	}
	if maxBackups <= 0 {
		maxBackups = 5
	}
	if err := os.MkdirAll(filepath.Dir(file), 0o700); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	return &lumberjack.Logger{
		Filename:   file,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
	}, nil
}

// New builds a logger writing to stderr and, when opts.File is set, to a rotated file.
// The returned closer flushes the logger and releases the file.
func New(opts Options) (*zap.Logger, io.Closer, error) {
	return newWithStderr(opts, zapcore.Lock(os.Stderr))
}

func newWithStderr(opts Options, stderr zapcore.WriteSyncer) (*zap.Logger, io.Closer, error) {
	lvl := zapcore.InfoLevel
	if opts.Level != "" {
		if err := lvl.UnmarshalText([]byte(opts.Level)); err != nil {
			return nil, nil, fmt.Errorf("log level %q: %w", opts.Level, err)
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	if opts.Dev {
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	cores := []zapcore.Core{zapcore.NewCore(enc, stderr, lvl)}
	var file *lumberjack.Logger
	if opts.File != "" {
		w, err := RotatingWriter(opts.File, opts.MaxSizeMB, opts.MaxBackups)
		if err != nil {
			return nil, nil, err
		}
		file = w
		// files always get JSON
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(w), lvl))
	}

	log := zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	return log, closer{log: log, file: file}, nil
}

type closer struct {
	log  *zap.Logger
	file *lumberjack.Logger
}

func (c closer) Close() error {
	_ = c.log.Sync()
	if c.file != nil {
		return c.file.Close()
	}
	return nil
}
