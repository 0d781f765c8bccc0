// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package logging builds the zap loggers shared by every command.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options select level and optional rotated file output.
type Options struct {
	Level string // debug, info, warn, error
	File  string // empty: stderr only

	MaxSizeMB  int
	MaxBackups int
}

// New returns a sugared logger writing human readable lines to stderr and,
// when opts.File is set, JSON lines to a rotated file. The returned func
// flushes and closes the file.
func New(name string, opts Options) (*zap.SugaredLogger, func(), error) {
	level, err := zapcore.ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("logging: %w", err)
	}
	enabled := zap.NewAtomicLevelAt(level)

	consoleCfg := zap.NewDevelopmentEncoderConfig()
	consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), zapcore.Lock(os.Stderr), enabled),
	}

	var rotator *lumberjack.Logger
	if opts.File != "" {
		maxSize := opts.MaxSizeMB
		if maxSize == 0 {
			maxSize = 50
		}
		backups := opts.MaxBackups
		if backups == 0 {
			backups = 3
		}
		rotator = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    maxSize,
			MaxBackups: backups,
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(rotator),
			enabled,
		))
	}

	logger := zap.New(zapcore.NewTee(cores...)).Named(name)
	cleanup := func() {
		_ = logger.Sync()
		if rotator != nil {
			_ = rotator.Close()
		}
	}
	return logger.Sugar(), cleanup, nil
}

// MustNew is New for main functions: it exits on a bad level.
func MustNew(name, level, file string) (*zap.SugaredLogger, func()) {
	logger, cleanup, err := New(name, Options{Level: level, File: file})
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	return logger, cleanup
}
