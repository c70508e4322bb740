// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package logging wires logrus to stdout and a size/age rotated file.
package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options for Setup. LogDir may be empty to log to stdout only.
type Options struct {
	Level   string
	LogDir  string
	MaxAge  int // days to keep rotated files
	Console bool
}

// Setup builds the process logger. Unknown levels fall back to info.
func Setup(opts Options) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	var writers []io.Writer
	if opts.Console {
		writers = append(writers, os.Stdout)
	}
	if opts.LogDir != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   filepath.Join(opts.LogDir, "scandock.log"),
			MaxSize:    20, // MB
			MaxBackups: 5,
			MaxAge:     opts.MaxAge,
			Compress:   true,
		})
	}
	switch len(writers) {
	case 0:
		log.SetOutput(os.Stdout)
	case 1:
		log.SetOutput(writers[0])
	default:
		log.SetOutput(io.MultiWriter(writers...))
	}
	return log
}
