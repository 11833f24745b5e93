package logger

import (
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// File backend defaults
const (
	DefaultFileMaxSizeMB  = 100
	DefaultFileMaxBackups = 7
	DefaultFileMaxAgeDays = 30
)

// FileConfig configures the rotating file backend
type FileConfig struct {
	Filename   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

func (c *FileConfig) setDefaults(serviceName string) {
	if c.Filename == "" {
		c.Filename = filepath.Join("logs", serviceName+".log")
	}
	if c.MaxSizeMB <= 0 {
		c.MaxSizeMB = DefaultFileMaxSizeMB
	}
	if c.MaxBackups <= 0 {
		c.MaxBackups = DefaultFileMaxBackups
	}
	if c.MaxAgeDays <= 0 {
		c.MaxAgeDays = DefaultFileMaxAgeDays
	}
}

func newFileWriter(cfg FileConfig) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   cfg.Filename,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
}
