// internal/logger/logger.go
package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls the process logger. Zero values keep logrus defaults.
type Options struct {
	Level  string // debug, info, warn, error
	Format string // "json" or "text"
	File   string // optional rotating log file, written alongside stdout
}

var (
	instance *logrus.Logger
	once     sync.Once
)

// NewLogger returns the shared process logger. Every package keeps its own
// reference, so Configure changes apply everywhere.
func NewLogger() *logrus.Logger {
	once.Do(func() {
		instance = logrus.New()
		instance.SetOutput(os.Stdout)
		instance.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		instance.SetLevel(logrus.InfoLevel)
	})
	return instance
}

// Configure applies level, format and output settings to the shared logger.
func Configure(opts Options) error {
	log := NewLogger()

	if opts.Level != "" {
		level, err := logrus.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			log.Warnf("Logger: unknown level %q, keeping %s", opts.Level, log.GetLevel())
		} else {
			log.SetLevel(level)
		}
	}

	if strings.EqualFold(opts.Format, "json") {
		log.SetFormatter(&logrus.JSONFormatter{})
	}

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return err
		}
		rotating := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		}
		log.SetOutput(io.MultiWriter(os.Stdout, rotating))
	}
	return nil
}
