package logger

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the package-wide instance. Init replaces it; until then a
// stderr logger with sane defaults is in place.
var Logger = newDefault()

// Config controls output, level and rotation of the shared logger.
type Config struct {
	Level      string `yaml:"level"`       // debug, info, warn, error
	OutputFile string `yaml:"output_file"` // empty: console only
	MaxSize    int    `yaml:"max_size"`    // MB per file before rotation
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"` // days
	Compress   bool   `yaml:"compress"`

	// AsyncBuffer, when > 0, routes writes through a fire-and-forget queue
	// so logging can never block a call path. Overflow drops the event.
	AsyncBuffer int `yaml:"async_buffer"`
}

func newDefault() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "06-01-02 15:04:05",
	})
	return l
}

// Init configures the shared logger. Safe to call more than once; the last
// call wins.
func Init(cfg Config) error {
	l := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "06-01-02 15:04:05",
	})

	writers := []io.Writer{os.Stderr}
	if cfg.OutputFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.OutputFile), 0o755); err != nil {
			return err
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.OutputFile,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		})
	}

	var out io.Writer = io.MultiWriter(writers...)
	if cfg.AsyncBuffer > 0 {
		out = NewAsyncWriter(out, cfg.AsyncBuffer)
	}
	l.SetOutput(out)

	Logger = l
	return nil
}

// WithField returns an entry carrying one structured field.
func WithField(key string, value interface{}) *logrus.Entry {
	return Logger.WithField(key, value)
}

// WithFields returns an entry carrying several structured fields.
func WithFields(fields logrus.Fields) *logrus.Entry {
	return Logger.WithFields(fields)
}

// WithError returns an entry carrying the error as a field.
func WithError(err error) *logrus.Entry {
	return Logger.WithError(err)
}

func Debug(args ...interface{}) { Logger.Debug(args...) }
func Info(args ...interface{})  { Logger.Info(args...) }
func Warn(args ...interface{})  { Logger.Warn(args...) }
func Error(args ...interface{}) { Logger.Error(args...) }
