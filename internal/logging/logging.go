package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	Level  string // debug, info, warn, error
	Format string // text or json
	File   string // optional rotating log file, in addition to stderr
}

// New builds the process logger. The returned closer flushes the rotating
// file, if any, and is safe to call when no file is configured.
func New(opts Options) (*logrus.Logger, io.Closer) {
	logger := logrus.New()
	logger.SetLevel(parseLevel(opts.Level))

	if strings.EqualFold(opts.Format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		lj := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    50, // megabytes
			MaxBackups: 7,
			MaxAge:     30, // days
			Compress:   true,
		}
		logger.SetOutput(io.MultiWriter(os.Stderr, lj))
		closer = lj
	}
	return logger, closer
}

func parseLevel(s string) logrus.Level {
	if s == "" {
		return logrus.InfoLevel
	}
	lvl, err := logrus.ParseLevel(strings.ToLower(s))
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

func WithComponent(l logrus.FieldLogger, component string) *logrus.Entry {
	return l.WithField("component", component)
}

// Success logs at info level tagged outcome=success.
func Success(l logrus.FieldLogger, format string, args ...any) {
	l.WithField("outcome", "success").Infof(format, args...)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
