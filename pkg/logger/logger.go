package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New creates a logger with JSON output and an environment-driven level.
func New() *logrus.Logger {
	log := logrus.New()

	// Always use JSON formatter for clean, consistent output
	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "time",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "msg",
		},
	})

	log.SetOutput(os.Stdout)

	level := os.Getenv("LOG_LEVEL")
	switch level {
	case "debug":
		log.SetLevel(logrus.DebugLevel)
	case "warn":
		log.SetLevel(logrus.WarnLevel)
	case "error":
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}

	return log
}

// NewWithLevel creates a logger with an explicit level name, falling back to
// info when the name is unknown.
func NewWithLevel(level string) *logrus.Logger {
	log := New()
	if parsed, err := logrus.ParseLevel(level); err == nil {
		log.SetLevel(parsed)
	}
	return log
}

// WithComponent returns an entry tagged with the component name, the common
// context shape used across the client.
func WithComponent(log *logrus.Logger, component string) *logrus.Entry {
	return log.WithField("component", component)
}
