package utils

import (
	"os"

	"github.com/sirupsen/logrus"
)

// NewLogger creates a configured logger. An unknown level falls back to
// info rather than failing; a broken LOG_LEVEL should not stop a run.
func NewLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	return logger
}
