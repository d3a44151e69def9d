// logger.go - logrus setup derived from configuration.
package config

import (
	"github.com/sirupsen/logrus"
)

// NewLogger builds the process logger: JSON in production (for log
// aggregation), human-readable text otherwise. An unknown LOG_LEVEL
// falls back to info rather than failing startup.
func NewLogger(cfg *Config) *logrus.Logger {
	log := logrus.New()

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if cfg.IsProduction() {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}
	return log
}
