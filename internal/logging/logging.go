// Package logging configures the process-wide logrus logger.
package logging

import (
	"log"
	"os"

	"github.com/sirupsen/logrus"
)

// Setup sets the level and format of the standard logrus logger and routes the
// standard library logger through it.
func Setup(level string, json bool) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
	logrus.SetOutput(os.Stderr)
	if json {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	log.SetFlags(0)
	log.SetOutput(logrus.StandardLogger().WriterLevel(logrus.InfoLevel))

	if err != nil {
		logrus.WithField("level", level).Warn("unknown log level, using info")
	}
}
