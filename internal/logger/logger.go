// Package logger holds the logrus logger shared by the connection layer.
package logger

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

var log = logrus.New()

func init() {
	if os.Getenv("RESP_DEBUG") != "" {
		log.SetLevel(logrus.DebugLevel)
	}
}

// Logger returns the shared logger.
func Logger() *logrus.Logger {
	return log
}

// SetLevel parses and applies a level name (debug, info, warn, ...).
func SetLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	log.SetLevel(lvl)
	return nil
}

// SetOutput redirects the shared logger.
func SetOutput(w io.Writer) {
	log.SetOutput(w)
}

// SetFormat selects the output format of the shared logger: text or json.
func SetFormat(format string) error {
	switch format {
	case "text":
		log.SetFormatter(&logrus.TextFormatter{})
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	return nil
}

// ForConnection returns an entry tagged with a connection identity.
func ForConnection(base logrus.FieldLogger, id string, addr string) logrus.FieldLogger {
	if base == nil {
		base = log
	}
	return base.WithFields(logrus.Fields{
		"conn": id,
		"addr": addr,
	})
}
