// Package logger holds the process-wide logrus instance the policy engine
// logs through. Services attach structured fields (ip, identifier,
// violation_type) via WithFields; verdicts log at Warn, fail-open gaps at
// Error so they stand out in shipped logs.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

var _log = logrus.New()

// Init configures level, output and format. Debug selects human-readable
// text for terminals; otherwise JSON for log shippers.
func Init(debug bool, out io.Writer) {
	if out == nil {
		out = os.Stdout
	}
	_log.SetOutput(out)

	if debug {
		_log.SetLevel(logrus.DebugLevel)
		_log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		return
	}
	_log.SetLevel(logrus.InfoLevel)
	_log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
}

// Log returns an entry on the shared logger.
func Log() *logrus.Entry {
	return logrus.NewEntry(_log)
}

// WithFields returns an entry carrying the given structured fields.
func WithFields(fields logrus.Fields) *logrus.Entry {
	return Log().WithFields(fields)
}
