// Package logging configures the process-wide logrus logger the way
// the CLI's start-up path does: one text formatter, one level parsed
// from config, and an optional file sink opened once at start-up.
package logging

import (
	"io"
	"os"

	log "github.com/sirupsen/logrus"
)

// Setup configures the standard logger. file == "" logs to stderr.
func Setup(file, level string) (io.Closer, error) {
	log.SetFormatter(&log.TextFormatter{
		DisableLevelTruncation: true,
		FullTimestamp:          true,
	})

	ll, err := log.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	log.SetLevel(ll)

	if file == "" {
		log.SetOutput(os.Stderr)
		return nil, nil
	}

	w, err := os.OpenFile(file, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		return nil, err
	}
	log.SetOutput(w)
	return w, nil
}

// Component returns a logger entry tagged with the subsystem name, the
// way every component's log line should be prefixed so a single file
// can be grepped by stage.
func Component(name string) *log.Entry {
	return log.WithField("component", name)
}

// ForDatabase returns a logger entry further tagged with the database
// name, used by components that operate on a single identified
// database (Reader, Parser, metadata store).
func ForDatabase(name, database string) *log.Entry {
	return log.WithFields(log.Fields{"component": name, "database": database})
}
