// Package gpgmelog sets up the logger the engine-driver and its surrounding
// packages use. Adapted from the teacher's pkg/log: a JSON-formatted logrus
// logger in development (gated on GOGPGME_DEBUG), a discarding one otherwise,
// since a library has no business writing to stdout/stderr by default.
package gpgmelog

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Options configures the logger construction.
type Options struct {
	Debug   bool
	LogFile string // when Debug is set and LogFile is non-empty, write there instead of stderr
	Version string
}

// New returns a logrus.Entry pre-populated with library version fields,
// matching the teacher's habit of stamping every log line with build info.
func New(opts Options) *logrus.Entry {
	var log *logrus.Logger
	if opts.Debug || os.Getenv("GOGPGME_DEBUG") == "TRUE" {
		log = newDevelopmentLogger(opts)
	} else {
		log = newProductionLogger()
	}

	log.Formatter = &logrus.JSONFormatter{}

	return log.WithFields(logrus.Fields{
		"debug":   opts.Debug,
		"version": opts.Version,
	})
}

func getLogLevel() logrus.Level {
	strLevel := os.Getenv("GOGPGME_LOG_LEVEL")
	level, err := logrus.ParseLevel(strLevel)
	if err != nil {
		return logrus.DebugLevel
	}
	return level
}

func newDevelopmentLogger(opts Options) *logrus.Logger {
	log := logrus.New()
	log.SetLevel(getLogLevel())

	if opts.LogFile == "" {
		log.SetOutput(os.Stderr)
		return log
	}

	file, err := os.OpenFile(opts.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
	if err != nil {
		log.SetOutput(os.Stderr)
		log.Warnf("unable to log to file %s, falling back to stderr", opts.LogFile)
		return log
	}
	log.SetOutput(file)
	return log
}

func newProductionLogger() *logrus.Logger {
	log := logrus.New()
	log.Out = io.Discard
	log.SetLevel(logrus.ErrorLevel)
	return log
}
