package utils

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger is the process-wide structured logger.
var Logger = newLogger(os.Stdout)

func newLogger(w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.JSONFormatter{})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// ConfigureLogger switches output/level, e.g. text output in debug mode.
func ConfigureLogger(w io.Writer, level string, text bool) {
	if w != nil {
		Logger.SetOutput(w)
	}
	if lvl, err := logrus.ParseLevel(level); err == nil {
		Logger.SetLevel(lvl)
	}
	if text {
		Logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

// Log returns an entry tagged with module and request id.
func Log(requestID, module string) *logrus.Entry {
	return Logger.WithFields(logrus.Fields{
		"module":     strings.ToLower(module),
		"request_id": strings.TrimSpace(requestID),
	})
}

// LogEvent writes one structured line with module/action/request_id.
// Avoid logging sensitive payload; message should be summarized.
func LogEvent(requestID, module, action, message string) {
	Log(requestID, module).WithField("action", action).Info(message)
}
