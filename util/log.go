package util

import (
	"maps"
	"path/filepath"
	"runtime"

	"github.com/sirupsen/logrus"
)

// callerFields builds the base log fields pointing at the caller of the
// exported helper, so log lines reference application code instead of util.
func callerFields(lvl int, additionalFields ...logrus.Fields) logrus.Fields {
	_, file, line, _ := runtime.Caller(lvl)

	logFields := logrus.Fields{
		"file": filepath.Join(filepath.Base(filepath.Dir(file)), filepath.Base(file)),
		"line": line,
	}

	if len(additionalFields) > 0 {
		maps.Copy(logFields, additionalFields[0])
	}

	return logFields
}

// HandleFatalError logs the error with caller context and exits
func HandleFatalError(err error, additionalFields ...logrus.Fields) {
	if err == nil {
		return
	}
	logrus.WithFields(callerFields(2, additionalFields...)).Fatal(err)
}

// HandleError logs the error with caller context and returns it unchanged,
// to standardize error handling across handlers and services
func HandleError(err error, additionalFields ...logrus.Fields) error {
	return HandleErrorAtCallLevel(err, 3, additionalFields...)
}

// HandleErrorAtCallLevel logs the error attributing it to a specific call level
func HandleErrorAtCallLevel(err error, lvl int, additionalFields ...logrus.Fields) error {
	if err == nil {
		return nil
	}
	logrus.WithFields(callerFields(lvl, additionalFields...)).Error(err)
	return err
}

// LogWarning logs a warning with caller context
func LogWarning(msg string, additionalFields ...logrus.Fields) {
	logrus.WithFields(callerFields(2, additionalFields...)).Warn(msg)
}

// LogInfo logs an info message with caller context
func LogInfo(msg string, additionalFields ...logrus.Fields) {
	logrus.WithFields(callerFields(2, additionalFields...)).Info(msg)
}

// LogDebug logs a debug message with caller context
func LogDebug(msg string, additionalFields ...logrus.Fields) {
	logrus.WithFields(callerFields(2, additionalFields...)).Debug(msg)
}
