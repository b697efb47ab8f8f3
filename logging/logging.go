package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	logger  = newLogger(os.Stderr)
	logFile *os.File
	mu      sync.Mutex
	isSetup bool
)

func newLogger(w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l
}

// SetupLogger tees log output into logFilePath. With debug set, DebugLog
// messages are emitted as well.
func SetupLogger(logFilePath string, debug bool) error {
	mu.Lock()
	defer mu.Unlock()

	if debug {
		logger.SetLevel(logrus.DebugLevel)
	}

	if isSetup || logFilePath == "" {
		return nil
	}

	var err error
	logFile, err = os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return fmt.Errorf("failed to open log file: %v", err)
	}

	logger.SetOutput(io.MultiWriter(os.Stderr, logFile))
	logger.Debugf("--- memfinder log started at %s ---", time.Now().Format(time.RFC3339))

	isSetup = true
	return nil
}

// SetOutput redirects all log output, mainly for tests
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger.SetOutput(w)
}

// CloseLogger closes the log file, if any, and restores stderr output
func CloseLogger() {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logger.Debugf("--- memfinder log closed at %s ---", time.Now().Format(time.RFC3339))
		logger.SetOutput(os.Stderr)
		logFile.Close()
		logFile = nil
		isSetup = false
	}
}

func LogInfo(format string, args ...interface{}) {
	logger.Infof(format, args...)
}

// DebugLog logs a message if debug mode is enabled
func DebugLog(format string, args ...interface{}) {
	logger.Debugf(format, args...)
}

func LogError(format string, args ...interface{}) {
	logger.Errorf(format, args...)
}

func LogWarning(format string, args ...interface{}) {
	logger.Warnf(format, args...)
}

// LogImageProcessed records the outcome of fingerprinting one corpus item.
// Failures are warnings: the item is skipped and the run continues.
func LogImageProcessed(identifier string, err error) {
	if err != nil {
		logger.WithFields(logrus.Fields{"source": identifier}).Warnf("skipped: %v", err)
		return
	}
	logger.WithFields(logrus.Fields{"source": identifier}).Debug("indexed")
}
