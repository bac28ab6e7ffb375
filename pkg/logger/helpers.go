package logger

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// LogDownload logs the outcome of one media download
func LogDownload(l Logger, itemID, target, kind string, success bool) {
	fields := map[string]interface{}{
		"item_id":    itemID,
		"target":     target,
		"media_type": kind,
		"success":    success,
	}

	if success {
		l.DebugWithFields("Download completed", fields)
	} else {
		l.WarnWithFields("Download failed", fields)
	}
}

// LogBuckets logs bucket sizes under a single message
func LogBuckets(l Logger, msg string, counts map[string]int) {
	fields := make(map[string]interface{}, len(counts))
	for k, v := range counts {
		fields[k] = v
	}
	l.InfoWithFields(msg, fields)
}

// Printf adapts a Logger to printf-style callbacks such as chromedp.WithLogf
func Printf(l Logger) func(string, ...interface{}) {
	return func(format string, args ...interface{}) {
		l.Debug(fmt.Sprintf(format, args...))
	}
}

// NewNopLogger creates a no-operation logger for testing
func NewNopLogger() Logger {
	return &nopLogger{}
}

// nopLogger is a logger that does nothing (useful for testing)
type nopLogger struct{}

func (n *nopLogger) Debug(msg string)                                          {}
func (n *nopLogger) Info(msg string)                                           {}
func (n *nopLogger) Warn(msg string)                                           {}
func (n *nopLogger) Error(msg string)                                          {}
func (n *nopLogger) WithField(key string, value interface{}) Logger            { return n }
func (n *nopLogger) WithFields(fields map[string]interface{}) Logger           { return n }
func (n *nopLogger) WithError(err error) Logger                                { return n }
func (n *nopLogger) WithContext(ctx context.Context) Logger                    { return n }
func (n *nopLogger) DebugWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) InfoWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) WarnWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) ErrorWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) GetZerolog() *zerolog.Logger {
	nop := zerolog.Nop()
	return &nop
}
