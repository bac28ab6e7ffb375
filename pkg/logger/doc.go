// Package logger provides the structured logging interface used across snsgrab.
//
// It wraps zerolog with a small API that supports structured fields, colored
// console output and an optional size-rotated log file. There is no global
// logger: a Logger is created once by the command and passed down explicitly.
// Each pipeline run scopes it with ForRun so every line carries the platform,
// subject and run id.
//
//	base, err := logger.New(&cfg.Logging)
//	log := logger.ForRun(base, "instagram", "jane", runID)
//	log.InfoWithFields("Discovery finished", map[string]interface{}{
//	    "succeeded": 120,
//	    "fetch_failed": 3,
//	})
package logger
