// Package log holds the module-wide zap logger.
package log

import (
	"sync"

	"go.uber.org/zap"
)

var (
	once   sync.Once
	logger *zap.Logger
)

// Logger returns the shared logger, building a production logger on first
// use.
func Logger() *zap.Logger {
	once.Do(func() {
		l, err := zap.NewProduction()
		if err != nil {
			l = zap.NewNop()
		}
		logger = l
	})
	return logger
}

// Replace swaps the shared logger, e.g. for a development config or tests.
func Replace(l *zap.Logger) {
	once.Do(func() {})
	logger = l
}
