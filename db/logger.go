package db

import "github.com/ledgekv/ledgekv/internal/logging"

// newDefaultLogger returns the default logger used when Options.Logger is nil.
func newDefaultLogger() Logger {
	return logging.NewDefaultLogger(logging.LevelInfo)
}
