package configs

import "go.uber.org/zap"

// NewLogger builds the node-wide logger. Debug selects the development
// encoder with human-readable output.
func NewLogger(debug bool) *zap.Logger {
	if debug {
		return zap.Must(zap.NewDevelopment())
	}
	return zap.Must(zap.NewProduction())
}
