// Package logging builds the zap logger shared by every subcommand, the way
// the teacher's service binaries do: production JSON logging by default,
// a development encoder when debug output is requested.
package logging

import "go.uber.org/zap"

// New constructs a production zap logger, or a development one
// (human-readable console output) when debug is true.
func New(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
