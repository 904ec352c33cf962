// Package logging builds the zap loggers shared across the gateway.
package logging

import "go.uber.org/zap"

// New builds a production zap.Logger, or a development one when debug is
// true (human-readable console encoding, debug level enabled).
func New(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
