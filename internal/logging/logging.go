// Package logging builds the process-wide zap logger. Candidate key
// material never passes through here; callers log job identifiers and
// throughput, and print secrets to stdout themselves.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a sugared production logger. debug lowers the level and
// switches to the development encoder for local troubleshooting.
func New(debug bool) (*zap.SugaredLogger, error) {
	config := zap.NewProductionConfig()
	if debug {
		config = zap.NewDevelopmentConfig()
	}
	config.EncoderConfig.TimeKey = "time"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}
