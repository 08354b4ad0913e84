// Package logging wires the process's structured logger. The teacher
// depends on go.uber.org/zap (via lookatitude-beluga-ai's and
// tphakala-birdnet-go's shared stack) without using it directly in any
// kept module, so this package establishes the construction pattern for
// the rest of the core: a development encoder for local runs, a JSON
// encoder in production, both built through zap.Config rather than
// zap.NewProduction()'s fixed defaults; the level follows the production
// flag alone (info in production, debug otherwise).
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a *zap.Logger. production selects JSON encoding at info
// level; non-production selects a human-readable console encoder at
// debug level.
func New(production bool) (*zap.Logger, error) {
	var cfg zap.Config
	if production {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// WithJob returns a child logger that adds the job id to every entry it
// writes; cmd/hearingpipe uses it for its per-job log lines.
func WithJob(logger *zap.Logger, jobID string) *zap.Logger {
	return logger.With(zap.String("job_id", jobID))
}
