package core

import (
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// DriftConfig is the process-wide clock drift tolerance for periodic tasks.
//
// Environment:
//   - SCHEDULER_DRIFT_TOLERANCE, integer, default 15
//   - SCHEDULER_DRIFT_TOLERANCE_UNIT, one of "seconds", "milliseconds" or
//     "minutes" (default); unknown units fall back to minutes
type DriftConfig struct {
	Tolerance int64  `env:"SCHEDULER_DRIFT_TOLERANCE" envDefault:"15"`
	Unit      string `env:"SCHEDULER_DRIFT_TOLERANCE_UNIT" envDefault:"minutes"`
}

// Duration converts the configured amount into a time.Duration.
func (c DriftConfig) Duration() time.Duration {
	return ComputeClockDrift(c.Tolerance, c.Unit)
}

// ComputeClockDrift returns the tolerance for amount expressed in unit.
func ComputeClockDrift(amount int64, unit string) time.Duration {
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "seconds":
		return time.Duration(amount) * time.Second
	case "milliseconds":
		return time.Duration(amount) * time.Millisecond
	default:
		return time.Duration(amount) * time.Minute
	}
}

// LoadDriftConfig parses a DriftConfig. A nil environ reads the process
// environment; otherwise only the given variables are consulted.
func LoadDriftConfig(environ map[string]string) (DriftConfig, error) {
	var cfg DriftConfig
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return DriftConfig{Tolerance: 15, Unit: "minutes"}, err
	}
	return cfg, nil
}

var (
	driftOnce      sync.Once
	driftTolerance time.Duration
)

// ClockDriftTolerance returns the process-wide tolerance. It is read once, on
// first use, after a best-effort load of a .env file in the working directory.
func ClockDriftTolerance() time.Duration {
	driftOnce.Do(func() {
		// The .env file is optional
		_ = godotenv.Load()
		driftTolerance = loadDriftTolerance(NewDefaultLogger())
	})
	return driftTolerance
}

// loadDriftTolerance reads the process environment. A malformed value is
// logged and replaced by the default.
func loadDriftTolerance(logger Logger) time.Duration {
	cfg, err := LoadDriftConfig(nil)
	if err != nil {
		logger.Warn("invalid clock drift tolerance, using default",
			F("error", err),
			F("tolerance", cfg.Duration()),
		)
	}
	return cfg.Duration()
}
