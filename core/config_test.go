package core

import (
	"bytes"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeClockDrift(t *testing.T) {
	tests := []struct {
		unit string
		want time.Duration
	}{
		{"seconds", 15 * time.Second},
		{"milliseconds", 15 * time.Millisecond},
		{"minutes", 15 * time.Minute},
		{"SECONDS", 15 * time.Second},
		{"hours", 15 * time.Minute},
		{"", 15 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.unit, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeClockDrift(15, tt.unit))
		})
	}
}

// TestLoadDriftConfig verifies the drift tolerance is parsed from the given
// environment and defaults to 15 minutes.
func TestLoadDriftConfig(t *testing.T) {
	cfg, err := LoadDriftConfig(map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, cfg.Duration())

	cfg, err = LoadDriftConfig(map[string]string{
		"SCHEDULER_DRIFT_TOLERANCE":      "30",
		"SCHEDULER_DRIFT_TOLERANCE_UNIT": "seconds",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(30), cfg.Tolerance)
	assert.Equal(t, 30*time.Second, cfg.Duration())

	cfg, err = LoadDriftConfig(map[string]string{"SCHEDULER_DRIFT_TOLERANCE": "soon"})
	assert.Error(t, err)
	assert.Equal(t, 15*time.Minute, cfg.Duration())
}

func TestClockDriftTolerance_ReadOnce(t *testing.T) {
	first := ClockDriftTolerance()
	t.Setenv("SCHEDULER_DRIFT_TOLERANCE", "1")
	t.Setenv("SCHEDULER_DRIFT_TOLERANCE_UNIT", "milliseconds")

	assert.Equal(t, first, ClockDriftTolerance())
	assert.Positive(t, first)
}

// TestLoadDriftTolerance_WarnsOnMalformedValue verifies a bad environment value
// is logged and replaced by the 15 minute default.
func TestLoadDriftTolerance_WarnsOnMalformedValue(t *testing.T) {
	t.Setenv("SCHEDULER_DRIFT_TOLERANCE", "abc")

	var buf bytes.Buffer
	got := loadDriftTolerance(NewJSONLogger(&buf, zerolog.DebugLevel))

	assert.Equal(t, 15*time.Minute, got)
	assert.Contains(t, buf.String(), "invalid clock drift tolerance")
	assert.Contains(t, buf.String(), `"level":"warn"`)
}

func TestLoadDriftTolerance_Valid(t *testing.T) {
	t.Setenv("SCHEDULER_DRIFT_TOLERANCE", "250")
	t.Setenv("SCHEDULER_DRIFT_TOLERANCE_UNIT", "milliseconds")

	var buf bytes.Buffer
	got := loadDriftTolerance(NewJSONLogger(&buf, zerolog.DebugLevel))

	assert.Equal(t, 250*time.Millisecond, got)
	assert.Empty(t, buf.String())
}
