package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Tuning groups the gameplay constants that shape the simulation. Values are
// compiled-in defaults unless an operator points GAMESERVER_TUNING at a YAML
// override file.
type Tuning struct {
	TickRateHz         int    `yaml:"tick_rate_hz"`
	GridSize           int    `yaml:"grid_size"`
	HeartbeatTicks     uint64 `yaml:"heartbeat_ticks"`
	SnapshotEveryTicks uint64 `yaml:"snapshot_every_ticks"`
	SnapshotMaxCount   int    `yaml:"snapshot_max_count"`
	SnapshotMaxAgeMs   int64  `yaml:"snapshot_max_age_ms"`
	ChatHistoryLimit   int    `yaml:"chat_history_limit"`
	ChatMaxLength      int    `yaml:"chat_max_length"`
}

// DefaultTuning returns the gameplay constants used when no override file exists.
func DefaultTuning() Tuning {
	return Tuning{
		TickRateHz:         20,
		GridSize:           8,
		HeartbeatTicks:     60,
		SnapshotEveryTicks: 10,
		SnapshotMaxCount:   100,
		SnapshotMaxAgeMs:   5000,
		ChatHistoryLimit:   100,
		ChatMaxLength:      500,
	}
}

// LoadTuning parses a YAML tuning file, filling omitted fields from defaults.
func LoadTuning(path string) (Tuning, error) {
	tuning := DefaultTuning()
	raw, err := os.ReadFile(path)
	if err != nil {
		return tuning, err
	}
	if err := yaml.Unmarshal(raw, &tuning); err != nil {
		return tuning, fmt.Errorf("tuning file: %w", err)
	}
	return tuning, tuning.validate()
}

func (t Tuning) validate() error {
	//1.- Reject values that would stall the tick driver or collapse the grid.
	if t.TickRateHz <= 0 {
		return fmt.Errorf("tick_rate_hz must be positive, got %d", t.TickRateHz)
	}
	if t.GridSize <= 0 {
		return fmt.Errorf("grid_size must be positive, got %d", t.GridSize)
	}
	if t.HeartbeatTicks == 0 {
		return fmt.Errorf("heartbeat_ticks must be positive")
	}
	if t.SnapshotEveryTicks == 0 {
		return fmt.Errorf("snapshot_every_ticks must be positive")
	}
	if t.SnapshotMaxCount <= 0 {
		return fmt.Errorf("snapshot_max_count must be positive, got %d", t.SnapshotMaxCount)
	}
	if t.SnapshotMaxAgeMs <= 0 {
		return fmt.Errorf("snapshot_max_age_ms must be positive, got %d", t.SnapshotMaxAgeMs)
	}
	if t.ChatMaxLength <= 0 {
		return fmt.Errorf("chat_max_length must be positive, got %d", t.ChatMaxLength)
	}
	return nil
}
