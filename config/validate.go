package config

import (
	"fmt"
	"strings"

	"stakeledger/storage"
)

// Validate checks the configuration before any component is built from it.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" && c.DBBackend != storage.BackendMemory {
		return fmt.Errorf("config: DataDir must be set")
	}
	switch strings.ToLower(strings.TrimSpace(c.DBBackend)) {
	case storage.BackendLevelDB, storage.BackendBolt, storage.BackendMemory:
	default:
		return fmt.Errorf("config: unknown DBBackend %q", c.DBBackend)
	}
	switch strings.ToLower(strings.TrimSpace(c.EventLog.Driver)) {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unknown eventlog Driver %q", c.EventLog.Driver)
	}
	if _, err := c.Owner(); err != nil {
		return fmt.Errorf("config: OwnerAddress: %w", err)
	}
	if err := c.Params().Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
