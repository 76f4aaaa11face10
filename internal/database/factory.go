package database

import (
	"fmt"
	"os"
	"path/filepath"

	"dedup-go/internal/config"
	"dedup-go/internal/dedup"
)

// NewStoreFromConfig creates an IndexStore based on the database config
// type. The sqlite file is named after the host so several coordinators
// can share one data directory.
func NewStoreFromConfig(cfg config.DatabaseConfig, hostID string, clock dedup.Clock, idgen dedup.IDGenerator) (dedup.IndexStore, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		return NewSQLiteStore(filepath.Join(cfg.DataDir, hostID+".db"), clock, idgen)
	case "memory":
		return NewSQLiteStore(":memory:", clock, idgen)
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
