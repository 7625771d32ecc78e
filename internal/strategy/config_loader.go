package strategy

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Seed represents a strategy entry in the YAML seed file.
type Seed struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Type        string `yaml:"type"`
	RiskLevel   string `yaml:"risk_level"`
	IsActive    bool   `yaml:"is_active"`
	Parameters  Config `yaml:"parameters"`
}

// SeedFile represents the top-level YAML structure.
type SeedFile struct {
	Strategies []Seed `yaml:"strategies"`
}

// LoadSeedFile reads strategies from a YAML file.
func LoadSeedFile(path string) ([]Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file SeedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	for i, s := range file.Strategies {
		if s.ID == "" || s.Name == "" {
			return nil, fmt.Errorf("seed strategy #%d: id and name are required", i+1)
		}
		if err := s.Parameters.Validate(); err != nil {
			return nil, fmt.Errorf("seed strategy %s: %w", s.ID, err)
		}
	}
	return file.Strategies, nil
}

// SyncSeedsToDB upserts seeds for ownerID. Rows owned by someone else are
// left untouched, and bot lifecycle columns are never reset.
func SyncSeedsToDB(ctx context.Context, db *sql.DB, ownerID string, seeds []Seed) error {
	if ownerID == "" {
		return fmt.Errorf("seed owner is required")
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO strategies (id, user_id, name, description, strategy_type, risk_level, is_active, parameters, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			strategy_type = excluded.strategy_type,
			risk_level = excluded.risk_level,
			is_active = excluded.is_active,
			parameters = excluded.parameters,
			updated_at = CURRENT_TIMESTAMP
		WHERE strategies.user_id = excluded.user_id
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, s := range seeds {
		params, err := s.Parameters.Encode()
		if err != nil {
			return fmt.Errorf("failed to encode parameters for strategy %s: %w", s.Name, err)
		}
		typ := s.Type
		if typ == "" {
			typ = TagCrossover
		}
		level := s.RiskLevel
		if level == "" {
			level = "medium"
		}
		if _, err := stmt.ExecContext(ctx, s.ID, ownerID, s.Name, s.Description, typ, level, s.IsActive, params); err != nil {
			return fmt.Errorf("failed to upsert strategy %s: %w", s.Name, err)
		}
	}

	return tx.Commit()
}
