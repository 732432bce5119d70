package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"redtrace/mitre"

	"go.uber.org/zap"
)

// SQLiteMitreStorage handles the ATT&CK reference taxonomy in SQLite
type SQLiteMitreStorage struct {
	db     *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteMitreStorage creates a new SQLite MITRE storage handler
func NewSQLiteMitreStorage(db *SQLite, logger *zap.SugaredLogger) *SQLiteMitreStorage {
	return &SQLiteMitreStorage{db: db, logger: logger}
}

// ImportBundle inserts a taxonomy bundle in one transaction. Existing rows
// with the same id are updated in place so re-imports are idempotent.
func (s *SQLiteMitreStorage) ImportBundle(bundle *mitre.Bundle) error {
	if err := bundle.Validate(); err != nil {
		return fmt.Errorf("invalid taxonomy bundle: %w", err)
	}

	err := s.db.WithTransaction(func(tx *sql.Tx) error {
		for _, t := range bundle.Tactics {
			_, err := tx.Exec(`
				INSERT INTO mitre_tactics (id, name, short_name) VALUES (?, ?, ?)
				ON CONFLICT (id) DO UPDATE SET name = excluded.name, short_name = excluded.short_name
			`, t.ID, t.Name, t.ShortName)
			if err != nil {
				return fmt.Errorf("failed to insert tactic %s: %w", t.ID, err)
			}
		}
		for _, t := range bundle.Techniques {
			var tacticID interface{}
			if t.TacticID != "" {
				tacticID = t.TacticID
			}
			_, err := tx.Exec(`
				INSERT INTO mitre_techniques (id, name, tactic_id) VALUES (?, ?, ?)
				ON CONFLICT (id) DO UPDATE SET name = excluded.name, tactic_id = excluded.tactic_id
			`, t.ID, t.Name, tacticID)
			if err != nil {
				return fmt.Errorf("failed to insert technique %s: %w", t.ID, err)
			}
		}
		for _, st := range bundle.SubTechniques {
			_, err := tx.Exec(`
				INSERT INTO mitre_sub_techniques (id, name, technique_id) VALUES (?, ?, ?)
				ON CONFLICT (id) DO UPDATE SET name = excluded.name, technique_id = excluded.technique_id
			`, st.ID, st.Name, st.TechniqueID)
			if err != nil {
				return fmt.Errorf("failed to insert sub-technique %s: %w", st.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Infow("MITRE taxonomy imported",
		"tactics", len(bundle.Tactics),
		"techniques", len(bundle.Techniques),
		"sub_techniques", len(bundle.SubTechniques),
	)
	return nil
}

// GetTechnique retrieves a MITRE technique by ID
func (s *SQLiteMitreStorage) GetTechnique(id string) (*mitre.Technique, error) {
	var t mitre.Technique
	var tacticID sql.NullString
	err := s.db.ReadDB.QueryRow(
		"SELECT id, name, tactic_id FROM mitre_techniques WHERE id = ?", id,
	).Scan(&t.ID, &t.Name, &tacticID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMitreTechniqueNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query MITRE technique: %w", err)
	}
	if tacticID.Valid {
		t.TacticID = tacticID.String
	}
	return &t, nil
}

// GetSubTechnique retrieves a MITRE sub-technique by ID
func (s *SQLiteMitreStorage) GetSubTechnique(id string) (*mitre.SubTechnique, error) {
	var st mitre.SubTechnique
	err := s.db.ReadDB.QueryRow(
		"SELECT id, name, technique_id FROM mitre_sub_techniques WHERE id = ?", id,
	).Scan(&st.ID, &st.Name, &st.TechniqueID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMitreSubTechniqueNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query MITRE sub-technique: %w", err)
	}
	return &st, nil
}

// ListTechniques returns the full technique taxonomy ordered by id
func (s *SQLiteMitreStorage) ListTechniques() ([]mitre.Technique, error) {
	rows, err := s.db.ReadDB.Query("SELECT id, name, tactic_id FROM mitre_techniques ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query MITRE techniques: %w", err)
	}
	defer rows.Close()

	techniques := []mitre.Technique{}
	for rows.Next() {
		var t mitre.Technique
		var tacticID sql.NullString
		if err := rows.Scan(&t.ID, &t.Name, &tacticID); err != nil {
			return nil, fmt.Errorf("failed to scan MITRE technique row: %w", err)
		}
		if tacticID.Valid {
			t.TacticID = tacticID.String
		}
		techniques = append(techniques, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating MITRE technique rows: %w", err)
	}
	return techniques, nil
}

// ListSubTechniques returns every sub-technique of the given technique
func (s *SQLiteMitreStorage) ListSubTechniques(techniqueID string) ([]mitre.SubTechnique, error) {
	rows, err := s.db.ReadDB.Query(
		"SELECT id, name, technique_id FROM mitre_sub_techniques WHERE technique_id = ? ORDER BY id",
		techniqueID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query MITRE sub-techniques: %w", err)
	}
	defer rows.Close()

	subs := []mitre.SubTechnique{}
	for rows.Next() {
		var st mitre.SubTechnique
		if err := rows.Scan(&st.ID, &st.Name, &st.TechniqueID); err != nil {
			return nil, fmt.Errorf("failed to scan MITRE sub-technique row: %w", err)
		}
		subs = append(subs, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating MITRE sub-technique rows: %w", err)
	}
	return subs, nil
}

// CountTechniques returns the number of taxonomy techniques present
func (s *SQLiteMitreStorage) CountTechniques() (int64, error) {
	var count int64
	if err := s.db.ReadDB.QueryRow("SELECT COUNT(*) FROM mitre_techniques").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count MITRE techniques: %w", err)
	}
	return count, nil
}
