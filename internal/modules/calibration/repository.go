package calibration

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/qerplab/qerp/internal/database"
)

// Repository handles calibration database operations. Matrices and sector
// declarations live in calibration.db, keyed by backend name; timestamps are
// stored as Unix seconds.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new calibration repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "calibration").Logger(),
	}
}

// UpsertMatrices writes the given confusion matrices for a backend in a
// single transaction. Existing rows for the same (backend, qubit) pair are
// replaced.
func (r *Repository) UpsertMatrices(backend string, matrices []ConfusionMatrix) error {
	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO confusion_matrices (backend, qubit, p0_given_0, p1_given_1, measured_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(backend, qubit) DO UPDATE SET
				p0_given_0 = excluded.p0_given_0,
				p1_given_1 = excluded.p1_given_1,
				measured_at = excluded.measured_at
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare matrix upsert: %w", err)
		}
		defer stmt.Close()

		for _, m := range matrices {
			if _, err := stmt.Exec(backend, m.Qubit, m.P0Given0, m.P1Given1, m.MeasuredAt.Unix()); err != nil {
				return fmt.Errorf("failed to upsert matrix for qubit %d: %w", m.Qubit, err)
			}
		}
		return nil
	})
}

// GetMatrices returns all confusion matrices stored for a backend, ordered
// by qubit index. An unknown backend yields an empty slice.
func (r *Repository) GetMatrices(backend string) ([]ConfusionMatrix, error) {
	rows, err := r.db.Query(`
		SELECT qubit, p0_given_0, p1_given_1, measured_at
		FROM confusion_matrices
		WHERE backend = ?
		ORDER BY qubit
	`, backend)
	if err != nil {
		return nil, fmt.Errorf("failed to query matrices for %s: %w", backend, err)
	}
	defer rows.Close()

	var out []ConfusionMatrix
	for rows.Next() {
		var m ConfusionMatrix
		var measuredAt int64
		if err := rows.Scan(&m.Qubit, &m.P0Given0, &m.P1Given1, &measuredAt); err != nil {
			return nil, fmt.Errorf("failed to scan matrix row: %w", err)
		}
		m.MeasuredAt = time.Unix(measuredAt, 0).UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpsertSector writes a backend's symmetry sector declaration.
func (r *Repository) UpsertSector(s SymmetrySector) error {
	_, err := r.db.Exec(`
		INSERT INTO symmetry_sectors (backend, alpha_electrons, beta_electrons, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(backend) DO UPDATE SET
			alpha_electrons = excluded.alpha_electrons,
			beta_electrons = excluded.beta_electrons,
			updated_at = excluded.updated_at
	`, s.Backend, s.AlphaElectrons, s.BetaElectrons, s.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to upsert sector for %s: %w", s.Backend, err)
	}
	return nil
}

// GetSector returns a backend's symmetry sector declaration, or nil when
// none has been uploaded.
func (r *Repository) GetSector(backend string) (*SymmetrySector, error) {
	var s SymmetrySector
	var updatedAt int64
	err := r.db.QueryRow(`
		SELECT backend, alpha_electrons, beta_electrons, updated_at
		FROM symmetry_sectors
		WHERE backend = ?
	`, backend).Scan(&s.Backend, &s.AlphaElectrons, &s.BetaElectrons, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sector for %s: %w", backend, err)
	}
	s.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &s, nil
}

// Backends returns every backend name with any calibration data.
func (r *Repository) Backends() ([]string, error) {
	rows, err := r.db.Query(`
		SELECT DISTINCT backend FROM confusion_matrices
		UNION
		SELECT backend FROM symmetry_sectors
		ORDER BY backend
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list backends: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var b string
		if err := rows.Scan(&b); err != nil {
			return nil, fmt.Errorf("failed to scan backend name: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// StaleBackends returns backends whose newest confusion matrix predates the
// cutoff. Backends with only a sector declaration are not reported.
func (r *Repository) StaleBackends(cutoff time.Time) ([]string, error) {
	rows, err := r.db.Query(`
		SELECT backend, MAX(measured_at) AS newest
		FROM confusion_matrices
		GROUP BY backend
		HAVING newest < ?
		ORDER BY backend
	`, cutoff.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query stale backends: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var b string
		var newest int64
		if err := rows.Scan(&b, &newest); err != nil {
			return nil, fmt.Errorf("failed to scan stale backend row: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
