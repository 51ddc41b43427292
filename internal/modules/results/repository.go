// Package results persists the run lifecycle: submitted runs with their
// tensor bundles, per-iteration convergence traces and final result records.
// Terminal rows are append-only; results.db runs on the ledger profile.
package results

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/qerplab/qerp/internal/database"
	"github.com/qerplab/qerp/internal/domain"
)

// Repository handles run, trace and result database operations.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new results repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "results").Logger(),
	}
}

const runColumns = `id, status, config, bundle_hash, pathway_id, image_index,
	description, progress, error, created_at, started_at, finished_at`

// CreateRun inserts a new run row together with its tensor bundle. A zero
// CreatedAt is stamped with the current time.
func (r *Repository) CreateRun(run *domain.Run, bundle []byte) error {
	cfgBlob, err := msgpack.Marshal(run.Config)
	if err != nil {
		return fmt.Errorf("failed to encode run config: %w", err)
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = domain.RunStatusQueued
	}

	_, err = r.db.Exec(`
		INSERT INTO runs (id, status, config, bundle, bundle_hash, pathway_id,
			image_index, description, progress, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, string(run.Status), cfgBlob, bundle, run.BundleHash, run.PathwayID,
		run.ImageIndex, run.Description, run.Progress, run.Error, run.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}
	return nil
}

// GetRun returns one run by id, without its bundle blob.
func (r *Repository) GetRun(id string) (*domain.Run, error) {
	row := r.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	return run, nil
}

// GetBundle returns the raw tensor bundle a run was submitted with.
func (r *Repository) GetBundle(id string) ([]byte, error) {
	var bundle []byte
	err := r.db.QueryRow(`SELECT bundle FROM runs WHERE id = ?`, id).Scan(&bundle)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bundle for run %s: %w", id, err)
	}
	return bundle, nil
}

// ListRuns returns the newest runs first, capped at limit (default 100).
func (r *Repository) ListRuns(limit int) ([]domain.Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(`
		SELECT `+runColumns+` FROM runs
		ORDER BY created_at DESC, id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()
	return collectRuns(rows)
}

// ListRunsByStatus returns runs in one lifecycle state, oldest first, so the
// work processor can recover queued runs in submission order after a restart.
func (r *Repository) ListRunsByStatus(status domain.RunStatus) ([]domain.Run, error) {
	rows, err := r.db.Query(`
		SELECT `+runColumns+` FROM runs
		WHERE status = ?
		ORDER BY created_at, id
	`, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s runs: %w", status, err)
	}
	defer rows.Close()
	return collectRuns(rows)
}

// CountRunsByStatus returns the run count per lifecycle state.
func (r *Repository) CountRunsByStatus() (map[domain.RunStatus]int, error) {
	rows, err := r.db.Query(`SELECT status, COUNT(*) FROM runs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count runs: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.RunStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan run count: %w", err)
		}
		counts[domain.RunStatus(status)] = n
	}
	return counts, rows.Err()
}

// MarkRunStarted flips a run to running and stamps started_at.
func (r *Repository) MarkRunStarted(id string) error {
	res, err := r.db.Exec(`
		UPDATE runs SET status = ?, started_at = ? WHERE id = ?
	`, string(domain.RunStatusRunning), time.Now().UTC().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to mark run %s started: %w", id, err)
	}
	return requireRow(res, id)
}

// MarkRunFinished records a run's terminal status, its finish time and the
// error message for failed runs.
func (r *Repository) MarkRunFinished(id string, status domain.RunStatus, errMsg string) error {
	if !status.Terminal() {
		return fmt.Errorf("status %s is not terminal", status)
	}
	res, err := r.db.Exec(`
		UPDATE runs SET status = ?, finished_at = ?, error = ? WHERE id = ?
	`, string(status), time.Now().UTC().Unix(), errMsg, id)
	if err != nil {
		return fmt.Errorf("failed to mark run %s finished: %w", id, err)
	}
	return requireRow(res, id)
}

// UpdateRunProgress stores the number of completed iterations.
func (r *Repository) UpdateRunProgress(id string, progress int) error {
	res, err := r.db.Exec(`UPDATE runs SET progress = ? WHERE id = ?`, progress, id)
	if err != nil {
		return fmt.Errorf("failed to update progress for run %s: %w", id, err)
	}
	return requireRow(res, id)
}

// InsertIteration appends one convergence-trace entry for a run.
func (r *Repository) InsertIteration(runID string, rec domain.IterationRecord) error {
	params, err := msgpack.Marshal(rec.Parameters)
	if err != nil {
		return fmt.Errorf("failed to encode parameters: %w", err)
	}
	var subspace interface{}
	if rec.SubspaceEnergy != nil {
		subspace = *rec.SubspaceEnergy
	}
	_, err = r.db.Exec(`
		INSERT INTO run_iterations (run_id, iteration, operator_index, operator_label,
			score, parameters, raw_energy, mitigated_energy, subspace_energy,
			basis_size, flags, duration_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, runID, rec.Iteration, rec.OperatorIndex, rec.SelectedOperator,
		rec.Score, params, rec.RawEnergy, rec.MitigatedEnergy, subspace,
		rec.BasisSize, flagsToText(rec.Flags), rec.Duration.Nanoseconds())
	if err != nil {
		return fmt.Errorf("failed to insert iteration %d of run %s: %w", rec.Iteration, runID, err)
	}
	return nil
}

// GetTrace returns a run's convergence trace in iteration order.
func (r *Repository) GetTrace(runID string) ([]domain.IterationRecord, error) {
	rows, err := r.db.Query(`
		SELECT iteration, operator_index, operator_label, score, parameters,
			raw_energy, mitigated_energy, subspace_energy, basis_size, flags, duration_ns
		FROM run_iterations
		WHERE run_id = ?
		ORDER BY iteration
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query trace for run %s: %w", runID, err)
	}
	defer rows.Close()

	var trace []domain.IterationRecord
	for rows.Next() {
		var rec domain.IterationRecord
		var params []byte
		var subspace sql.NullFloat64
		var flags string
		var durationNS int64
		if err := rows.Scan(&rec.Iteration, &rec.OperatorIndex, &rec.SelectedOperator,
			&rec.Score, &params, &rec.RawEnergy, &rec.MitigatedEnergy, &subspace,
			&rec.BasisSize, &flags, &durationNS); err != nil {
			return nil, fmt.Errorf("failed to scan iteration row: %w", err)
		}
		if err := msgpack.Unmarshal(params, &rec.Parameters); err != nil {
			return nil, fmt.Errorf("failed to decode parameters: %w", err)
		}
		if subspace.Valid {
			v := subspace.Float64
			rec.SubspaceEnergy = &v
		}
		rec.Flags = textToFlags(flags)
		rec.Duration = time.Duration(durationNS)
		trace = append(trace, rec)
	}
	return trace, rows.Err()
}

// SaveResult persists the final artifact of a terminal run and the trace
// entries it carries, in one transaction. Saving a second result for the
// same run is a caller bug and fails on the primary key.
func (r *Repository) SaveResult(res *domain.RunResult) error {
	var provBlob []byte
	if res.Provenance != nil {
		var err error
		provBlob, err = msgpack.Marshal(res.Provenance)
		if err != nil {
			return fmt.Errorf("failed to encode provenance: %w", err)
		}
	}
	if res.CreatedAt.IsZero() {
		res.CreatedAt = time.Now().UTC()
	}

	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO run_results (run_id, status, energy, uncertainty, iterations,
				flags, provenance, hamiltonian_fingerprint, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, res.RunID, string(res.Status), res.Energy, res.Uncertainty, res.Iterations,
			flagsToText(res.Flags), provBlob, res.HamiltonianFingerprint, res.CreatedAt.Unix())
		if err != nil {
			return fmt.Errorf("failed to insert result for run %s: %w", res.RunID, err)
		}
		return nil
	})
}

// GetResult returns a run's final artifact with its full trace attached.
func (r *Repository) GetResult(runID string) (*domain.RunResult, error) {
	var res domain.RunResult
	var status, flags string
	var provBlob []byte
	var createdAt int64
	err := r.db.QueryRow(`
		SELECT run_id, status, energy, uncertainty, iterations, flags,
			provenance, hamiltonian_fingerprint, created_at
		FROM run_results
		WHERE run_id = ?
	`, runID).Scan(&res.RunID, &status, &res.Energy, &res.Uncertainty,
		&res.Iterations, &flags, &provBlob, &res.HamiltonianFingerprint, &createdAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("result for run %s: %w", runID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get result for run %s: %w", runID, err)
	}

	res.Status = domain.RunStatus(status)
	res.Flags = textToFlags(flags)
	res.CreatedAt = time.Unix(createdAt, 0).UTC()
	if len(provBlob) > 0 {
		res.Provenance = &domain.Provenance{}
		if err := msgpack.Unmarshal(provBlob, res.Provenance); err != nil {
			return nil, fmt.Errorf("failed to decode provenance: %w", err)
		}
	}

	trace, err := r.GetTrace(runID)
	if err != nil {
		return nil, err
	}
	res.Trace = trace
	return &res, nil
}

// PathwayProfile returns the energy profile of one reaction pathway, ordered
// by image index. Only runs with a saved result contribute points, so an
// in-flight pathway yields a partial profile.
func (r *Repository) PathwayProfile(pathwayID string) ([]domain.PathwayPoint, error) {
	rows, err := r.db.Query(`
		SELECT runs.id, runs.image_index, res.energy, res.uncertainty, res.status
		FROM runs
		JOIN run_results res ON res.run_id = runs.id
		WHERE runs.pathway_id = ?
		ORDER BY runs.image_index, runs.created_at
	`, pathwayID)
	if err != nil {
		return nil, fmt.Errorf("failed to query pathway %s: %w", pathwayID, err)
	}
	defer rows.Close()

	var points []domain.PathwayPoint
	for rows.Next() {
		var p domain.PathwayPoint
		var status string
		if err := rows.Scan(&p.RunID, &p.ImageIndex, &p.Energy, &p.Uncertainty, &status); err != nil {
			return nil, fmt.Errorf("failed to scan pathway point: %w", err)
		}
		p.Status = domain.RunStatus(status)
		points = append(points, p)
	}
	return points, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*domain.Run, error) {
	var run domain.Run
	var status string
	var cfgBlob []byte
	var createdAt int64
	var startedAt, finishedAt sql.NullInt64

	err := row.Scan(&run.ID, &status, &cfgBlob, &run.BundleHash, &run.PathwayID,
		&run.ImageIndex, &run.Description, &run.Progress, &run.Error,
		&createdAt, &startedAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	if err := msgpack.Unmarshal(cfgBlob, &run.Config); err != nil {
		return nil, fmt.Errorf("failed to decode run config: %w", err)
	}
	run.Status = domain.RunStatus(status)
	run.CreatedAt = time.Unix(createdAt, 0).UTC()
	if startedAt.Valid {
		t := time.Unix(startedAt.Int64, 0).UTC()
		run.StartedAt = &t
	}
	if finishedAt.Valid {
		t := time.Unix(finishedAt.Int64, 0).UTC()
		run.FinishedAt = &t
	}
	return &run, nil
}

func collectRuns(rows *sql.Rows) ([]domain.Run, error) {
	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("run %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func flagsToText(flags []domain.QualityFlag) string {
	if len(flags) == 0 {
		return ""
	}
	parts := make([]string, len(flags))
	for i, f := range flags {
		parts[i] = string(f)
	}
	return strings.Join(parts, ",")
}

func textToFlags(s string) []domain.QualityFlag {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	flags := make([]domain.QualityFlag, len(parts))
	for i, p := range parts {
		flags[i] = domain.QualityFlag(p)
	}
	return flags
}
