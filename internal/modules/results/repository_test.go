package results

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qerplab/qerp/internal/domain"
	testingpkg "github.com/qerplab/qerp/internal/testing"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	db, cleanup := testingpkg.NewTestDB(t, "results")
	t.Cleanup(cleanup)
	return NewRepository(testingpkg.GetRawConnection(db), zerolog.Nop())
}

func boolPtr(b bool) *bool {
	return &b
}

func queuedRun(id string, createdAt int64) *domain.Run {
	return &domain.Run{
		ID:     id,
		Status: domain.RunStatusQueued,
		Config: domain.RunConfig{
			Mapping:           domain.MappingParity,
			TwoQubitReduction: true,
			Backend:           "simulator",
			Shots:             2048,
			Seed:              7,
			NoiseScales:       []float64{1, 2, 3},
			MaxIterations:     10,
			SubspaceEnabled:   boolPtr(true),
		},
		BundleHash: "hash-" + id,
		CreatedAt:  time.Unix(createdAt, 0).UTC(),
	}
}

func TestRepositoryRunRoundTrip(t *testing.T) {
	repo := newTestRepository(t)
	run := queuedRun("run-1", 1724565600)
	run.PathwayID = "diels-alder"
	run.ImageIndex = 4
	run.Description = "transition state image"

	require.NoError(t, repo.CreateRun(run, []byte("bundle-bytes")))

	got, err := repo.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, domain.RunStatusQueued, got.Status)
	assert.Equal(t, run.Config, got.Config)
	assert.Equal(t, "hash-run-1", got.BundleHash)
	assert.Equal(t, "diels-alder", got.PathwayID)
	assert.Equal(t, 4, got.ImageIndex)
	assert.Equal(t, "transition state image", got.Description)
	assert.Equal(t, run.CreatedAt, got.CreatedAt)
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.FinishedAt)

	bundle, err := repo.GetBundle("run-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("bundle-bytes"), bundle)
}

func TestRepositoryGetRunNotFound(t *testing.T) {
	repo := newTestRepository(t)

	_, err := repo.GetRun("missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = repo.GetBundle("missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRepositoryRunLifecycle(t *testing.T) {
	repo := newTestRepository(t)
	require.NoError(t, repo.CreateRun(queuedRun("run-1", 1724565600), nil))

	require.NoError(t, repo.MarkRunStarted("run-1"))
	got, err := repo.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusRunning, got.Status)
	require.NotNil(t, got.StartedAt)
	assert.Nil(t, got.FinishedAt)

	require.NoError(t, repo.UpdateRunProgress("run-1", 3))
	require.NoError(t, repo.MarkRunFinished("run-1", domain.RunStatusConverged, ""))

	got, err = repo.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusConverged, got.Status)
	assert.Equal(t, 3, got.Progress)
	require.NotNil(t, got.FinishedAt)
	assert.Empty(t, got.Error)
}

func TestRepositoryMarkFinishedRejectsNonTerminal(t *testing.T) {
	repo := newTestRepository(t)
	require.NoError(t, repo.CreateRun(queuedRun("run-1", 1724565600), nil))

	err := repo.MarkRunFinished("run-1", domain.RunStatusRunning, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not terminal")
}

func TestRepositoryLifecycleUpdatesRequireRun(t *testing.T) {
	repo := newTestRepository(t)

	assert.ErrorIs(t, repo.MarkRunStarted("missing"), domain.ErrNotFound)
	assert.ErrorIs(t, repo.MarkRunFinished("missing", domain.RunStatusFailed, "boom"), domain.ErrNotFound)
	assert.ErrorIs(t, repo.UpdateRunProgress("missing", 1), domain.ErrNotFound)
}

func TestRepositoryListRuns(t *testing.T) {
	repo := newTestRepository(t)
	require.NoError(t, repo.CreateRun(queuedRun("run-a", 100), nil))
	require.NoError(t, repo.CreateRun(queuedRun("run-b", 200), nil))
	require.NoError(t, repo.CreateRun(queuedRun("run-c", 300), nil))
	require.NoError(t, repo.MarkRunStarted("run-b"))

	newest, err := repo.ListRuns(2)
	require.NoError(t, err)
	require.Len(t, newest, 2)
	assert.Equal(t, "run-c", newest[0].ID)
	assert.Equal(t, "run-b", newest[1].ID)

	queued, err := repo.ListRunsByStatus(domain.RunStatusQueued)
	require.NoError(t, err)
	require.Len(t, queued, 2)
	// Oldest first, so recovery resumes in submission order.
	assert.Equal(t, "run-a", queued[0].ID)
	assert.Equal(t, "run-c", queued[1].ID)
}

func TestRepositoryCountRunsByStatus(t *testing.T) {
	repo := newTestRepository(t)
	require.NoError(t, repo.CreateRun(queuedRun("run-a", 100), nil))
	require.NoError(t, repo.CreateRun(queuedRun("run-b", 200), nil))
	require.NoError(t, repo.MarkRunStarted("run-b"))

	counts, err := repo.CountRunsByStatus()
	require.NoError(t, err)
	assert.Equal(t, 1, counts[domain.RunStatusQueued])
	assert.Equal(t, 1, counts[domain.RunStatusRunning])
	assert.Zero(t, counts[domain.RunStatusFailed])
}

func TestRepositoryTraceRoundTrip(t *testing.T) {
	repo := newTestRepository(t)
	require.NoError(t, repo.CreateRun(queuedRun("run-1", 1724565600), nil))

	subspace := -1.1372
	first := domain.IterationRecord{
		Iteration:        1,
		SelectedOperator: "double 0,2->1,3",
		OperatorIndex:    2,
		Score:            0.3618,
		Parameters:       []float64{-0.1117},
		RawEnergy:        -1.1368,
		MitigatedEnergy:  -1.1371,
		SubspaceEnergy:   &subspace,
		BasisSize:        2,
		Flags:            []domain.QualityFlag{domain.FlagSubspaceRankDeficient},
		Duration:         42 * time.Millisecond,
	}
	second := domain.IterationRecord{
		Iteration:        2,
		SelectedOperator: "single 0->1",
		OperatorIndex:    0,
		Score:            0.002,
		Parameters:       []float64{-0.1117, 0.0004},
		RawEnergy:        -1.1369,
		MitigatedEnergy:  -1.1372,
		BasisSize:        2,
		Duration:         17 * time.Millisecond,
	}
	require.NoError(t, repo.InsertIteration("run-1", second))
	require.NoError(t, repo.InsertIteration("run-1", first))

	trace, err := repo.GetTrace("run-1")
	require.NoError(t, err)
	require.Len(t, trace, 2)
	assert.Equal(t, first, trace[0])
	assert.Equal(t, second, trace[1])
	require.NotNil(t, trace[0].SubspaceEnergy)
	assert.InDelta(t, subspace, *trace[0].SubspaceEnergy, 0)
	assert.Nil(t, trace[1].SubspaceEnergy)
}

func TestRepositoryResultRoundTrip(t *testing.T) {
	repo := newTestRepository(t)
	require.NoError(t, repo.CreateRun(queuedRun("run-1", 1724565600), nil))
	require.NoError(t, repo.InsertIteration("run-1", domain.IterationRecord{
		Iteration: 1, SelectedOperator: "double 0,2->1,3", Parameters: []float64{-0.11},
	}))

	res := &domain.RunResult{
		RunID:       "run-1",
		Status:      domain.RunStatusConverged,
		Energy:      -1.13730,
		Uncertainty: 3.2e-5,
		Iterations:  1,
		Flags:       []domain.QualityFlag{domain.FlagLowSymmetryYield},
		Provenance: &domain.Provenance{
			Geometry:        "H 0 0 0; H 0 0 0.735",
			BasisSet:        "sto-3g",
			ActiveElectrons: [2]int{1, 1},
			ActiveOrbitals:  2,
			ReferenceEnergy: -1.11700,
		},
		HamiltonianFingerprint: "fp-abc",
		CreatedAt:              time.Unix(1724565700, 0).UTC(),
	}
	require.NoError(t, repo.SaveResult(res))

	got, err := repo.GetResult("run-1")
	require.NoError(t, err)
	assert.Equal(t, res.RunID, got.RunID)
	assert.Equal(t, domain.RunStatusConverged, got.Status)
	assert.InDelta(t, res.Energy, got.Energy, 0)
	assert.InDelta(t, res.Uncertainty, got.Uncertainty, 0)
	assert.Equal(t, res.Flags, got.Flags)
	require.NotNil(t, got.Provenance)
	assert.Equal(t, *res.Provenance, *got.Provenance)
	assert.Equal(t, "fp-abc", got.HamiltonianFingerprint)
	assert.Equal(t, res.CreatedAt, got.CreatedAt)
	require.Len(t, got.Trace, 1)
	assert.Equal(t, "double 0,2->1,3", got.Trace[0].SelectedOperator)

	// A second result for the same run is a caller bug.
	assert.Error(t, repo.SaveResult(res))
}

func TestRepositoryResultNotFound(t *testing.T) {
	repo := newTestRepository(t)
	_, err := repo.GetResult("missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRepositoryPathwayProfile(t *testing.T) {
	repo := newTestRepository(t)

	makeImage := func(id string, image int, energy float64, createdAt int64) {
		run := queuedRun(id, createdAt)
		run.PathwayID = "pw-1"
		run.ImageIndex = image
		require.NoError(t, repo.CreateRun(run, nil))
		require.NoError(t, repo.SaveResult(&domain.RunResult{
			RunID:                  id,
			Status:                 domain.RunStatusConverged,
			Energy:                 energy,
			Uncertainty:            1e-5,
			Iterations:             1,
			HamiltonianFingerprint: "fp",
			CreatedAt:              time.Unix(createdAt, 0).UTC(),
		}))
	}
	makeImage("img-2", 2, -1.10, 300)
	makeImage("img-0", 0, -1.14, 100)
	makeImage("img-1", 1, -1.12, 200)

	// A still-running image contributes no point yet.
	pending := queuedRun("img-3", 400)
	pending.PathwayID = "pw-1"
	pending.ImageIndex = 3
	require.NoError(t, repo.CreateRun(pending, nil))

	// Other pathways stay out of the profile.
	other := queuedRun("other", 500)
	other.PathwayID = "pw-2"
	require.NoError(t, repo.CreateRun(other, nil))

	profile, err := repo.PathwayProfile("pw-1")
	require.NoError(t, err)
	require.Len(t, profile, 3)
	assert.Equal(t, []int{0, 1, 2}, []int{profile[0].ImageIndex, profile[1].ImageIndex, profile[2].ImageIndex})
	assert.Equal(t, "img-0", profile[0].RunID)
	assert.InDelta(t, -1.14, profile[0].Energy, 0)
	assert.Equal(t, domain.RunStatusConverged, profile[2].Status)
}
