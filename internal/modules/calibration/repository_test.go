package calibration

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testingpkg "github.com/qerplab/qerp/internal/testing"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	db, cleanup := testingpkg.NewTestDB(t, "calibration")
	t.Cleanup(cleanup)
	return NewRepository(testingpkg.GetRawConnection(db), zerolog.Nop())
}

func TestRepositoryMatricesRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	measured := time.Unix(1724565600, 0).UTC()

	err := repo.UpsertMatrices("ibm_torino", []ConfusionMatrix{
		{Qubit: 1, P0Given0: 0.96, P1Given1: 0.93, MeasuredAt: measured},
		{Qubit: 0, P0Given0: 0.98, P1Given1: 0.97, MeasuredAt: measured},
	})
	require.NoError(t, err)

	got, err := repo.GetMatrices("ibm_torino")
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Ordered by qubit regardless of insertion order.
	assert.Equal(t, 0, got[0].Qubit)
	assert.Equal(t, 1, got[1].Qubit)
	assert.InDelta(t, 0.98, got[0].P0Given0, 1e-15)
	assert.InDelta(t, 0.93, got[1].P1Given1, 1e-15)
	assert.Equal(t, measured, got[0].MeasuredAt)
}

func TestRepositoryUpsertReplacesMatrix(t *testing.T) {
	repo := newTestRepo(t)
	old := time.Unix(1724000000, 0).UTC()
	fresh := time.Unix(1724565600, 0).UTC()

	require.NoError(t, repo.UpsertMatrices("sim", []ConfusionMatrix{
		{Qubit: 0, P0Given0: 0.90, P1Given1: 0.90, MeasuredAt: old},
	}))
	require.NoError(t, repo.UpsertMatrices("sim", []ConfusionMatrix{
		{Qubit: 0, P0Given0: 0.99, P1Given1: 0.98, MeasuredAt: fresh},
	}))

	got, err := repo.GetMatrices("sim")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 0.99, got[0].P0Given0, 1e-15)
	assert.Equal(t, fresh, got[0].MeasuredAt)
}

func TestRepositoryUnknownBackend(t *testing.T) {
	repo := newTestRepo(t)

	got, err := repo.GetMatrices("nope")
	require.NoError(t, err)
	assert.Empty(t, got)

	sector, err := repo.GetSector("nope")
	require.NoError(t, err)
	assert.Nil(t, sector)
}

func TestRepositorySectorRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	updated := time.Unix(1724565600, 0).UTC()

	err := repo.UpsertSector(SymmetrySector{
		Backend:        "sim",
		AlphaElectrons: 1,
		BetaElectrons:  1,
		UpdatedAt:      updated,
	})
	require.NoError(t, err)

	got, err := repo.GetSector("sim")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 1, got.AlphaElectrons)
	assert.Equal(t, 1, got.BetaElectrons)
	assert.Equal(t, updated, got.UpdatedAt)

	// Replacing the declaration keeps a single row.
	err = repo.UpsertSector(SymmetrySector{Backend: "sim", AlphaElectrons: 2, BetaElectrons: 2, UpdatedAt: updated})
	require.NoError(t, err)
	got, err = repo.GetSector("sim")
	require.NoError(t, err)
	assert.Equal(t, 2, got.AlphaElectrons)
}

func TestRepositoryBackends(t *testing.T) {
	repo := newTestRepo(t)
	now := time.Unix(1724565600, 0).UTC()

	require.NoError(t, repo.UpsertMatrices("b_matrices_only", []ConfusionMatrix{
		{Qubit: 0, P0Given0: 0.95, P1Given1: 0.95, MeasuredAt: now},
	}))
	require.NoError(t, repo.UpsertSector(SymmetrySector{Backend: "a_sector_only", AlphaElectrons: 1, UpdatedAt: now}))

	got, err := repo.Backends()
	require.NoError(t, err)
	assert.Equal(t, []string{"a_sector_only", "b_matrices_only"}, got)
}

func TestRepositoryStaleBackends(t *testing.T) {
	repo := newTestRepo(t)
	old := time.Unix(1700000000, 0).UTC()
	fresh := time.Unix(1724565600, 0).UTC()

	require.NoError(t, repo.UpsertMatrices("stale_backend", []ConfusionMatrix{
		{Qubit: 0, P0Given0: 0.95, P1Given1: 0.95, MeasuredAt: old},
	}))
	require.NoError(t, repo.UpsertMatrices("fresh_backend", []ConfusionMatrix{
		{Qubit: 0, P0Given0: 0.95, P1Given1: 0.95, MeasuredAt: old},
		{Qubit: 1, P0Given0: 0.95, P1Given1: 0.95, MeasuredAt: fresh},
	}))

	cutoff := time.Unix(1710000000, 0).UTC()
	got, err := repo.StaleBackends(cutoff)
	require.NoError(t, err)

	// A backend counts as fresh when any of its matrices is recent.
	assert.Equal(t, []string{"stale_backend"}, got)
}
