package hamiltonian

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func TestBundleRoundTrip(t *testing.T) {
	active := newH2()

	data, err := EncodeBundle(active)
	require.NoError(t, err)

	decoded, err := DecodeBundle(data)
	require.NoError(t, err)

	assert.Equal(t, active.Orbitals, decoded.Orbitals)
	assert.Equal(t, active.AlphaElectrons, decoded.AlphaElectrons)
	assert.Equal(t, active.BetaElectrons, decoded.BetaElectrons)
	assert.Equal(t, active.CoreEnergy, decoded.CoreEnergy)
	// tensors must survive bit-exactly, not just approximately
	assert.Equal(t, active.OneBody, decoded.OneBody)
	assert.Equal(t, active.TwoBody, decoded.TwoBody)
	require.NotNil(t, decoded.Provenance)
	assert.Equal(t, "sto-3g", decoded.Provenance.BasisSet)
}

func TestDecodeBundleRejectsUnknownVersion(t *testing.T) {
	active := newH2()
	b := Bundle{
		FormatVersion:  99,
		Orbitals:       active.Orbitals,
		AlphaElectrons: active.AlphaElectrons,
		BetaElectrons:  active.BetaElectrons,
		CoreEnergy:     active.CoreEnergy,
		OneBody:        active.OneBody,
		TwoBody:        active.TwoBody,
	}
	data, err := msgpack.Marshal(&b)
	require.NoError(t, err)

	_, err = DecodeBundle(data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "format version 99")
}

func TestDecodeBundleRejectsGarbage(t *testing.T) {
	_, err := DecodeBundle([]byte("not msgpack at all"))
	require.Error(t, err)
}

func TestDecodeBundleValidates(t *testing.T) {
	active := newH2()
	b := Bundle{
		FormatVersion:  BundleFormatVersion,
		Orbitals:       active.Orbitals,
		AlphaElectrons: active.AlphaElectrons,
		BetaElectrons:  active.BetaElectrons,
		CoreEnergy:     active.CoreEnergy,
		OneBody:        active.OneBody,
		TwoBody:        active.TwoBody[:8], // truncated
	}
	data, err := msgpack.Marshal(&b)
	require.NoError(t, err)

	_, err = DecodeBundle(data)
	require.Error(t, err)
}

func TestSaveAndLoadBundle(t *testing.T) {
	active := newH2()
	path := filepath.Join(t.TempDir(), "bundles", "h2", "sto3g.msgpack")

	savedHash, err := SaveBundle(active, path)
	require.NoError(t, err)
	require.Len(t, savedHash, 64)

	loaded, loadedHash, err := LoadBundle(path)
	require.NoError(t, err)
	assert.Equal(t, savedHash, loadedHash)
	assert.Equal(t, active.TwoBody, loaded.TwoBody)
}

func TestLoadBundleMissingFile(t *testing.T) {
	_, _, err := LoadBundle(filepath.Join(t.TempDir(), "missing.msgpack"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestBundleHashIsDeterministic(t *testing.T) {
	first, err := EncodeBundle(newH2())
	require.NoError(t, err)
	second, err := EncodeBundle(newH2())
	require.NoError(t, err)

	assert.Equal(t, BundleHash(first), BundleHash(second))
	assert.NotEqual(t, BundleHash(first), BundleHash(append(second, 0)))
}
