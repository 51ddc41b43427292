package hamiltonian

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"

	"github.com/qerplab/qerp/internal/domain"
	"github.com/vmihailenco/msgpack/v5"
)

// BundleFormatVersion is bumped whenever the wire layout changes.
const BundleFormatVersion = 1

// Bundle is the msgpack wire form of an active-space problem. Tensors are
// flat float64 slices so encoding round-trips bit-exactly.
type Bundle struct {
	FormatVersion  int                `msgpack:"format_version"`
	Orbitals       int                `msgpack:"orbitals"`
	AlphaElectrons int                `msgpack:"alpha_electrons"`
	BetaElectrons  int                `msgpack:"beta_electrons"`
	CoreEnergy     float64            `msgpack:"core_energy"`
	OneBody        []float64          `msgpack:"one_body"`
	TwoBody        []float64          `msgpack:"two_body"`
	Provenance     *domain.Provenance `msgpack:"provenance,omitempty"`
}

// EncodeBundle serializes an active space to msgpack bytes.
func EncodeBundle(a *ActiveSpace) ([]byte, error) {
	b := Bundle{
		FormatVersion:  BundleFormatVersion,
		Orbitals:       a.Orbitals,
		AlphaElectrons: a.AlphaElectrons,
		BetaElectrons:  a.BetaElectrons,
		CoreEnergy:     a.CoreEnergy,
		OneBody:        a.OneBody,
		TwoBody:        a.TwoBody,
		Provenance:     a.Provenance,
	}
	data, err := msgpack.Marshal(&b)
	if err != nil {
		return nil, fmt.Errorf("failed to encode bundle: %w", err)
	}
	return data, nil
}

// DecodeBundle parses msgpack bytes into a validated active space.
func DecodeBundle(data []byte) (*ActiveSpace, error) {
	var b Bundle
	if err := msgpack.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to decode bundle: %w", err)
	}
	if b.FormatVersion != BundleFormatVersion {
		return nil, fmt.Errorf("unsupported bundle format version %d (want %d)", b.FormatVersion, BundleFormatVersion)
	}

	active := &ActiveSpace{
		Orbitals:       b.Orbitals,
		AlphaElectrons: b.AlphaElectrons,
		BetaElectrons:  b.BetaElectrons,
		CoreEnergy:     b.CoreEnergy,
		OneBody:        b.OneBody,
		TwoBody:        b.TwoBody,
		Provenance:     b.Provenance,
	}
	if err := active.Validate(); err != nil {
		return nil, err
	}
	return active, nil
}

// BundleHash returns the hex sha256 digest of encoded bundle bytes. The hash
// is recorded on runs so a result can always be traced to its exact input.
func BundleHash(data []byte) string {
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum)
}

// SaveBundle writes an encoded active space to path, creating parent
// directories as needed. Returns the content hash.
func SaveBundle(a *ActiveSpace, path string) (string, error) {
	data, err := EncodeBundle(a)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create bundle directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write bundle: %w", err)
	}
	return BundleHash(data), nil
}

// LoadBundle reads and validates an active space from path.
func LoadBundle(path string) (*ActiveSpace, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read bundle: %w", err)
	}
	active, err := DecodeBundle(data)
	if err != nil {
		return nil, "", err
	}
	return active, BundleHash(data), nil
}
