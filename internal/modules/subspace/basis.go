// Package subspace implements sampling-based subspace diagonalization: the
// solver collects measured configurations (and optionally ansatz statevector
// snapshots), projects the Hamiltonian onto their span and solves the small
// generalized eigenproblem for a variational energy estimate.
package subspace

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/qerplab/qerp/internal/domain"
	"github.com/qerplab/qerp/internal/quantum"
)

// Configuration is one sampled basis state with its accumulated shot
// support.
type Configuration struct {
	Bits    uint64
	Support float64
}

// Basis is the growing subspace span: sampled configurations ranked by shot
// support plus a bounded ring of ansatz snapshots. Snapshots are exempt from
// support ranking; their count is capped separately by the Krylov depth.
type Basis struct {
	width        int
	maxStates    int
	snapshotCap  int
	supportFloor float64
	support      map[uint64]float64
	snapshots    []*quantum.StateVector
	log          zerolog.Logger
}

// NewBasis creates an empty basis over a register of the given width.
// maxStates bounds the sampled configurations, snapshotCap the snapshot
// ring; supportFloor drops distribution entries below that shot fraction.
func NewBasis(width, maxStates, snapshotCap int, supportFloor float64, log zerolog.Logger) *Basis {
	return &Basis{
		width:        width,
		maxStates:    maxStates,
		snapshotCap:  snapshotCap,
		supportFloor: supportFloor,
		support:      make(map[uint64]float64),
		log:          log.With().Str("component", "subspace_basis").Logger(),
	}
}

// Width returns the register width the basis interprets bitstrings against.
func (b *Basis) Width() int { return b.width }

// Accumulate folds a record's distribution into the basis. Each bitstring's
// support grows by its shot mass; once the configuration count exceeds the
// cap, the lowest-support entries are evicted.
func (b *Basis) Accumulate(rec *domain.MeasurementRecord) error {
	dist := rec.Distribution()
	if dist == nil {
		return nil
	}
	shots := float64(rec.Shots)
	if shots <= 0 {
		shots = 1
	}
	for label, w := range dist {
		if w < b.supportFloor {
			continue
		}
		if len(label) != b.width {
			return fmt.Errorf("bitstring %q does not fit a %d-qubit basis", label, b.width)
		}
		bits, err := quantum.ParseBitstring(label)
		if err != nil {
			return err
		}
		b.support[bits] += w * shots
	}
	b.evict()
	return nil
}

func (b *Basis) evict() {
	if b.maxStates <= 0 || len(b.support) <= b.maxStates {
		return
	}
	configs := b.Configurations()
	for _, c := range configs[b.maxStates:] {
		delete(b.support, c.Bits)
	}
	b.log.Debug().
		Int("evicted", len(configs)-b.maxStates).
		Int("kept", b.maxStates).
		Msg("Basis truncated to highest-support configurations")
}

// AddSnapshot appends an ansatz statevector to the snapshot ring, dropping
// the oldest entry when the ring is full. A zero cap disables snapshots.
func (b *Basis) AddSnapshot(state *quantum.StateVector) error {
	if state.NumQubits() != b.width {
		return fmt.Errorf("snapshot width %d does not match the %d-qubit basis", state.NumQubits(), b.width)
	}
	if b.snapshotCap <= 0 {
		return nil
	}
	b.snapshots = append(b.snapshots, state)
	if len(b.snapshots) > b.snapshotCap {
		b.snapshots = b.snapshots[len(b.snapshots)-b.snapshotCap:]
	}
	return nil
}

// Configurations returns the sampled configurations sorted by descending
// support, ties broken by ascending basis-state index.
func (b *Basis) Configurations() []Configuration {
	out := make([]Configuration, 0, len(b.support))
	for bits, s := range b.support {
		out = append(out, Configuration{Bits: bits, Support: s})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Support != out[j].Support {
			return out[i].Support > out[j].Support
		}
		return out[i].Bits < out[j].Bits
	})
	return out
}

// Snapshots returns the snapshot ring, oldest first.
func (b *Basis) Snapshots() []*quantum.StateVector {
	return append([]*quantum.StateVector(nil), b.snapshots...)
}

// Size returns the total span dimension: configurations plus snapshots.
func (b *Basis) Size() int {
	return len(b.support) + len(b.snapshots)
}
