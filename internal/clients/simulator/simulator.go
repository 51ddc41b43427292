// Package simulator implements the in-process statevector executor. It
// evolves circuits exactly, samples histograms from the Born distribution
// and models hardware imperfection as a per-qubit readout flip channel whose
// strength multiplies under noise scaling, which is what zero-noise
// extrapolation folds against.
package simulator

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"sort"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/qerplab/qerp/internal/domain"
	"github.com/qerplab/qerp/internal/quantum"
)

// Amplitudes are complex128.
const bytesPerAmplitude = 16

// maxWidth caps the register before the byte estimate can overflow. The
// memory guard rejects anything realistic long before this.
const maxWidth = 34

// Config holds the per-run simulator settings.
type Config struct {
	// Shots used for expectation variance estimates and as the Run default.
	Shots int

	// Seed makes every sampling decision reproducible. Streams are derived
	// per circuit, so interleaved calls do not perturb each other.
	Seed int64

	// ReadoutError is the per-qubit flip probability at noise scale 1.
	// Zero gives an ideal machine.
	ReadoutError float64

	// MemoryCeilingMB bounds statevector allocation. Zero means only the
	// machine's available memory limits it.
	MemoryCeilingMB int
}

// Simulator is a deterministic statevector executor.
type Simulator struct {
	cfg   Config
	scale float64
	log   zerolog.Logger
}

var (
	_ domain.Executor      = (*Simulator)(nil)
	_ domain.NoiseScaler   = (*Simulator)(nil)
	_ domain.StateProvider = (*Simulator)(nil)
)

// New creates a simulator executor.
func New(cfg Config, log zerolog.Logger) *Simulator {
	if cfg.Shots <= 0 {
		cfg.Shots = 4096
	}
	return &Simulator{
		cfg:   cfg,
		scale: 1,
		log:   log.With().Str("client", "simulator").Logger(),
	}
}

// Name identifies the backend in records and logs.
func (s *Simulator) Name() string { return "simulator" }

// WithNoiseScale returns a view of the simulator whose readout channel is
// amplified by factor. Factors below 1 clamp to the native level.
func (s *Simulator) WithNoiseScale(factor float64) domain.Executor {
	if factor < 1 {
		factor = 1
	}
	scaled := *s
	scaled.scale = factor
	return &scaled
}

// Run evolves the circuit, samples the histogram and pushes every shot
// through the readout flip channel.
func (s *Simulator) Run(ctx context.Context, c quantum.Circuit, shots int) (*domain.MeasurementRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if shots <= 0 {
		shots = s.cfg.Shots
	}
	if err := s.checkMemory(c.NumQubits); err != nil {
		return nil, err
	}

	state, err := quantum.Evolve(c)
	if err != nil {
		return nil, err
	}

	r := s.rng(c)
	raw := state.Sample(r, shots)
	flip := s.flipProbability()

	// Fixed outcome order keeps the flip stream reproducible; map order
	// would reshuffle it between runs.
	outcomes := make([]uint64, 0, len(raw))
	for b := range raw {
		outcomes = append(outcomes, b)
	}
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i] < outcomes[j] })

	counts := make(map[string]int, len(raw))
	for _, bits := range outcomes {
		for i := 0; i < raw[bits]; i++ {
			out := bits
			if flip > 0 {
				for q := 0; q < c.NumQubits; q++ {
					if r.Float64() < flip {
						out ^= 1 << uint(q)
					}
				}
			}
			counts[quantum.BitstringLabel(out, c.NumQubits)]++
		}
	}

	rec := domain.NewRawRecord(c.Fingerprint(), s.Name(), shots, s.cfg.Seed, s.scale)
	rec.Counts = counts
	return rec, nil
}

// Expectation returns the exact expectation of the observable under the
// readout channel together with its finite-shot variance. Each weight-w
// Pauli expectation decays by (1−2p)^w, so the value is polynomial in the
// noise scale and extrapolation at scale zero recovers the ideal result.
func (s *Simulator) Expectation(ctx context.Context, c quantum.Circuit, obs quantum.Operator) (domain.Expectation, error) {
	if err := ctx.Err(); err != nil {
		return domain.Expectation{}, err
	}
	if err := s.checkMemory(c.NumQubits); err != nil {
		return domain.Expectation{}, err
	}

	state, err := quantum.Evolve(c)
	if err != nil {
		return domain.Expectation{}, err
	}

	damped := s.dampObservable(obs)
	value := real(state.Expectation(damped))
	second := real(state.Expectation(damped.Mul(damped)))
	variance := (second - value*value) / float64(s.cfg.Shots)
	if variance < 0 {
		variance = 0
	}
	return domain.Expectation{Value: value, Variance: variance, Shots: s.cfg.Shots}, nil
}

// PrepareState returns the exact statevector the circuit prepares, without
// the readout channel. Subspace snapshots want the ideal span.
func (s *Simulator) PrepareState(c quantum.Circuit) (*quantum.StateVector, error) {
	if err := s.checkMemory(c.NumQubits); err != nil {
		return nil, err
	}
	return quantum.Evolve(c)
}

func (s *Simulator) flipProbability() float64 {
	p := s.cfg.ReadoutError * s.scale
	if p < 0 {
		return 0
	}
	if p > 0.5 {
		return 0.5
	}
	return p
}

// dampObservable scales each term by (1−2p)^weight. Identity terms carry
// the core-energy offset and pass through untouched.
func (s *Simulator) dampObservable(obs quantum.Operator) quantum.Operator {
	p := s.flipProbability()
	if p == 0 {
		return obs
	}
	f := 1 - 2*p
	terms := make([]quantum.Term, 0, len(obs.Terms))
	for _, t := range obs.Terms {
		damp := math.Pow(f, float64(t.Pauli.Weight()))
		terms = append(terms, quantum.Term{Pauli: t.Pauli, Coeff: t.Coeff * complex(damp, 0)})
	}
	return quantum.FromTerms(obs.NumQubits, terms...)
}

// rng derives the per-circuit random stream from the configured seed and
// the circuit fingerprint.
func (s *Simulator) rng(c quantum.Circuit) *rand.Rand {
	h := fnv.New64a()
	h.Write([]byte(c.Fingerprint()))
	return rand.New(rand.NewSource(s.cfg.Seed ^ int64(h.Sum64())))
}

// checkMemory rejects statevectors that would exceed the configured ceiling
// or the machine's available memory.
func (s *Simulator) checkMemory(nQubits int) error {
	if nQubits > maxWidth {
		return fmt.Errorf("register width %d exceeds the simulator's %d-qubit ceiling", nQubits, maxWidth)
	}

	required := uint64(bytesPerAmplitude) << uint(nQubits)
	ceiling := uint64(s.cfg.MemoryCeilingMB) * 1024 * 1024
	if vm, err := mem.VirtualMemory(); err == nil {
		if ceiling == 0 || vm.Available < ceiling {
			ceiling = vm.Available
		}
	} else {
		s.log.Warn().Err(err).Msg("Cannot read available memory, using configured ceiling only")
	}

	if ceiling > 0 && required > ceiling {
		return fmt.Errorf("statevector for %d qubits needs %d MB, ceiling is %d MB",
			nQubits, required/(1024*1024), ceiling/(1024*1024))
	}
	return nil
}
