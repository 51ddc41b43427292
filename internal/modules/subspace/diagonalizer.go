package subspace

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"github.com/qerplab/qerp/internal/config"
	"github.com/qerplab/qerp/internal/domain"
	"github.com/qerplab/qerp/internal/quantum"
)

// Estimate is the outcome of one subspace diagonalization.
type Estimate struct {
	// Energy is the lowest generalized eigenvalue. The projected operator
	// already carries the core-energy identity term, so this is the total
	// energy.
	Energy float64

	// Spectrum holds all eigenvalues of the projected problem in ascending
	// order; entries past the first approximate excited states.
	Spectrum []float64

	BasisSize int
	Flags     []domain.QualityFlag
}

// Diagonalizer solves the projected generalized eigenproblem H c = E S c.
// Matrix elements are taken in the real span of the basis: molecular
// Hamiltonians built from real integrals have real representations, and the
// ansatz evolutions generated by the excitation pool stay real, so the real
// projection loses nothing and remains variational.
type Diagonalizer struct {
	overlapEps   float64
	minComponent float64
	log          zerolog.Logger
}

// NewDiagonalizer creates a diagonalizer with the configured overlap
// regularization threshold and eigenvector stability floor.
func NewDiagonalizer(cfg *config.SubspaceConfig, log zerolog.Logger) *Diagonalizer {
	return &Diagonalizer{
		overlapEps:   cfg.RegularizationEps,
		minComponent: cfg.MinBasisSupport,
		log:          log.With().Str("component", "subspace_diagonalizer").Logger(),
	}
}

// Diagonalize projects h onto the basis span and solves the generalized
// eigenproblem. When the overlap matrix is well conditioned the problem is
// whitened through its Cholesky factor; a (near-)singular overlap switches
// to a spectrally regularized pseudo-inverse and flags the estimate. If the
// ground eigenvector spreads so thin that no component reaches the stability
// floor, the previous estimate is carried forward with an instability flag.
func (d *Diagonalizer) Diagonalize(basis *Basis, h quantum.Operator, previous *Estimate) (*Estimate, error) {
	if h.NumQubits != basis.Width() {
		return nil, fmt.Errorf("operator acts on %d qubits but the basis spans a %d-qubit register", h.NumQubits, basis.Width())
	}
	configs := basis.Configurations()
	snapshots := basis.Snapshots()
	n := len(configs) + len(snapshots)
	if n == 0 {
		return nil, fmt.Errorf("subspace basis is empty")
	}

	heff, overlap := assemble(configs, snapshots, h)
	est := &Estimate{BasisSize: n}

	var sEig mat.EigenSym
	if !sEig.Factorize(overlap, true) {
		return nil, fmt.Errorf("overlap matrix eigendecomposition failed for a %d-state basis", n)
	}
	sVals := sEig.Values(nil)
	sMin, sMax := sVals[0], sVals[len(sVals)-1]
	if sMax <= 0 {
		return nil, fmt.Errorf("overlap matrix of a %d-state basis is not positive", n)
	}

	var spectrum, ground []float64
	var err error
	if sMin < d.overlapEps*sMax {
		est.Flags = append(est.Flags, domain.FlagSubspaceRankDeficient)
		d.log.Warn().
			Float64("overlap_min", sMin).
			Float64("overlap_max", sMax).
			Int("basis_size", n).
			Msg("Overlap matrix is rank deficient, regularizing")
		spectrum, ground, err = solveRegularized(heff, &sEig, d.overlapEps*sMax)
	} else {
		spectrum, ground, err = solveWhitened(heff, overlap)
		if err != nil {
			// Cholesky can still fail right at the conditioning edge.
			est.Flags = append(est.Flags, domain.FlagSubspaceRankDeficient)
			d.log.Warn().Err(err).Int("basis_size", n).Msg("Whitened solve failed, regularizing")
			spectrum, ground, err = solveRegularized(heff, &sEig, d.overlapEps*sMax)
		}
	}
	if err != nil {
		return nil, err
	}

	maxComponent := 0.0
	for _, c := range ground {
		if a := math.Abs(c); a > maxComponent {
			maxComponent = a
		}
	}
	if maxComponent < d.minComponent {
		est.Flags = append(est.Flags, domain.FlagUnstableSubspace)
		if previous != nil {
			d.log.Warn().
				Float64("max_component", maxComponent).
				Float64("previous_energy", previous.Energy).
				Msg("Ground eigenvector has no stable support, keeping previous estimate")
			est.Energy = previous.Energy
			est.Spectrum = append([]float64(nil), previous.Spectrum...)
			return est, nil
		}
		d.log.Warn().
			Float64("max_component", maxComponent).
			Msg("Ground eigenvector has no stable support and no previous estimate exists")
	}

	est.Energy = spectrum[0]
	est.Spectrum = spectrum
	d.log.Debug().
		Float64("energy", est.Energy).
		Int("basis_size", n).
		Int("configurations", len(configs)).
		Int("snapshots", len(snapshots)).
		Msg("Subspace diagonalized")
	return est, nil
}

// assemble builds the projected Hamiltonian and overlap matrices. Rows and
// columns list sampled configurations first, then snapshots. Configuration
// pairs come straight from operator matrix elements; snapshot rows go
// through a single operator application each.
func assemble(configs []Configuration, snapshots []*quantum.StateVector, h quantum.Operator) (*mat.SymDense, *mat.SymDense) {
	m := len(configs)
	n := m + len(snapshots)
	heff := mat.NewSymDense(n, nil)
	overlap := mat.NewSymDense(n, nil)

	applied := make([]*quantum.StateVector, len(snapshots))
	for j, s := range snapshots {
		applied[j] = s.ApplyOperator(h)
	}

	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			var hv, sv float64
			switch {
			case i < m && j < m:
				hv = real(h.MatrixElement(configs[i].Bits, configs[j].Bits))
				if i == j {
					sv = 1
				}
			case i < m:
				hv = real(applied[j-m].Amp(configs[i].Bits))
				sv = real(snapshots[j-m].Amp(configs[i].Bits))
			default:
				hv = real(snapshots[i-m].InnerProduct(applied[j-m]))
				sv = real(snapshots[i-m].InnerProduct(snapshots[j-m]))
			}
			heff.SetSym(i, j, hv)
			overlap.SetSym(i, j, sv)
		}
	}
	return heff, overlap
}

// solveWhitened solves H c = E S c through the Cholesky factor of S:
// W = L⁻¹ H L⁻ᵀ shares eigenvalues with the pencil, and c = L⁻ᵀ u maps
// eigenvectors back. Returns the ascending spectrum and the normalized
// ground eigenvector in the original basis.
func solveWhitened(heff, overlap *mat.SymDense) ([]float64, []float64, error) {
	n := overlap.SymmetricDim()
	var chol mat.Cholesky
	if !chol.Factorize(overlap) {
		return nil, nil, fmt.Errorf("overlap matrix is not positive definite")
	}
	var l mat.TriDense
	chol.LTo(&l)
	var linv mat.Dense
	if err := linv.Inverse(&l); err != nil {
		return nil, nil, fmt.Errorf("failed to invert overlap Cholesky factor: %w", err)
	}

	var tmp, w mat.Dense
	tmp.Mul(&linv, heff)
	w.Mul(&tmp, linv.T())

	var eig mat.EigenSym
	if !eig.Factorize(symmetrize(&w), true) {
		return nil, nil, fmt.Errorf("whitened eigendecomposition failed")
	}
	spectrum := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	ground := make([]float64, n)
	for i := 0; i < n; i++ {
		for k := 0; k < n; k++ {
			ground[i] += linv.At(k, i) * vecs.At(k, 0)
		}
	}
	return spectrum, normalize(ground), nil
}

// solveRegularized handles a rank-deficient overlap: eigenvalues below the
// floor are raised to it, and T = Q diag(1/sqrt(lambda)) Qᵀ whitens the
// problem. Near-null directions are damped rather than dropped, so the
// retained span still contains every sampled configuration.
func solveRegularized(heff *mat.SymDense, sEig *mat.EigenSym, floor float64) ([]float64, []float64, error) {
	vals := sEig.Values(nil)
	n := len(vals)
	var q mat.Dense
	sEig.VectorsTo(&q)

	scaled := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for k := 0; k < n; k++ {
			lambda := vals[k]
			if lambda < floor {
				lambda = floor
			}
			scaled.Set(i, k, q.At(i, k)/math.Sqrt(lambda))
		}
	}
	var t mat.Dense
	t.Mul(scaled, q.T())

	var tmp, w mat.Dense
	tmp.Mul(&t, heff)
	w.Mul(&tmp, &t)

	var eig mat.EigenSym
	if !eig.Factorize(symmetrize(&w), true) {
		return nil, nil, fmt.Errorf("regularized eigendecomposition failed")
	}
	spectrum := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	ground := make([]float64, n)
	for i := 0; i < n; i++ {
		for k := 0; k < n; k++ {
			ground[i] += t.At(i, k) * vecs.At(k, 0)
		}
	}
	return spectrum, normalize(ground), nil
}

func symmetrize(a *mat.Dense) *mat.SymDense {
	r, _ := a.Dims()
	s := mat.NewSymDense(r, nil)
	for i := 0; i < r; i++ {
		for j := i; j < r; j++ {
			s.SetSym(i, j, 0.5*(a.At(i, j)+a.At(j, i)))
		}
	}
	return s
}

func normalize(v []float64) []float64 {
	var sum float64
	for _, c := range v {
		sum += c * c
	}
	if sum <= 0 {
		return v
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] *= inv
	}
	return v
}
