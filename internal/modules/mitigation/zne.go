package mitigation

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"github.com/qerplab/qerp/internal/domain"
)

// ZNEStage extrapolates an expectation value to zero noise from estimates of
// the same observable taken at amplified noise scales. The record's own
// expectation plus its attached scale points form the sample; a polynomial
// least-squares fit of value against scale, evaluated at scale zero, becomes
// the new expectation, with shot variance propagated through the fit
// weights. Fewer than two distinct scales flag the record and pass the
// least-noisy estimate through unmodified.
type ZNEStage struct {
	maxDegree int
	log       zerolog.Logger
}

// NewZNEStage creates the zero-noise extrapolation stage.
func NewZNEStage(maxDegree int, log zerolog.Logger) *ZNEStage {
	return &ZNEStage{maxDegree: maxDegree, log: log}
}

// Name implements Stage.
func (s *ZNEStage) Name() string { return "zne" }

// Apply implements Stage. Histogram-only records pass through untouched.
func (s *ZNEStage) Apply(rec *domain.MeasurementRecord) (*domain.MeasurementRecord, error) {
	if rec.HasStatus(domain.StatusZNEExtrapolated) {
		return rec, nil
	}
	if rec.Expectation == nil {
		if len(rec.ScalePoints) > 0 {
			return nil, fmt.Errorf("record carries %d scale points but no base expectation", len(rec.ScalePoints))
		}
		return rec, nil
	}

	points := make([]domain.ScalePoint, 0, len(rec.ScalePoints)+1)
	points = append(points, domain.ScalePoint{
		Scale:    rec.NoiseScale,
		Value:    rec.Expectation.Value,
		Variance: rec.Expectation.Variance,
	})
	points = append(points, rec.ScalePoints...)
	sort.Slice(points, func(i, j int) bool { return points[i].Scale < points[j].Scale })

	distinct := 1
	for i := 1; i < len(points); i++ {
		if points[i].Scale != points[i-1].Scale {
			distinct++
		}
	}

	out := rec.Clone()
	out.ScalePoints = points
	if distinct < 2 {
		out.AddFlag(domain.FlagInsufficientScalePoints)
		out.AddStatus(domain.StatusZNEExtrapolated)
		s.log.Warn().
			Int("scale_points", len(points)).
			Msg("Not enough noise scales for extrapolation")
		return out, nil
	}

	degree := s.maxDegree
	if degree > distinct-1 {
		degree = distinct - 1
	}

	value, variance, err := fitAtZero(points, degree)
	if err != nil {
		out.AddFlag(domain.FlagInsufficientScalePoints)
		out.AddStatus(domain.StatusZNEExtrapolated)
		s.log.Warn().
			Err(err).
			Int("degree", degree).
			Msg("Extrapolation fit is degenerate, keeping least-noisy estimate")
		return out, nil
	}

	out.Expectation = &domain.Expectation{
		Value:    value,
		Variance: variance,
		Shots:    rec.Expectation.Shots,
	}
	out.AddStatus(domain.StatusZNEExtrapolated)
	s.log.Debug().
		Int("degree", degree).
		Int("scale_points", len(points)).
		Float64("value", value).
		Msg("Zero-noise extrapolation applied")
	return out, nil
}

// fitAtZero fits value against scale with a polynomial of the given degree
// and returns the fit evaluated at scale zero. The zero-scale prediction is
// a fixed linear combination of the samples, so its variance is the same
// combination applied to the per-sample variances, squared.
func fitAtZero(points []domain.ScalePoint, degree int) (value, variance float64, err error) {
	n := len(points)
	cols := degree + 1

	v := mat.NewDense(n, cols, nil)
	for i, pt := range points {
		pow := 1.0
		for k := 0; k < cols; k++ {
			v.Set(i, k, pow)
			pow *= pt.Scale
		}
	}

	var gram mat.Dense
	gram.Mul(v.T(), v)
	var inv mat.Dense
	if err := inv.Inverse(&gram); err != nil {
		return 0, 0, fmt.Errorf("normal equations are singular: %w", err)
	}
	var coeffs mat.Dense
	coeffs.Mul(&inv, v.T())

	for i, pt := range points {
		w := coeffs.At(0, i)
		value += w * pt.Value
		variance += w * w * pt.Variance
	}
	return value, variance, nil
}
