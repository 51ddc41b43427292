package solver

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/qerplab/qerp/internal/domain"
	"github.com/qerplab/qerp/internal/modules/adapt"
	"github.com/qerplab/qerp/internal/modules/mitigation"
	"github.com/qerplab/qerp/internal/quantum"
)

// EnergySample is one fully processed energy measurement of a circuit.
type EnergySample struct {
	// Raw is the least-noisy estimate before any mitigation.
	Raw float64

	// Mitigated is the pipeline output with variance propagated through the
	// extrapolation fit.
	Mitigated domain.Expectation

	Flags []domain.QualityFlag
}

// Evaluator measures observables through the executor and the mitigation
// pipeline. Expectation estimates fan out over the configured noise scales
// concurrently and fuse through zero-noise extrapolation; shot histograms
// run at the native scale only, where the histogram stages apply.
type Evaluator struct {
	executor domain.Executor
	scaled   []scaledExecutor
	pipeline *mitigation.Pipeline
	shots    int
	seed     int64
	log      zerolog.Logger
}

var _ adapt.ObservableEvaluator = (*Evaluator)(nil)

type scaledExecutor struct {
	scale float64
	exec  domain.Executor
}

// NewEvaluator derives one executor per noise scale. Scales beyond the
// native 1.0 need a NoiseScaler; a backend that cannot amplify its noise
// keeps only the native scale and extrapolation degrades to the
// insufficient-scale-points flag.
func NewEvaluator(exec domain.Executor, pipeline *mitigation.Pipeline, scales []float64, shots int, seed int64, log zerolog.Logger) *Evaluator {
	e := &Evaluator{
		executor: exec,
		pipeline: pipeline,
		shots:    shots,
		seed:     seed,
		log:      log.With().Str("component", "solver_evaluator").Logger(),
	}

	scaler, canScale := exec.(domain.NoiseScaler)
	for _, scale := range scales {
		if scale == 1.0 {
			e.scaled = append(e.scaled, scaledExecutor{scale: scale, exec: exec})
			continue
		}
		if !canScale {
			continue
		}
		e.scaled = append(e.scaled, scaledExecutor{scale: scale, exec: scaler.WithNoiseScale(scale)})
	}
	if dropped := len(scales) - len(e.scaled); dropped > 0 {
		e.log.Warn().
			Str("backend", exec.Name()).
			Int("dropped_scales", dropped).
			Msg("Backend cannot amplify noise, keeping native scale only")
	}
	if len(e.scaled) == 0 {
		e.scaled = []scaledExecutor{{scale: 1.0, exec: exec}}
	}
	return e
}

// Sample estimates obs on the state c prepares at every noise scale and
// fuses the estimates through the pipeline. Scale executions run
// concurrently and are collected back in scale order before extrapolation.
func (e *Evaluator) Sample(ctx context.Context, c quantum.Circuit, obs quantum.Operator) (*EnergySample, error) {
	records := make([]*domain.MeasurementRecord, len(e.scaled))
	errs := make([]error, len(e.scaled))

	var wg sync.WaitGroup
	for i := range e.scaled {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			se := e.scaled[i]
			est, err := se.exec.Expectation(ctx, c, obs)
			if err != nil {
				errs[i] = fmt.Errorf("expectation at noise scale %v: %w", se.scale, err)
				return
			}
			rec := domain.NewRawRecord(c.Fingerprint(), se.exec.Name(), est.Shots, e.seed, se.scale)
			rec.Expectation = &est
			records[i] = rec
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	raw := records[0]
	for _, r := range records[1:] {
		if r.NoiseScale < raw.NoiseScale {
			raw = r
		}
	}
	rawValue := raw.Expectation.Value

	mitigated, err := e.pipeline.Extrapolate(records)
	if err != nil {
		return nil, err
	}
	if mitigated.Expectation == nil {
		return nil, fmt.Errorf("mitigation dropped the expectation estimate")
	}

	return &EnergySample{
		Raw:       rawValue,
		Mitigated: *mitigated.Expectation,
		Flags:     append([]domain.QualityFlag(nil), mitigated.Flags...),
	}, nil
}

// EvaluateObservable implements adapt.ObservableEvaluator, so operator
// scoring and parameter optimization see the same mitigated estimates the
// convergence decision does.
func (e *Evaluator) EvaluateObservable(ctx context.Context, c quantum.Circuit, obs quantum.Operator) (domain.Expectation, error) {
	sample, err := e.Sample(ctx, c, obs)
	if err != nil {
		return domain.Expectation{}, err
	}
	return sample.Mitigated, nil
}

// Histogram samples the circuit at the native noise scale and runs the
// record through the histogram stages.
func (e *Evaluator) Histogram(ctx context.Context, c quantum.Circuit) (*domain.MeasurementRecord, error) {
	rec, err := e.executor.Run(ctx, c, e.shots)
	if err != nil {
		return nil, err
	}
	return e.pipeline.Process(rec)
}
