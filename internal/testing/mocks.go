package testing

import (
	"context"
	"math/rand"
	"sync"

	"github.com/qerplab/qerp/internal/domain"
	"github.com/qerplab/qerp/internal/quantum"
)

// MockExecutor is a mock implementation of domain.Executor for testing. By
// default it evolves circuits on the ideal statevector simulator and returns
// exact expectations and seeded histograms, so tests against it behave like
// a perfect backend. Fixed responses, errors and a linear noise bias can be
// injected to exercise failure and mitigation paths.
type MockExecutor struct {
	mu               sync.Mutex
	name             string
	seed             int64
	err              error
	fixedCounts      map[string]int
	fixedExpectation *domain.Expectation
	noiseBias        float64
	variance         float64
	runCalls         int
	expectationCalls int
	circuits         []quantum.Circuit
}

// NewMockExecutor creates a new mock executor
func NewMockExecutor() *MockExecutor {
	return &MockExecutor{
		name:     "mock",
		seed:     1,
		variance: 1e-6,
	}
}

// SetName sets the backend name the mock reports
func (m *MockExecutor) SetName(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.name = name
}

// SetError sets the error to return from Run and Expectation
func (m *MockExecutor) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetCounts sets a fixed histogram to return from every Run call
func (m *MockExecutor) SetCounts(counts map[string]int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fixedCounts = counts
}

// SetExpectation sets a fixed estimate to return from every Expectation call
func (m *MockExecutor) SetExpectation(value, variance float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fixedExpectation = &domain.Expectation{Value: value, Variance: variance}
}

// SetNoiseBias makes computed expectations come back shifted by bias×scale,
// so extrapolation to scale zero recovers the exact value.
func (m *MockExecutor) SetNoiseBias(bias float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.noiseBias = bias
}

// SetVariance sets the variance reported with computed expectations
func (m *MockExecutor) SetVariance(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.variance = v
}

// RunCalls returns how many times Run was invoked, across noise scales
func (m *MockExecutor) RunCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runCalls
}

// ExpectationCalls returns how many times Expectation was invoked
func (m *MockExecutor) ExpectationCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expectationCalls
}

// Circuits returns the circuits submitted so far, in order
func (m *MockExecutor) Circuits() []quantum.Circuit {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]quantum.Circuit, len(m.circuits))
	copy(out, m.circuits)
	return out
}

// Name returns the configured backend name
func (m *MockExecutor) Name() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.name
}

// Run executes the circuit at native noise scale
func (m *MockExecutor) Run(ctx context.Context, c quantum.Circuit, shots int) (*domain.MeasurementRecord, error) {
	return m.runAt(ctx, c, shots, 1)
}

// Expectation estimates the observable at native noise scale
func (m *MockExecutor) Expectation(ctx context.Context, c quantum.Circuit, obs quantum.Operator) (domain.Expectation, error) {
	return m.expectationAt(ctx, c, obs, 1)
}

// WithNoiseScale returns a derived executor whose results carry the given
// noise scale. Call counts and injected state stay shared with the parent.
func (m *MockExecutor) WithNoiseScale(factor float64) domain.Executor {
	return &scaledMockExecutor{parent: m, scale: factor}
}

// PrepareState evolves the circuit exactly
func (m *MockExecutor) PrepareState(c quantum.Circuit) (*quantum.StateVector, error) {
	m.mu.Lock()
	err := m.err
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return quantum.Evolve(c)
}

func (m *MockExecutor) runAt(ctx context.Context, c quantum.Circuit, shots int, scale float64) (*domain.MeasurementRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.runCalls++
	m.circuits = append(m.circuits, c.Clone())

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.err != nil {
		return nil, m.err
	}

	rec := domain.NewRawRecord(c.Fingerprint(), m.name, shots, m.seed, scale)
	if m.fixedCounts != nil {
		rec.Counts = make(map[string]int, len(m.fixedCounts))
		for k, v := range m.fixedCounts {
			rec.Counts[k] = v
		}
		return rec, nil
	}

	state, err := quantum.Evolve(c)
	if err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(m.seed))
	rec.Counts = make(map[string]int)
	for bits, count := range state.Sample(rng, shots) {
		rec.Counts[quantum.BitstringLabel(bits, c.NumQubits)] = count
	}
	return rec, nil
}

func (m *MockExecutor) expectationAt(ctx context.Context, c quantum.Circuit, obs quantum.Operator, scale float64) (domain.Expectation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.expectationCalls++
	m.circuits = append(m.circuits, c.Clone())

	if err := ctx.Err(); err != nil {
		return domain.Expectation{}, err
	}
	if m.err != nil {
		return domain.Expectation{}, m.err
	}
	if m.fixedExpectation != nil {
		return *m.fixedExpectation, nil
	}

	state, err := quantum.Evolve(c)
	if err != nil {
		return domain.Expectation{}, err
	}
	value := real(state.Expectation(obs)) + m.noiseBias*scale
	return domain.Expectation{Value: value, Variance: m.variance, Shots: 4096}, nil
}

// scaledMockExecutor is the view of a MockExecutor at a non-native noise
// scale, handed out by WithNoiseScale.
type scaledMockExecutor struct {
	parent *MockExecutor
	scale  float64
}

func (s *scaledMockExecutor) Name() string { return s.parent.Name() }

func (s *scaledMockExecutor) Run(ctx context.Context, c quantum.Circuit, shots int) (*domain.MeasurementRecord, error) {
	return s.parent.runAt(ctx, c, shots, s.scale)
}

func (s *scaledMockExecutor) Expectation(ctx context.Context, c quantum.Circuit, obs quantum.Operator) (domain.Expectation, error) {
	return s.parent.expectationAt(ctx, c, obs, s.scale)
}

func (s *scaledMockExecutor) WithNoiseScale(factor float64) domain.Executor {
	return &scaledMockExecutor{parent: s.parent, scale: factor}
}
