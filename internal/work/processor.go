// Package work drains the run queue. Queued runs are claimed oldest first
// and executed through the convergence controller, with independent runs in
// flight up to the configured bound. Each run is sequential internally and
// shares nothing mutable with its neighbors.
package work

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/qerplab/qerp/internal/config"
	"github.com/qerplab/qerp/internal/domain"
	"github.com/qerplab/qerp/internal/events"
	"github.com/qerplab/qerp/internal/modules/mitigation"
	"github.com/qerplab/qerp/internal/modules/results"
	"github.com/qerplab/qerp/internal/modules/solver"
)

// ExecutorFactory builds the execution backend for a resolved run config.
// Overridable in tests.
type ExecutorFactory func(rcfg domain.RunConfig) (domain.Executor, error)

// Processor is the run queue processor. Submissions and completions wake it
// through Trigger and the done channel; it claims queued runs until the
// concurrency bound is reached.
type Processor struct {
	results     *results.Service
	calibration mitigation.CalibrationSource
	bus         *events.Bus
	cfg         *config.Config
	newExecutor ExecutorFactory

	trigger chan struct{}
	done    chan struct{}
	stop    chan struct{}
	stopped chan struct{}

	baseCtx context.Context
	cancel  context.CancelFunc

	mu       sync.Mutex
	inFlight map[string]bool
	wg       sync.WaitGroup

	log zerolog.Logger
}

// NewProcessor creates a run processor.
func NewProcessor(res *results.Service, calib mitigation.CalibrationSource, bus *events.Bus, cfg *config.Config, log zerolog.Logger) *Processor {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Processor{
		results:     res,
		calibration: calib,
		bus:         bus,
		cfg:         cfg,
		trigger:     make(chan struct{}, 1),
		done:        make(chan struct{}, 1),
		stop:        make(chan struct{}),
		stopped:     make(chan struct{}),
		baseCtx:     ctx,
		cancel:      cancel,
		inFlight:    make(map[string]bool),
		log:         log.With().Str("component", "work").Logger(),
	}
	p.newExecutor = p.buildExecutor
	return p
}

// SetExecutorFactory replaces backend construction. Tests inject
// deterministic executors here.
func (p *Processor) SetExecutorFactory(fn ExecutorFactory) {
	p.newExecutor = fn
}

// Run starts the processor loop. This blocks until Stop is called.
func (p *Processor) Run() {
	defer close(p.stopped)

	for {
		select {
		case <-p.stop:
			return
		case <-p.trigger:
			p.dispatch()
		case <-p.done:
			p.dispatch()
		}
	}
}

// Stop shuts the processor down: the dispatch loop exits, in-flight runs are
// canceled and awaited. Canceled runs are marked failed so they do not stay
// in the running state.
func (p *Processor) Stop() {
	close(p.stop)
	<-p.stopped
	p.cancel()
	p.wg.Wait()
}

// Trigger wakes the processor to check for queued work. Non-blocking, safe
// from any goroutine.
func (p *Processor) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// InFlight returns the ids of currently executing runs, sorted.
func (p *Processor) InFlight() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids := make([]string, 0, len(p.inFlight))
	for id := range p.inFlight {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Recover closes out runs a previous process left in the running state.
// The solver keeps no mid-run checkpoint, so an interrupted run cannot be
// resumed and is marked failed; queued runs are picked up as usual.
func (p *Processor) Recover() error {
	orphans, err := p.results.ListRunsByStatus(domain.RunStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to list interrupted runs: %w", err)
	}
	for i := range orphans {
		run := &orphans[i]
		if err := p.results.FailRun(run.ID, fmt.Errorf("interrupted by service restart")); err != nil {
			p.log.Error().Err(err).Str("run_id", run.ID).Msg("Failed to close out interrupted run")
			continue
		}
		p.emitRunStatus(run.ID, domain.RunStatusFailed, run.Config, "interrupted by service restart")
		p.log.Warn().Str("run_id", run.ID).Msg("Interrupted run marked failed")
	}

	queued, err := p.results.ListRunsByStatus(domain.RunStatusQueued)
	if err != nil {
		return fmt.Errorf("failed to list queued runs: %w", err)
	}
	if len(queued) > 0 {
		p.log.Info().Int("count", len(queued)).Msg("Queued runs resume in submission order")
	}
	p.Trigger()
	return nil
}

// dispatch claims queued runs until the concurrency bound is hit or the
// queue is empty.
func (p *Processor) dispatch() {
	for {
		if p.capacity() <= 0 {
			return
		}

		queued, err := p.results.ListRunsByStatus(domain.RunStatusQueued)
		if err != nil {
			p.log.Error().Err(err).Msg("Failed to list queued runs")
			return
		}

		var next *domain.Run
		p.mu.Lock()
		for i := range queued {
			if !p.inFlight[queued[i].ID] {
				next = &queued[i]
				break
			}
		}
		if next != nil {
			p.inFlight[next.ID] = true
		}
		p.mu.Unlock()

		if next == nil {
			return
		}
		p.launch(*next)
	}
}

func (p *Processor) capacity() int {
	bound := p.cfg.Solver.MaxConcurrentRuns
	if bound <= 0 {
		bound = 1
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return bound - len(p.inFlight)
}

// launch executes one claimed run on its own goroutine.
func (p *Processor) launch(run domain.Run) {
	p.wg.Add(1)
	go func() {
		defer func() {
			p.mu.Lock()
			delete(p.inFlight, run.ID)
			p.mu.Unlock()
			p.wg.Done()

			select {
			case p.done <- struct{}{}:
			default:
			}
		}()

		p.execute(p.baseCtx, &run)
	}()
}

// execute drives a single run from claimed to terminal.
func (p *Processor) execute(ctx context.Context, run *domain.Run) {
	log := p.log.With().Str("run_id", run.ID).Logger()

	if err := p.results.MarkStarted(run.ID); err != nil {
		log.Error().Err(err).Msg("Failed to mark run started")
		return
	}
	p.emitRunStatus(run.ID, domain.RunStatusRunning, run.Config, "")

	active, err := p.results.LoadActiveSpace(run.ID)
	if err != nil {
		p.failRun(run, err)
		return
	}

	rcfg := solver.ResolveRunConfig(run.Config, p.cfg)
	executor, err := p.newExecutor(rcfg)
	if err != nil {
		p.failRun(run, err)
		return
	}

	rc, err := solver.NewRunContext(run, active, executor, p.calibration, p.cfg, log)
	if err != nil {
		p.failRun(run, err)
		return
	}

	controller := solver.NewController(rc, p.cfg.Solver.EnergyWindow, log)
	controller.OnIteration(func(rec domain.IterationRecord) {
		if err := p.results.RecordIteration(run.ID, rec); err != nil {
			log.Error().Err(err).Int("iteration", rec.Iteration).Msg("Failed to persist iteration")
		}
		p.emitIteration(run.ID, rec)
	})

	result, err := controller.Solve(ctx)
	if err != nil {
		p.failRun(run, err)
		return
	}

	if err := p.results.CompleteRun(result); err != nil {
		p.failRun(run, err)
		return
	}
	p.emitRunStatus(run.ID, result.Status, run.Config, "")
}

func (p *Processor) failRun(run *domain.Run, runErr error) {
	if err := p.results.FailRun(run.ID, runErr); err != nil {
		p.log.Error().Err(err).Str("run_id", run.ID).Msg("Failed to mark run failed")
		return
	}
	p.emitRunStatus(run.ID, domain.RunStatusFailed, run.Config, runErr.Error())
}

func (p *Processor) emitRunStatus(runID string, status domain.RunStatus, rcfg domain.RunConfig, errMsg string) {
	eventType := events.RunStarted
	switch status {
	case domain.RunStatusQueued:
		eventType = events.RunQueued
	case domain.RunStatusConverged, domain.RunStatusMaxIterations:
		eventType = events.RunCompleted
	case domain.RunStatusFailed:
		eventType = events.RunFailed
	}

	data := map[string]interface{}{
		"run_id": runID,
		"status": string(status),
	}
	if rcfg.PathwayID != "" {
		data["pathway_id"] = rcfg.PathwayID
		data["image_index"] = rcfg.ImageIndex
	}
	if errMsg != "" {
		data["error"] = errMsg
	}
	p.bus.Emit(eventType, "work", data)
}

func (p *Processor) emitIteration(runID string, rec domain.IterationRecord) {
	data := map[string]interface{}{
		"run_id":         runID,
		"iteration":      rec.Iteration,
		"operator_label": rec.SelectedOperator,
		"score":          rec.Score,
		"energy":         rec.MitigatedEnergy,
		"basis_size":     rec.BasisSize,
		"ansatz_length":  len(rec.Parameters),
	}
	if rec.SubspaceEnergy != nil {
		data["subspace_energy"] = *rec.SubspaceEnergy
	}
	if len(rec.Flags) > 0 {
		flags := make([]string, len(rec.Flags))
		for i, f := range rec.Flags {
			flags[i] = string(f)
		}
		data["flags"] = flags
	}
	p.bus.Emit(events.IterationCompleted, "work", data)
}
