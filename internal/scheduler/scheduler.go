// Package scheduler runs periodic maintenance jobs on cron schedules and
// publishes job lifecycle events on the bus so connected clients can watch
// housekeeping progress.
package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/qerplab/qerp/internal/events"
)

// Job represents a scheduled job
type Job interface {
	Run() error
	Name() string
}

// Scheduler manages background jobs
type Scheduler struct {
	cron *cron.Cron
	bus  *events.Bus
	log  zerolog.Logger
}

// New creates a new scheduler
func New(bus *events.Bus, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithSeconds()),
		bus:  bus,
		log:  log.With().Str("component", "scheduler").Logger(),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("Scheduler started")
}

// Stop stops the scheduler and waits for running jobs to finish
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// AddJob registers a new job with cron schedule
// Schedule examples:
//   - "0 */5 * * * *"      - Every 5 minutes
//   - "@hourly"            - Every hour
//   - "0 0 2 * * *"        - 2 AM daily
//   - "@every 30s"         - Every 30 seconds
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		s.runJob(job)
	})
	if err != nil {
		return err
	}

	s.log.Info().
		Str("schedule", schedule).
		Str("job", job.Name()).
		Msg("Job registered")

	return nil
}

// RunNow executes a job immediately (outside schedule)
func (s *Scheduler) RunNow(job Job) error {
	s.log.Info().Str("job", job.Name()).Msg("Running job immediately")
	return s.runJob(job)
}

// runJob executes one job and emits its lifecycle on the bus.
func (s *Scheduler) runJob(job Job) error {
	s.log.Debug().Str("job", job.Name()).Msg("Running job")
	s.emit(events.JobStarted, job, "started", 0, nil)

	startTime := time.Now()
	err := job.Run()
	duration := time.Since(startTime)

	if err != nil {
		s.log.Error().
			Err(err).
			Str("job", job.Name()).
			Msg("Job failed")
		s.emit(events.JobFailed, job, "failed", duration, err)
		return err
	}

	s.log.Debug().
		Str("job", job.Name()).
		Dur("duration_ms", duration).
		Msg("Job completed")
	s.emit(events.JobCompleted, job, "completed", duration, nil)

	return nil
}

func (s *Scheduler) emit(eventType events.EventType, job Job, status string, duration time.Duration, err error) {
	data := map[string]interface{}{
		"job_name":  job.Name(),
		"status":    status,
		"timestamp": time.Now().UTC(),
	}
	if duration > 0 {
		data["duration"] = duration.Seconds()
	}
	if err != nil {
		data["error"] = err.Error()
	}
	s.bus.Emit(eventType, "scheduler", data)
}
