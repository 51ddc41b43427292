package scheduler

import (
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qerplab/qerp/internal/events"
)

type stubJob struct {
	name string
	err  error
	runs int
}

func (j *stubJob) Run() error {
	j.runs++
	return j.err
}

func (j *stubJob) Name() string {
	return j.name
}

func TestSchedulerEmitsJobLifecycle(t *testing.T) {
	bus := events.NewBus(zerolog.Nop())
	sched := New(bus, zerolog.Nop())

	var started, completed *events.Event
	bus.Subscribe(events.JobStarted, func(e *events.Event) { started = e })
	bus.Subscribe(events.JobCompleted, func(e *events.Event) { completed = e })

	job := &stubJob{name: "test_job"}
	require.NoError(t, sched.RunNow(job))

	assert.Equal(t, 1, job.runs)

	require.NotNil(t, started)
	assert.Equal(t, "test_job", started.Data["job_name"])
	assert.Equal(t, "started", started.Data["status"])

	require.NotNil(t, completed)
	assert.Equal(t, "test_job", completed.Data["job_name"])
	assert.Equal(t, "completed", completed.Data["status"])
}

func TestSchedulerEmitsJobFailed(t *testing.T) {
	bus := events.NewBus(zerolog.Nop())
	sched := New(bus, zerolog.Nop())

	var failed *events.Event
	bus.Subscribe(events.JobFailed, func(e *events.Event) { failed = e })

	job := &stubJob{name: "flaky_job", err: fmt.Errorf("disk full")}
	err := sched.RunNow(job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	require.NotNil(t, failed)
	assert.Equal(t, "flaky_job", failed.Data["job_name"])
	assert.Equal(t, "failed", failed.Data["status"])
	assert.Equal(t, "disk full", failed.Data["error"])
}

func TestSchedulerRejectsInvalidSchedule(t *testing.T) {
	sched := New(events.NewBus(zerolog.Nop()), zerolog.Nop())

	err := sched.AddJob("not a cron expression", &stubJob{name: "bad"})
	assert.Error(t, err)
}

func TestSchedulerAcceptsStandardSchedules(t *testing.T) {
	sched := New(events.NewBus(zerolog.Nop()), zerolog.Nop())

	schedules := []string{
		"0 0 2 * * *",
		"@hourly",
		"@every 30s",
	}
	for _, schedule := range schedules {
		assert.NoError(t, sched.AddJob(schedule, &stubJob{name: "ok"}), schedule)
	}
}

func TestSchedulerStartStop(t *testing.T) {
	sched := New(events.NewBus(zerolog.Nop()), zerolog.Nop())
	require.NoError(t, sched.AddJob("@hourly", &stubJob{name: "idle"}))

	sched.Start()
	sched.Stop()
}
