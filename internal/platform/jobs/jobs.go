// Package jobs runs recurring background work on a cron scheduler. A run of a
// job never overlaps the previous run of the same job, and shutdown waits for
// in-flight runs to finish instead of interrupting them.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is one unit of recurring work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// JobFunc adapts a function to Job.
type JobFunc struct {
	JobName string
	Fn      func(ctx context.Context) error
}

func (f JobFunc) Name() string { return f.JobName }
func (f JobFunc) Run(ctx context.Context) error { return f.Fn(ctx) }

var ErrInvalidInterval = errors.New("job interval must be positive")

// Supervisor owns the cron scheduler and the lifecycle of registered jobs.
type Supervisor struct {
	cron    *cron.Cron
	logger  zerolog.Logger
	startup []cron.Job
	wg      sync.WaitGroup

	// base is the context handed to job runs. It carries the values of the
	// context passed to Run but not its cancellation.
	base context.Context
}

func NewSupervisor(logger zerolog.Logger) *Supervisor {
	logger = logger.With().Str("component", "jobs").Logger()
	cl := cronLogger{logger: logger}
	return &Supervisor{
		cron:   cron.New(cron.WithLogger(cl), cron.WithChain(cron.SkipIfStillRunning(cl))),
		logger: logger,
		base:   context.Background(),
	}
}

// Every schedules job at a fixed interval. When runOnStart is true the job
// also runs once as soon as the supervisor starts.
func (s *Supervisor) Every(interval time.Duration, job Job, runOnStart bool) error {
	if interval <= 0 {
		return ErrInvalidInterval
	}
	id, err := s.cron.AddJob("@every "+interval.String(), cron.FuncJob(func() { s.runJob(job) }))
	if err != nil {
		return fmt.Errorf("schedule %s: %w", job.Name(), err)
	}
	if runOnStart {
		s.startup = append(s.startup, s.cron.Entry(id).WrappedJob)
	}
	s.logger.Info().Str("job", job.Name()).Dur("interval", interval).Msg("job scheduled")
	return nil
}

// Run starts the scheduler and blocks until ctx is cancelled, then stops
// scheduling and waits for running jobs to return.
func (s *Supervisor) Run(ctx context.Context) error {
	s.base = context.WithoutCancel(ctx)
	s.cron.Start()
	for _, j := range s.startup {
		s.wg.Add(1)
		go func(j cron.Job) {
			defer s.wg.Done()
			j.Run()
		}(j)
	}
	s.logger.Info().Int("jobs", len(s.cron.Entries())).Msg("job supervisor started")

	<-ctx.Done()

	s.logger.Info().Msg("job supervisor stopping")
	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.logger.Info().Msg("job supervisor stopped")
	return nil
}

// runJob executes one run. Errors and panics are logged and end only this run.
func (s *Supervisor) runJob(job Job) {
	log := s.logger.With().Str("job", job.Name()).Logger()
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("job panicked")
		}
	}()

	if err := job.Run(s.base); err != nil {
		log.Error().Err(err).Dur("duration", time.Since(start)).Msg("job run failed")
		return
	}
	log.Debug().Dur("duration", time.Since(start)).Msg("job run completed")
}

// cronLogger routes the scheduler's own messages to zerolog.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
