package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/pressridge/blogidx/internal/clock"
	"github.com/pressridge/blogidx/internal/config"
	idxerrors "github.com/pressridge/blogidx/internal/errors"
	"github.com/pressridge/blogidx/internal/pipeline"
)

const (
	// defaultLatenessTolerance bounds how late a missed one-shot still
	// fires on startup.
	defaultLatenessTolerance = time.Hour
	// dispatcherBackoff is the self-heal pause after a loop panic.
	dispatcherBackoff = 5 * time.Second
	// idleWake re-checks schedules even with no due job.
	idleWake = time.Minute
)

// Runner executes one pipeline run. Implemented by pipeline.Engine.
type Runner interface {
	Run(ctx context.Context, jobID string, cfg *config.Config) pipeline.Report
}

// Stats is the scheduler statistics snapshot.
type Stats struct {
	JobsExecuted     int64     `json:"jobs_executed"`
	JobsFailed       int64     `json:"jobs_failed"`
	JobsMissed       int64     `json:"jobs_missed"`
	LastExecution    time.Time `json:"last_execution,omitempty"`
	LastError        string    `json:"last_error,omitempty"`
	ActiveJobs       int       `json:"active_jobs"`
	SchedulerRunning bool      `json:"scheduler_running"`
}

// JobView is the read-only listing shape for one job.
type JobView struct {
	ID           string    `json:"id"`
	Trigger      string    `json:"trigger"`
	NextFireTime time.Time `json:"next_fire_time,omitempty"`
	LastFireTime time.Time `json:"last_fire_time,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
	Completed    bool      `json:"completed,omitempty"`
}

// Scheduler owns the job set and the dispatch loop. One instance is
// constructed at process start and torn down at shutdown.
type Scheduler struct {
	store  *JobStore
	runner Runner
	clk    clock.Clock
	logger *slog.Logger

	mu     sync.Mutex
	jobs   map[string]*Job
	guards map[string]*sync.Mutex
	stats  Stats

	slots   chan struct{}
	wake    chan struct{}
	stop    chan struct{}
	done    chan struct{}
	active  sync.WaitGroup
	running bool
}

// New creates a Scheduler and recovers persisted jobs. The dispatch loop
// starts on Start.
func New(store *JobStore, runner Runner, maxConcurrentJobs int, clk clock.Clock, logger *slog.Logger) (*Scheduler, error) {
	if clk == nil {
		clk = clock.NewReal()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if maxConcurrentJobs <= 0 {
		maxConcurrentJobs = 1
	}

	s := &Scheduler{
		store:  store,
		runner: runner,
		clk:    clk,
		logger: logger,
		jobs:   make(map[string]*Job),
		guards: make(map[string]*sync.Mutex),
		slots:  make(chan struct{}, maxConcurrentJobs),
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	if err := s.recover(); err != nil {
		return nil, err
	}
	return s, nil
}

// recover loads persisted jobs and recomputes fire times from now.
// A one-shot whose instant passed during downtime fires immediately
// unless its lateness tolerance has elapsed.
func (s *Scheduler) recover() error {
	jobs, err := s.store.List()
	if err != nil {
		return err
	}
	now := s.clk.Now()

	for _, job := range jobs {
		if job.Completed {
			s.jobs[job.ID] = job
			s.guards[job.ID] = &sync.Mutex{}
			continue
		}

		switch {
		case job.Trigger.Type == TriggerOneShot && !job.NextFireTime.IsZero() && job.NextFireTime.Before(now):
			tolerance := job.LatenessTolerance
			if tolerance <= 0 {
				tolerance = defaultLatenessTolerance
			}
			if now.Sub(job.NextFireTime) <= tolerance {
				// Fire immediately on startup.
				job.NextFireTime = now
			} else {
				job.Completed = true
				job.LastError = "missed one-shot window"
				s.stats.JobsMissed++
				s.logger.Warn("one-shot job missed its window during downtime",
					slog.String("job_id", job.ID),
					slog.Time("run_at", job.Trigger.RunAt))
			}
		case job.NextFireTime.Before(now):
			job.NextFireTime = job.Trigger.NextFire(now, job.LastFireTime)
		}

		if err := s.store.Put(job); err != nil {
			return err
		}
		s.jobs[job.ID] = job
		s.guards[job.ID] = &sync.Mutex{}
	}

	s.logger.Info("scheduler recovered jobs", slog.Int("count", len(jobs)))
	return nil
}

// Start launches the dispatch loop.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stats.SchedulerRunning = true
	s.mu.Unlock()

	go s.loop()
}

// Stop shuts the dispatcher down and waits for active runs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.stats.SchedulerRunning = false
	s.mu.Unlock()

	close(s.stop)
	<-s.done
	s.active.Wait()
}

// loop is the single coordinator: it wakes at the earliest next fire
// time, dispatches due jobs, and self-heals on panic.
func (s *Scheduler) loop() {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		default:
		}
		s.tickSafely()
	}
}

func (s *Scheduler) tickSafely() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("dispatcher panicked, backing off", slog.Any("panic", r))
			select {
			case <-s.stop:
			case <-s.clk.After(dispatcherBackoff):
			}
		}
	}()
	s.tick()
}

func (s *Scheduler) tick() {
	now := s.clk.Now()
	due, next := s.collectDue(now)

	for _, job := range due {
		s.dispatch(job, false)
	}

	wait := idleWake
	if !next.IsZero() {
		wait = next.Sub(s.clk.Now())
		if wait < 0 {
			wait = 0
		}
		if wait > idleWake {
			wait = idleWake
		}
	}

	select {
	case <-s.stop:
	case <-s.wake:
	case <-s.clk.After(wait):
	}
}

// collectDue advances due jobs' schedules and returns them plus the
// earliest upcoming fire time.
func (s *Scheduler) collectDue(now time.Time) ([]*Job, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*Job
	var next time.Time
	for _, job := range s.jobs {
		if job.Completed || job.NextFireTime.IsZero() {
			continue
		}
		if !job.NextFireTime.After(now) {
			due = append(due, job)
			// Advance the schedule before dispatch so a long run never
			// stacks additional fires.
			job.LastFireTime = now
			if job.Trigger.Type == TriggerOneShot {
				job.Completed = true
				job.NextFireTime = time.Time{}
			} else {
				job.NextFireTime = job.Trigger.NextFire(now, now)
			}
			if err := s.store.Put(job); err != nil {
				s.logger.Error("failed to persist job schedule",
					slog.String("job_id", job.ID),
					slog.String("error", err.Error()))
			}
		}
		if !job.NextFireTime.IsZero() && (next.IsZero() || job.NextFireTime.Before(next)) {
			next = job.NextFireTime
		}
	}

	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	return due, next
}

// dispatch runs one job in a worker slot. If the job's non-overlap guard
// is already held a missed execution is recorded and nothing runs;
// last_error stays untouched.
func (s *Scheduler) dispatch(job *Job, manual bool) {
	guard := s.guardFor(job.ID)
	if !guard.TryLock() {
		s.mu.Lock()
		s.stats.JobsMissed++
		s.mu.Unlock()
		s.logger.Warn("run skipped, previous run still in progress",
			slog.String("job_id", job.ID),
			slog.Bool("manual", manual))
		return
	}

	cfg := job.Config.Clone()
	jobID := job.ID

	s.active.Add(1)
	go func() {
		defer s.active.Done()
		defer guard.Unlock()

		s.slots <- struct{}{}
		defer func() { <-s.slots }()

		report := s.runner.Run(context.Background(), jobID, cfg)
		s.recordOutcome(jobID, report)
	}()
}

func (s *Scheduler) recordOutcome(jobID string, report pipeline.Report) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.JobsExecuted++
	s.stats.LastExecution = s.clk.Now()

	job, ok := s.jobs[jobID]

	if report.Status == pipeline.StatusFailure {
		s.stats.JobsFailed++
		msg := "pipeline run failed"
		if len(report.Errors) > 0 {
			msg = report.Errors[0]
		}
		s.stats.LastError = msg
		if ok {
			job.LastError = msg
		}
	} else if ok {
		job.LastError = ""
	}

	if ok {
		if err := s.store.Put(job); err != nil {
			s.logger.Error("failed to persist job outcome",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()))
		}
	}
}

func (s *Scheduler) guardFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	guard, ok := s.guards[id]
	if !ok {
		guard = &sync.Mutex{}
		s.guards[id] = guard
	}
	return guard
}

// CreateJob registers and persists a new job. Duplicate ids are
// rejected; a persistence failure schedules nothing.
func (s *Scheduler) CreateJob(id string, trigger Trigger, cfg *config.Config) (*Job, error) {
	if id == "" {
		return nil, idxerrors.Newf(idxerrors.ErrCodeTriggerInvalid, "job id must not be empty")
	}
	if err := trigger.Validate(); err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, idxerrors.Newf(idxerrors.ErrCodeTriggerInvalid, "job %s needs a config snapshot", id)
	}
	if err := cfg.Validate(); err != nil {
		return nil, idxerrors.ConfigError(err.Error(), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[id]; exists {
		return nil, idxerrors.Newf(idxerrors.ErrCodeJobDuplicate, "job %s already exists", id)
	}

	now := s.clk.Now()
	job := &Job{
		ID:           id,
		Trigger:      trigger,
		Config:       cfg.Clone(),
		NextFireTime: trigger.NextFire(now, time.Time{}),
		CreatedAt:    now,
	}
	if err := s.store.Put(job); err != nil {
		return nil, err
	}

	s.jobs[id] = job
	s.guards[id] = &sync.Mutex{}
	s.wakeUp()

	s.logger.Info("job created",
		slog.String("job_id", id),
		slog.String("trigger", trigger.Describe()),
		slog.Time("next_fire", job.NextFireTime))
	return job, nil
}

// DeleteJob removes a job from the schedule and the store.
func (s *Scheduler) DeleteJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[id]; !exists {
		return idxerrors.Newf(idxerrors.ErrCodeJobNotFound, "job %s not found", id)
	}
	if err := s.store.Delete(id); err != nil {
		return err
	}
	delete(s.jobs, id)
	delete(s.guards, id)
	s.wakeUp()

	s.logger.Info("job deleted", slog.String("job_id", id))
	return nil
}

// ListJobs returns read-only views sorted by id.
func (s *Scheduler) ListJobs() []JobView {
	s.mu.Lock()
	defer s.mu.Unlock()

	views := make([]JobView, 0, len(s.jobs))
	for _, job := range s.jobs {
		views = append(views, JobView{
			ID:           job.ID,
			Trigger:      job.Trigger.Describe(),
			NextFireTime: job.NextFireTime,
			LastFireTime: job.LastFireTime,
			LastError:    job.LastError,
			Completed:    job.Completed,
		})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })
	return views
}

// TriggerNow enqueues an immediate execution outside the schedule. The
// non-overlap guard still applies.
func (s *Scheduler) TriggerNow(id string) error {
	s.mu.Lock()
	job, exists := s.jobs[id]
	s.mu.Unlock()

	if !exists {
		return idxerrors.Newf(idxerrors.ErrCodeJobNotFound, "job %s not found", id)
	}
	s.dispatch(job, true)
	return nil
}

// Stats returns a statistics snapshot.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := s.stats
	stats.ActiveJobs = 0
	for _, job := range s.jobs {
		if !job.Completed {
			stats.ActiveJobs++
		}
	}
	return stats
}

func (s *Scheduler) wakeUp() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
