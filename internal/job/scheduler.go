package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/robfig/cron/v3"
)

// State is the lifecycle state of a scheduled job.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

var (
	ErrUnknownJob     = errors.New("unknown job")
	ErrAlreadyRunning = errors.New("job already running")
)

// Task performs one execution. It returns the answering source per entity.
type Task func(ctx context.Context) (map[string]string, error)

// Definition is the static configuration of a job.
type Definition struct {
	Name string
	// Cron is a standard five-field expression evaluated in the scheduler
	// timezone.
	Cron string
	// Target names the family table whose rows prove the job ran today.
	Target  string
	Timeout time.Duration
	Task    Task
}

// Entry is the externally visible schedule state of a job.
type Entry struct {
	Name          string     `json:"job"`
	Cron          string     `json:"cron"`
	Timezone      string     `json:"timezone"`
	Target        string     `json:"target"`
	Active        bool       `json:"active"`
	State         State      `json:"state"`
	LastStatus    Status     `json:"lastStatus,omitempty"`
	LastRunAt     *time.Time `json:"lastRun"`
	NextRunAt     *time.Time `json:"nextRun"`
	LastSuccessAt *time.Time `json:"lastSuccess"`
	LastError     string     `json:"lastError,omitempty"`
}

// RecordChecker reports whether target already holds a record for day.
type RecordChecker interface {
	HasRecordForDay(ctx context.Context, target, day string) (bool, error)
}

// Observer is told about every finished run.
type Observer interface {
	ObserveJobRun(job, status string, catchUp bool)
}

type entry struct {
	def         Definition
	schedule    cron.Schedule
	state       State
	lastStatus  Status
	lastRun     *time.Time
	lastSuccess *time.Time
	lastError   string
}

// Scheduler owns every job's schedule state for the life of the process.
type Scheduler struct {
	loc     *time.Location
	now     func() time.Time
	cron    *gocron.Scheduler
	order   []string
	records RecordChecker
	runs    Repository
	obs     Observer

	catchUpDelay time.Duration
	jobTimeout   time.Duration

	mu      sync.Mutex
	entries map[string]*entry
	started bool
}

type Option func(*Scheduler)

func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func WithRecordChecker(rc RecordChecker) Option {
	return func(s *Scheduler) { s.records = rc }
}

// WithRunRepository persists every run.
func WithRunRepository(r Repository) Option {
	return func(s *Scheduler) { s.runs = r }
}

func WithObserver(o Observer) Option {
	return func(s *Scheduler) { s.obs = o }
}

// WithCatchUpDelay sets the pause between replayed jobs.
func WithCatchUpDelay(d time.Duration) Option {
	return func(s *Scheduler) { s.catchUpDelay = d }
}

// WithJobTimeout sets the timeout of jobs that do not define their own.
func WithJobTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.jobTimeout = d }
}

// NewScheduler validates defs and returns a stopped scheduler with every job
// idle.
func NewScheduler(loc *time.Location, defs []Definition, opts ...Option) (*Scheduler, error) {
	if loc == nil {
		loc = time.UTC
	}
	s := &Scheduler{
		loc:          loc,
		now:          time.Now,
		cron:         gocron.NewScheduler(loc),
		catchUpDelay: 30 * time.Second,
		jobTimeout:   2 * time.Minute,
		entries:      make(map[string]*entry, len(defs)),
	}
	for _, o := range opts {
		o(s)
	}

	for _, d := range defs {
		if d.Name == "" || d.Task == nil {
			return nil, fmt.Errorf("job %q: name and task are required", d.Name)
		}
		if _, dup := s.entries[d.Name]; dup {
			return nil, fmt.Errorf("job %q: defined twice", d.Name)
		}
		sched, err := cron.ParseStandard(d.Cron)
		if err != nil {
			return nil, fmt.Errorf("job %q: invalid cron %q: %w", d.Name, d.Cron, err)
		}
		s.entries[d.Name] = &entry{def: d, schedule: sched, state: StateIdle}
		s.order = append(s.order, d.Name)
	}
	return s, nil
}

// Start registers every job with gocron and starts firing them. Jobs never
// overlap with themselves.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	// Applies to jobs created after this call.
	s.cron.SingletonModeAll()
	for _, name := range s.order {
		name := name
		e := s.entries[name]
		if s.runs != nil {
			if t, err := s.runs.LastSuccess(ctx, name); err != nil {
				slog.Warn("load last success", "job", name, "error", err)
			} else if !t.IsZero() {
				e.lastSuccess = &t
			}
		}
		if _, err := s.cron.Cron(e.def.Cron).Tag(name).Do(func() {
			_, _ = s.Execute(context.Background(), name, false)
		}); err != nil {
			return fmt.Errorf("schedule %s: %w", name, err)
		}
	}
	s.cron.StartAsync()
	s.started = true

	slog.Info("scheduler started", "jobs", len(s.order), "timezone", s.loc.String())
	return nil
}

// Stop halts the triggers. A run in progress finishes on its own timeout.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.cron.Stop()
	s.started = false
	slog.Info("scheduler stopped")
}

// Status returns every job's schedule state in definition order.
func (s *Scheduler) Status() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().In(s.loc)
	out := make([]Entry, 0, len(s.order))
	for _, name := range s.order {
		e := s.entries[name]
		next := e.schedule.Next(now)
		out = append(out, Entry{
			Name:          name,
			Cron:          e.def.Cron,
			Timezone:      s.loc.String(),
			Target:        e.def.Target,
			Active:        s.started,
			State:         e.state,
			LastStatus:    e.lastStatus,
			LastRunAt:     e.lastRun,
			NextRunAt:     &next,
			LastSuccessAt: e.lastSuccess,
			LastError:     e.lastError,
		})
	}
	return out
}

// RunNow triggers name in the background.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	e, ok := s.entries[name]
	started := s.started
	running := ok && e.state == StateRunning
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if running {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, name)
	}
	if started {
		return s.cron.RunByTag(name)
	}
	go func() { _, _ = s.Execute(context.Background(), name, false) }()
	return nil
}

// Execute runs name once and records the result. Task errors and panics
// become a failed run; the returned error is only set when the job could
// not be started.
func (s *Scheduler) Execute(ctx context.Context, name string, catchUp bool) (*Run, error) {
	s.mu.Lock()
	e, ok := s.entries[name]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if e.state == StateRunning {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, name)
	}
	start := s.now().UTC()
	e.state = StateRunning
	e.lastRun = &start
	def := e.def
	s.mu.Unlock()

	run := &Run{Job: name, Status: StatusRunning, CatchUp: catchUp, StartedAt: start, Sources: map[string]string{}}
	if s.runs != nil {
		if err := s.runs.Create(ctx, run); err != nil {
			slog.Error("record run start", "job", name, "error", err)
		}
	}
	slog.Info("job started", "job", name, "catch_up", catchUp)

	timeout := def.Timeout
	if timeout <= 0 {
		timeout = s.jobTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	sources, err := safeRun(runCtx, def.Task)
	cancel()

	finished := s.now().UTC()
	run.FinishedAt = &finished
	if sources != nil {
		run.Sources = sources
	}
	run.Status = StatusSucceeded
	if err != nil {
		run.Status = StatusFailed
		run.Error = err.Error()
	}

	s.mu.Lock()
	e.lastStatus = run.Status
	if err != nil {
		e.state = StateFailed
		e.lastError = err.Error()
	} else {
		e.state = StateSucceeded
		e.lastError = ""
		e.lastSuccess = &start
	}
	s.mu.Unlock()

	if s.runs != nil {
		if ferr := s.runs.Finish(context.WithoutCancel(ctx), run); ferr != nil {
			slog.Error("record run finish", "job", name, "error", ferr)
		}
	}
	if s.obs != nil {
		s.obs.ObserveJobRun(name, string(run.Status), catchUp)
	}

	if err != nil {
		slog.Error("job failed", "job", name, "catch_up", catchUp,
			"duration", run.Duration().String(), "sources", run.Sources, "error", err)
	} else {
		slog.Info("job succeeded", "job", name, "catch_up", catchUp,
			"duration", run.Duration().String(), "sources", run.Sources)
	}

	s.mu.Lock()
	e.state = StateIdle
	s.mu.Unlock()
	return run, nil
}

func safeRun(ctx context.Context, task Task) (sources map[string]string, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("job panicked", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return task(ctx)
}

// MissedJobs returns, in definition order, the jobs whose schedule fired
// between local midnight and now while their target holds no record for
// today.
func (s *Scheduler) MissedJobs(ctx context.Context) ([]string, error) {
	if s.records == nil {
		return nil, nil
	}

	now := s.now().In(s.loc)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
	day := now.Format("2006-01-02")

	var missed []string
	for _, name := range s.order {
		s.mu.Lock()
		e := s.entries[name]
		first := e.schedule.Next(midnight.Add(-time.Second))
		target := e.def.Target
		s.mu.Unlock()

		if first.After(now) {
			continue
		}
		ok, err := s.records.HasRecordForDay(ctx, target, day)
		if err != nil {
			return nil, fmt.Errorf("check %s for %s: %w", target, name, err)
		}
		if !ok {
			missed = append(missed, name)
		}
	}
	return missed, nil
}

// CatchUp replays missed jobs once each, one after another, pausing between
// them.
func (s *Scheduler) CatchUp(ctx context.Context) ([]*Run, error) {
	missed, err := s.MissedJobs(ctx)
	if err != nil {
		return nil, err
	}
	if len(missed) == 0 {
		slog.Info("catch-up: nothing missed")
		return nil, nil
	}
	slog.Info("catch-up: replaying missed jobs", "jobs", missed, "delay", s.catchUpDelay.String())

	runs := make([]*Run, 0, len(missed))
	for i, name := range missed {
		if i > 0 && s.catchUpDelay > 0 {
			t := time.NewTimer(s.catchUpDelay)
			select {
			case <-ctx.Done():
				t.Stop()
				return runs, ctx.Err()
			case <-t.C:
			}
		}
		run, err := s.Execute(ctx, name, true)
		if err != nil {
			slog.Warn("catch-up: skipped", "job", name, "error", err)
			continue
		}
		runs = append(runs, run)
	}
	return runs, nil
}
