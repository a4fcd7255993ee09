// Package scheduler runs cron-scheduled background tasks on gocron.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
)

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrTaskRunning  = errors.New("task is already running")
)

// TaskFunc is the body of a scheduled task.
type TaskFunc func(ctx context.Context) error

// TaskConfig describes a task to register.
type TaskConfig struct {
	ID          string
	Name        string
	Description string
	Cron        string // five-field cron expression, e.g. "0 */6 * * *"
	Func        TaskFunc
	RunOnStart  bool
}

// TaskInfo is a point-in-time view of a registered task.
type TaskInfo struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Description  string        `json:"description"`
	Cron         string        `json:"cron"`
	Running      bool          `json:"running"`
	LastRun      *time.Time    `json:"lastRun,omitempty"`
	LastDuration time.Duration `json:"lastDuration,omitempty"`
	LastError    string        `json:"lastError,omitempty"`
	NextRun      *time.Time    `json:"nextRun,omitempty"`
}

type task struct {
	cfg  TaskConfig
	job  gocron.Job
	busy bool

	lastStart time.Time
	lastTook  time.Duration
	lastErr   error
}

// Scheduler owns a gocron scheduler and the tasks registered on it. A task
// never overlaps with itself: a tick that fires while the previous run is
// still going is skipped.
type Scheduler struct {
	cron   gocron.Scheduler
	logger zerolog.Logger

	mu    sync.RWMutex
	tasks map[string]*task
	ctx   context.Context

	runs sync.WaitGroup
}

// New creates a stopped scheduler.
func New(logger zerolog.Logger) (*Scheduler, error) {
	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	return &Scheduler{
		cron:   cron,
		logger: logger.With().Str("component", "scheduler").Logger(),
		tasks:  make(map[string]*task),
		ctx:    context.Background(),
	}, nil
}

// RegisterTask adds a task. IDs must be unique. An empty Name falls back to the ID.
func (s *Scheduler) RegisterTask(cfg *TaskConfig) error {
	if cfg.ID == "" {
		return errors.New("task ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.tasks[cfg.ID]; dup {
		return fmt.Errorf("task with ID %q already registered", cfg.ID)
	}

	id := cfg.ID
	stored := *cfg
	if stored.Name == "" {
		stored.Name = id
	}

	job, err := s.cron.NewJob(
		gocron.CronJob(stored.Cron, false),
		gocron.NewTask(s.tick, id),
		gocron.WithName(stored.Name),
		gocron.WithTags(id),
	)
	if err != nil {
		return fmt.Errorf("failed to create job for task %q: %w", id, err)
	}

	s.tasks[id] = &task{cfg: stored, job: job}

	s.logger.Info().
		Str("task", id).
		Str("cron", cfg.Cron).
		Bool("runOnStart", cfg.RunOnStart).
		Msg("Registered task")
	return nil
}

// tick is what gocron calls on every cron match.
func (s *Scheduler) tick(id string) {
	if err := s.RunTask(s.baseContext(), id); errors.Is(err, ErrTaskRunning) {
		s.logger.Debug().Str("task", id).Msg("Previous run still active, skipping tick")
	}
}

func (s *Scheduler) baseContext() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ctx
}

// RunTask runs a task on the calling goroutine and returns its error.
func (s *Scheduler) RunTask(ctx context.Context, id string) error {
	s.mu.Lock()
	t, ok := s.tasks[id]
	switch {
	case !ok:
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrTaskNotFound, id)
	case t.busy:
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrTaskRunning, id)
	}
	t.busy = true
	fn := t.cfg.Func
	s.mu.Unlock()

	started := time.Now()
	s.logger.Debug().Str("task", id).Msg("Starting task")

	err := fn(ctx)
	took := time.Since(started)

	s.mu.Lock()
	t.busy = false
	t.lastStart = started
	t.lastTook = took
	t.lastErr = err
	s.mu.Unlock()

	event := s.logger.Info()
	if err != nil {
		event = s.logger.Error().Err(err)
	}
	event.Str("task", id).Dur("took", took).Msg("Task finished")
	return err
}

// Start starts the cron loop and kicks off every RunOnStart task in the
// background. ctx is handed to every run.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	registered := len(s.tasks)
	var startup []string
	for id, t := range s.tasks {
		if t.cfg.RunOnStart {
			startup = append(startup, id)
		}
	}
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info().Int("tasks", registered).Msg("Scheduler started")

	for _, id := range startup {
		s.runInBackground(id)
	}
	return nil
}

// Stop shuts gocron down and waits for background runs started by Start or
// RunNow.
func (s *Scheduler) Stop() error {
	err := s.cron.Shutdown()
	s.runs.Wait()
	s.logger.Info().Msg("Scheduler stopped")
	return err
}

// RunNow triggers a task in the background.
func (s *Scheduler) RunNow(id string) error {
	s.mu.RLock()
	t, ok := s.tasks[id]
	busy := ok && t.busy
	s.mu.RUnlock()

	switch {
	case !ok:
		return fmt.Errorf("%w: %q", ErrTaskNotFound, id)
	case busy:
		return fmt.Errorf("%w: %q", ErrTaskRunning, id)
	}

	s.runInBackground(id)
	return nil
}

func (s *Scheduler) runInBackground(id string) {
	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		_ = s.RunTask(s.baseContext(), id)
	}()
}

// ListTasks returns every registered task ordered by ID.
func (s *Scheduler) ListTasks() []TaskInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]TaskInfo, 0, len(s.tasks))
	for _, t := range s.tasks {
		infos = append(infos, t.snapshot())
	}
	slices.SortFunc(infos, func(a, b TaskInfo) int { return strings.Compare(a.ID, b.ID) })
	return infos
}

// GetTask returns one task.
func (s *Scheduler) GetTask(id string) (*TaskInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTaskNotFound, id)
	}
	info := t.snapshot()
	return &info, nil
}

// snapshot must be called with the scheduler lock held.
func (t *task) snapshot() TaskInfo {
	info := TaskInfo{
		ID:          t.cfg.ID,
		Name:        t.cfg.Name,
		Description: t.cfg.Description,
		Cron:        t.cfg.Cron,
		Running:     t.busy,
	}
	if !t.lastStart.IsZero() {
		last := t.lastStart
		info.LastRun = &last
		info.LastDuration = t.lastTook
	}
	if t.lastErr != nil {
		info.LastError = t.lastErr.Error()
	}
	if next, err := t.job.NextRun(); err == nil && !next.IsZero() {
		info.NextRun = &next
	}
	return info
}
