// Package scheduling runs Pi Manager's periodic update and image-version checks.
// It drives the checks from a cron scheduler whose interval is re-read from the
// config store on every activation, issues a delayed initial check at start and
// waits for a running update before shutting down.
package scheduling

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron"
	"github.com/sirupsen/logrus"

	"github.com/henningd/pi-manager/pkg/types"
)

// Defaults for the scheduler configuration.
const (
	DefaultStartupDelay = 30 * time.Second
	DefaultImageEvery   = 4
	DefaultStopTimeout  = 60 * time.Second
)

// Updater checks for and applies updates.
type Updater interface {
	CheckForUpdates(ctx context.Context) types.UpdateResult
	InProgress() bool
}

// ImageChecker compares published versions with the running one.
type ImageChecker interface {
	CheckForImageUpdates(ctx context.Context) types.ImageResult
}

// Config holds the collaborators and timings of a Scheduler.
type Config struct {
	Store   types.ConfigReader // Source of the poll interval.
	Updater Updater            // Update orchestrator.
	Images  ImageChecker       // Image-version tracker, optional.

	StartupDelay time.Duration // Delay of the initial check, DefaultStartupDelay when zero.
	ImageEvery   int           // Image check on every n-th tick, DefaultImageEvery when zero.
	StopTimeout  time.Duration // Bound on waiting for a running update, DefaultStopTimeout when zero.

	// Crash receives panics of the check goroutines. Without it the panic is re-raised.
	Crash func(component string, recovered any)
}

// Scheduler is the long-lived service issuing periodic checks.
type Scheduler struct {
	store       types.ConfigReader
	updater     Updater
	images      ImageChecker
	delay       time.Duration
	imageEvery  uint64
	stopTimeout time.Duration
	crash       func(component string, recovered any)

	ticks atomic.Uint64

	mu      sync.Mutex
	cron    *cron.Cron
	startup *time.Timer
	ctx     context.Context //nolint:containedctx
	cancel  context.CancelFunc
	running sync.WaitGroup
	stopped bool
}

// New creates a Scheduler.
//
// Parameters:
//   - config: Collaborators and timings.
//
// Returns:
//   - *Scheduler: Scheduler that is not started yet.
func New(config Config) *Scheduler {
	delay := config.StartupDelay
	if delay <= 0 {
		delay = DefaultStartupDelay
	}

	every := config.ImageEvery
	if every <= 0 {
		every = DefaultImageEvery
	}

	timeout := config.StopTimeout
	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}

	return &Scheduler{
		store:       config.Store,
		updater:     config.Updater,
		images:      config.Images,
		delay:       delay,
		imageEvery:  uint64(every),
		stopTimeout: timeout,
		crash:       config.Crash,
	}
}

// intervalSchedule fires after the poll interval currently stored in the config store.
type intervalSchedule struct {
	store types.ConfigReader
}

// Next returns t plus the stored poll interval.
func (s intervalSchedule) Next(t time.Time) time.Time {
	return t.Add(PollInterval(s.store))
}

// PollInterval reads the poll interval from the store, falling back to the default.
func PollInterval(store types.ConfigReader) time.Duration {
	raw, _, err := store.Get(types.KeyUpdateInterval)
	if err != nil {
		logrus.WithError(err).Warn("Failed to read update interval, using default")
	}

	return types.ParsePollInterval(raw)
}

// Start begins the periodic checks and schedules the initial check.
// Calling Start on a running or stopped scheduler does nothing.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil || s.stopped {
		return
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron = cron.New()
	s.cron.Schedule(intervalSchedule{store: s.store}, cron.FuncJob(s.tick))

	interval := PollInterval(s.store)

	logrus.WithFields(logrus.Fields{
		"interval":      interval.String(),
		"initial_delay": s.delay.String(),
	}).Info("Starting update scheduler")

	s.startup = time.AfterFunc(s.delay, s.initial)
	s.cron.Start()
}

// Run starts the scheduler and blocks until ctx is cancelled, then stops it.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Start(ctx)

	<-ctx.Done()
	logrus.Debug("Context canceled, stopping scheduler...")

	s.Stop()

	return nil
}

// Stop halts the timers and waits, bounded by the stop timeout, for running checks.
// It is safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()

	if s.stopped {
		s.mu.Unlock()

		return
	}

	s.stopped = true

	if s.startup != nil {
		s.startup.Stop()
	}

	if s.cron != nil {
		s.cron.Stop()
	}

	s.mu.Unlock()

	logrus.Debug("Waiting for running update to be finished...")
	s.waitForRunning()

	if s.cancel != nil {
		s.cancel()
	}

	logrus.Debug("Scheduler stopped")
}

// waitForRunning blocks until running checks finish or the stop timeout passes.
func (s *Scheduler) waitForRunning() {
	done := make(chan struct{})

	go func() {
		s.running.Wait()
		close(done)
	}()

	timer := time.NewTimer(s.stopTimeout)
	defer timer.Stop()

	select {
	case <-done:
		logrus.Debug("No update running")
	case <-timer.C:
		logrus.WithField("in_progress", s.updater.InProgress()).
			Warn("Timeout waiting for running update to finish, proceeding with shutdown")
	}
}

// enter registers a running check unless the scheduler is stopping.
func (s *Scheduler) enter() (context.Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil, false
	}

	s.running.Add(1)

	return s.ctx, true
}

// tick is the cron job: an update check, plus an image check every n-th tick.
func (s *Scheduler) tick() {
	defer s.recoverCheck()

	ctx, ok := s.enter()
	if !ok {
		return
	}
	defer s.running.Done()

	n := s.ticks.Add(1)

	s.checkUpdates(ctx)

	if n%s.imageEvery == 0 {
		s.checkImages(ctx)
	}

	s.logNextRun()
}

// initial is the one-off check issued after the startup delay.
func (s *Scheduler) initial() {
	defer s.recoverCheck()

	ctx, ok := s.enter()
	if !ok {
		return
	}
	defer s.running.Done()

	logrus.Debug("Running initial update check")

	s.checkUpdates(ctx)
	s.checkImages(ctx)
}

// recoverCheck hands a panic of a check goroutine to the crash reporter.
// Neither the startup timer nor cron would report it otherwise.
func (s *Scheduler) recoverCheck() {
	recovered := recover()
	if recovered == nil {
		return
	}

	if s.crash == nil {
		panic(recovered)
	}

	s.crash("scheduler", recovered)
}

func (s *Scheduler) checkUpdates(ctx context.Context) {
	result := s.updater.CheckForUpdates(ctx)

	entry := logrus.WithField("status", result.Status)

	switch {
	case result.Failed():
		entry.Warn("Scheduled update check failed")
	case result.Status == types.StatusUpdateInProgress:
		entry.Debug("Skipped another update already running")
	case result.Status == types.StatusUpToDate, result.Status == types.StatusNoRepoConfigured:
		entry.Debug("Scheduled update check completed")
	default:
		entry.Info("Scheduled update check completed")
	}
}

func (s *Scheduler) checkImages(ctx context.Context) {
	if s.images == nil {
		return
	}

	result := s.images.CheckForImageUpdates(ctx)
	logrus.WithField("status", result.Status).Debug("Image version check completed")
}

func (s *Scheduler) logNextRun() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil || s.stopped {
		return
	}

	if entries := s.cron.Entries(); len(entries) > 0 {
		logrus.Debug("Scheduled next run: " + entries[0].Next.String())
	}
}

// Ticks returns the number of periodic checks issued so far.
func (s *Scheduler) Ticks() uint64 {
	return s.ticks.Load()
}
