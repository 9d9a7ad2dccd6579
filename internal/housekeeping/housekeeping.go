// Package housekeeping runs cron-scheduled sweep jobs: one expires
// stale markers proactively, rather than relying only on the lazy
// pruning a tick would otherwise trigger; the other only checks the
// subscription manager's active-symbol count and logs a warning when
// it is too high, removing nothing itself.
//
// Grounded on the teacher's internal/scheduler package: the same
// Job interface and a thin wrapper around robfig/cron/v3, registered
// with AddJob the same way.
package housekeeping

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is one registered sweep task.
type Job interface {
	Run() error
	Name() string
}

// Scheduler wraps a cron.Cron, logging each job's start and outcome.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
}

// New creates a Scheduler with second-resolution cron expressions.
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithSeconds()),
		log:  log.With().Str("component", "housekeeping").Logger(),
	}
}

// Start begins running registered jobs on their schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("housekeeping scheduler started")
}

// Stop waits for any in-flight job run to finish, then returns.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("housekeeping scheduler stopped")
}

// AddJob registers job on the given cron schedule, e.g. "@every 30s".
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		start := time.Now()
		if err := job.Run(); err != nil {
			s.log.Error().Err(err).Str("job", job.Name()).Msg("housekeeping job failed")
			return
		}
		s.log.Debug().Str("job", job.Name()).Dur("elapsed", time.Since(start)).Msg("housekeeping job completed")
	})
	if err != nil {
		return err
	}
	s.log.Info().Str("schedule", schedule).Str("job", job.Name()).Msg("housekeeping job registered")
	return nil
}

// RunNow executes job immediately, outside its schedule.
func (s *Scheduler) RunNow(job Job) error {
	return job.Run()
}

// MarkerSweeper is implemented by anything housekeeping can sweep
// expired markers from. internal/processor.Processor satisfies it.
type MarkerSweeper interface {
	SweepExpiredMarkers(nowMs int64) int
}

// Registry tracks the currently live set of sweepable processors,
// keyed by an opaque id the caller controls (normally the display id).
// Display owners register on Subscribe and unregister on Destroy, so
// the sweep job never reaches into torn-down state.
type Registry struct {
	mu       sync.RWMutex
	sweepers map[string]MarkerSweeper
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sweepers: make(map[string]MarkerSweeper)}
}

// Register adds or replaces the sweeper tracked under id.
func (r *Registry) Register(id string, sweeper MarkerSweeper) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepers[id] = sweeper
}

// Unregister removes id, if present.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sweepers, id)
}

// Len reports how many sweepers are currently registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sweepers)
}

func (r *Registry) snapshot() map[string]MarkerSweeper {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]MarkerSweeper, len(r.sweepers))
	for id, s := range r.sweepers {
		out[id] = s
	}
	return out
}

// MarkerSweepJob sweeps every registered processor's expired markers
// once per run, bounding the marker list's worst-case growth even for
// a display that has stopped ticking but not yet been destroyed.
type MarkerSweepJob struct {
	registry *Registry
	now      func() int64
}

// NewMarkerSweepJob creates a job bound to registry. nowFn overrides
// the clock for tests; pass nil to use the system clock.
func NewMarkerSweepJob(registry *Registry, nowFn func() int64) *MarkerSweepJob {
	if nowFn == nil {
		nowFn = func() int64 { return time.Now().UnixMilli() }
	}
	return &MarkerSweepJob{registry: registry, now: nowFn}
}

func (j *MarkerSweepJob) Name() string { return "marker_sweep" }

// Run sweeps every registered processor and returns nil: an individual
// processor panicking or misbehaving isn't expected, and there is no
// per-symbol error to surface — a swept count isn't a failure mode.
func (j *MarkerSweepJob) Run() error {
	nowMs := j.now()
	for _, sweeper := range j.registry.snapshot() {
		sweeper.SweepExpiredMarkers(nowMs)
	}
	return nil
}

// RefcountSnapshot is a point-in-time view of the subscription
// manager's active symbols the refcount sweep job inspects.
type RefcountSnapshot interface {
	// ActiveSymbolCount reports how many symbols currently have at
	// least one live subscriber.
	ActiveSymbolCount() int
}

// RefcountSweepJob is a safety-net log line: the subscription manager
// already deletes a symbol's refcount entry synchronously the moment
// it reaches zero (internal/feed.Manager.Unsubscribe), so this job's
// only job is to notice if that invariant is ever violated and the
// active count grows without bound.
type RefcountSweepJob struct {
	manager       RefcountSnapshot
	log           zerolog.Logger
	warnThreshold int
}

// NewRefcountSweepJob creates a job that warns once a cron tick finds
// more than warnThreshold active symbols, as a leak canary.
func NewRefcountSweepJob(manager RefcountSnapshot, warnThreshold int, log zerolog.Logger) *RefcountSweepJob {
	return &RefcountSweepJob{
		manager:       manager,
		warnThreshold: warnThreshold,
		log:           log.With().Str("component", "housekeeping").Str("job", "refcount_sweep").Logger(),
	}
}

func (j *RefcountSweepJob) Name() string { return "refcount_sweep" }

func (j *RefcountSweepJob) Run() error {
	count := j.manager.ActiveSymbolCount()
	if count > j.warnThreshold {
		j.log.Warn().Int("active_symbols", count).Int("threshold", j.warnThreshold).
			Msg("active symbol count exceeds expected ceiling, possible subscription leak")
	}
	return nil
}
