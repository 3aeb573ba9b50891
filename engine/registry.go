package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Job is implemented by both Pipeline and a standalone Stage: anything a
// Registry can track and tear down.
type Job interface {
	Kill()
	Wait()
	UpdateStatus() Status
	Status() Status
}

// Registry is a container of top-level jobs, keyed by an increasing
// integer ID. It does not own process resources beyond what Teardown
// signals: on Teardown it kills every non-terminated job and waits for
// each one.
//
// The job table is an xsync.MapOf rather than a mutex-guarded slice so a
// Monitor can sweep it concurrently with Register calls without
// contending on a single lock.
type Registry struct {
	log zerolog.Logger

	jobs   *xsync.MapOf[int, Job]
	nextID atomic.Int64

	launchLimiter *rate.Limiter // nil unless WithLaunchLimiter is called
}

// NewRegistry returns an empty, independent Registry. Most callers should
// use Default() instead, unless they need to isolate job lifetimes.
func NewRegistry() *Registry {
	return &Registry{
		jobs: xsync.NewMapOf[int, Job](),
		log:  zerolog.Nop(),
	}
}

// SetLogger attaches a logger used for registry-level diagnostics.
func (r *Registry) SetLogger(l zerolog.Logger) {
	r.log = l
}

// WithLaunchLimiter installs a token-bucket limiter that StartLimited
// blocks on before launching a pipeline, so a caller queuing many
// pipelines at once doesn't fork-bomb the host. rps is the steady-state
// rate and burst the initial allowance. With burst 0 every StartLimited
// call fails with an error; with rps 0 the calls after the initial burst
// fail with an error instead of waiting.
func (r *Registry) WithLaunchLimiter(rps float64, burst int) *Registry {
	r.launchLimiter = rate.NewLimiter(rate.Limit(rps), burst)
	return r
}

// StartLimited waits for the registry's launch limiter (if any) to admit
// one more launch, then calls p.Start(first). Without a limiter installed
// via WithLaunchLimiter, it starts immediately.
func (r *Registry) StartLimited(ctx context.Context, p *Pipeline, first any) error {
	if r.launchLimiter != nil {
		if err := r.launchLimiter.Wait(ctx); err != nil {
			return err
		}
	}
	return p.Start(first)
}

// Register assigns the next jid (0, then monotonically increasing; gaps
// are possible only after removals, which this Registry never performs)
// and stores job under it.
func (r *Registry) Register(job Job) int {
	jid := int(r.nextID.Add(1) - 1)
	r.jobs.Store(jid, job)
	return jid
}

// Get returns the job registered under jid, if any.
func (r *Registry) Get(jid int) (Job, bool) {
	return r.jobs.Load(jid)
}

// Len returns the number of jobs currently tracked.
func (r *Registry) Len() int {
	return r.jobs.Size()
}

// Each calls fn for every tracked job, in unspecified order.
func (r *Registry) Each(fn func(jid int, job Job)) {
	r.jobs.Range(func(jid int, job Job) bool {
		fn(jid, job)
		return true
	})
}

// Teardown signals kill to every non-terminated job and then waits for
// each one. Child processes never outlive Teardown.
func (r *Registry) Teardown() {
	r.Each(func(_ int, job Job) {
		if !job.UpdateStatus().Absorbing() {
			job.Kill()
		}
	})
	r.Each(func(_ int, job Job) {
		job.Wait()
	})
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// Default returns the process-wide singleton Registry, lazily initialized
// on first use. Every call returns the same handle.
func Default() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}
