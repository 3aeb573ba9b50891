package engine

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingJob struct {
	status Status
	calls  atomic.Int64
}

func (j *countingJob) Kill() {}
func (j *countingJob) Wait() {}
func (j *countingJob) UpdateStatus() Status {
	j.calls.Add(1)
	return j.status
}
func (j *countingJob) Status() Status { return j.status }

func TestMonitor_SweepsPeriodically(t *testing.T) {
	r := NewRegistry()
	job := &countingJob{status: StatusRunning}
	r.Register(job)

	m := NewMonitorInterval(r, 10*time.Millisecond)
	m.Start()

	require.Eventually(t, func() bool {
		return job.calls.Load() >= 3
	}, time.Second, 5*time.Millisecond)

	m.Stop()
}

func TestMonitor_StopPerformsFinalPass(t *testing.T) {
	r := NewRegistry()
	job := &countingJob{status: StatusRunning}
	r.Register(job)

	m := NewMonitorInterval(r, time.Hour) // long enough that only Stop's final pass counts
	m.Start()

	m.Stop()

	require.GreaterOrEqual(t, job.calls.Load(), int64(1))
}

func TestMonitor_StartIsIdempotent(t *testing.T) {
	r := NewRegistry()
	m := NewMonitor(r)

	m.Start()
	m.Start() // must not spawn a second loop or panic on double-close

	m.Stop()
}
