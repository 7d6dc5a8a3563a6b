package cron

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/marketplace-backend/pkg/logger"
	"github.com/angelmondragon/marketplace-backend/pkg/metrics"
)

type fakeLock struct {
	mu   sync.Mutex
	held map[string]bool
	err  error
}

func newFakeLock() *fakeLock { return &fakeLock{held: map[string]bool{}} }

func (f *fakeLock) Acquire(_ context.Context, job string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if f.held[job] {
		return false, nil
	}
	f.held[job] = true
	return true, nil
}

func (f *fakeLock) Release(_ context.Context, job string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.held, job)
	return nil
}

type testJob struct {
	mu   sync.Mutex
	name string
	err  error
	runs int
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runs++
	return t.err
}

func (t *testJob) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runs
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "cron-test", Output: io.Discard})
}

func TestServiceRunAllRunsEveryJobEvenOnFailure(t *testing.T) {
	success := &testJob{name: "success"}
	failure := &testJob{name: "fail", err: errors.New("boom")}
	registry := NewRegistry()
	registry.Register("@every 1m", success)
	registry.Register("@hourly", failure)

	reg := prometheus.NewRegistry()
	service, err := NewService(ServiceParams{
		Logger:   testLogger(),
		Registry: registry,
		Lock:     newFakeLock(),
		Metrics:  metrics.NewCronJobMetrics(reg),
	})
	require.NoError(t, err)

	service.RunAll(context.Background())
	assert.Equal(t, 1, success.count())
	assert.Equal(t, 1, failure.count())

	mfs, err := reg.Gather()
	require.NoError(t, err)
	var failures float64
	for _, mf := range mfs {
		if mf.GetName() != "job_failure" {
			continue
		}
		for _, m := range mf.GetMetric() {
			failures += m.GetCounter().GetValue()
		}
	}
	assert.Equal(t, float64(1), failures)
}

func TestServiceSkipsJobHeldElsewhere(t *testing.T) {
	job := &testJob{name: "reservation-expiry"}
	registry := NewRegistry()
	registry.Register("@every 1m", job)
	lock := newFakeLock()
	lock.held["reservation-expiry"] = true

	service, err := NewService(ServiceParams{Logger: testLogger(), Registry: registry, Lock: lock})
	require.NoError(t, err)

	service.RunAll(context.Background())
	assert.Equal(t, 0, job.count())
}

func TestServiceReleasesLockAfterRun(t *testing.T) {
	job := &testJob{name: "outbox-retention"}
	registry := NewRegistry()
	registry.Register("@daily", job)
	lock := newFakeLock()

	service, err := NewService(ServiceParams{Logger: testLogger(), Registry: registry, Lock: lock})
	require.NoError(t, err)

	service.RunAll(context.Background())
	service.RunAll(context.Background())
	assert.Equal(t, 2, job.count())
	assert.Empty(t, lock.held)
}

func TestNewServiceRejectsBadSchedule(t *testing.T) {
	registry := NewRegistry()
	registry.Register("every minute", &testJob{name: "bad"})
	_, err := NewService(ServiceParams{Logger: testLogger(), Registry: registry, Lock: newFakeLock()})
	assert.Error(t, err)

	_, err = NewService(ServiceParams{Logger: testLogger()})
	assert.Error(t, err)
}

func TestServiceRunStopsOnCancel(t *testing.T) {
	job := &testJob{name: "startup"}
	registry := NewRegistry()
	registry.Register("@every 1h", job)
	service, err := NewService(ServiceParams{Logger: testLogger(), Registry: registry, Lock: newFakeLock(), RunOnStart: true})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- service.Run(ctx) }()

	require.Eventually(t, func() bool { return job.count() == 1 }, time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("service did not stop")
	}
}
