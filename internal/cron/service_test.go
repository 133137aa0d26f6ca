package cron

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/threadline/settlement-backend/pkg/logger"
)

type fakeLock struct {
	held     bool
	releases int
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	if f.held {
		return false, nil
	}
	f.held = true
	return true, nil
}

func (f *fakeLock) Release(context.Context) error {
	f.held = false
	f.releases++
	return nil
}

type testJob struct {
	name string
	err  error
	runs int
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(context.Context) error {
	t.runs++
	return t.err
}

func newTestService(t *testing.T, lock Lock, jobs ...Job) *Service {
	t.Helper()
	service, err := NewService(ServiceParams{
		Logger:   logger.New(logger.Options{ServiceName: "cron-test", Output: io.Discard}),
		Registry: NewRegistry(jobs...),
		Lock:     lock,
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	return service
}

func TestServiceRunCycleRunsAllJobsEvenOnFailure(t *testing.T) {
	reconcile := &testJob{name: "payment-reconcile", err: errors.New("boom")}
	retention := &testJob{name: "outbox-retention"}
	lock := &fakeLock{}
	service := newTestService(t, lock, reconcile, retention)

	if err := service.runCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if reconcile.runs != 1 || retention.runs != 1 {
		t.Fatalf("expected each job once, got %d and %d", reconcile.runs, retention.runs)
	}
	if lock.releases != 1 || lock.held {
		t.Fatalf("expected lock released after the cycle")
	}
}

func TestServiceRunCycleSkipsWhenLockHeld(t *testing.T) {
	job := &testJob{name: "payment-reconcile"}
	lock := &fakeLock{held: true}
	service := newTestService(t, lock, job)

	if err := service.runCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if job.runs != 0 {
		t.Fatalf("expected job skipped, ran %d", job.runs)
	}
	if lock.releases != 0 {
		t.Fatalf("expected lock untouched")
	}
}

func TestNewServiceRequiresLock(t *testing.T) {
	_, err := NewService(ServiceParams{Logger: logger.New(logger.Options{ServiceName: "cron-test", Output: io.Discard})})
	if err == nil {
		t.Fatal("expected error without lock")
	}
}

type periodicJob struct {
	testJob
	every time.Duration
}

func (p *periodicJob) Every() time.Duration { return p.every }

func TestServiceRunsPeriodicJobsOnTheirOwnCadence(t *testing.T) {
	now := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	reconcile := &testJob{name: "payment-reconcile"}
	retention := &periodicJob{testJob: testJob{name: "outbox-retention"}, every: time.Hour}
	service, err := NewService(ServiceParams{
		Logger:   logger.New(logger.Options{ServiceName: "cron-test", Output: io.Discard}),
		Registry: NewRegistry(reconcile, retention),
		Lock:     &fakeLock{},
		Now:      func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}

	for _, step := range []time.Duration{0, time.Minute, 30 * time.Minute, 31 * time.Minute} {
		now = now.Add(step)
		if err := service.runCycle(context.Background()); err != nil {
			t.Fatalf("run cycle: %v", err)
		}
	}
	if reconcile.runs != 4 {
		t.Fatalf("expected reconcile every tick, got %d", reconcile.runs)
	}
	if retention.runs != 2 {
		t.Fatalf("expected retention twice in 62 minutes, got %d", retention.runs)
	}
}

func TestServiceRetriesFailedPeriodicJobNextTick(t *testing.T) {
	now := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	retention := &periodicJob{testJob: testJob{name: "outbox-retention", err: errors.New("db down")}, every: 6 * time.Hour}
	service, err := NewService(ServiceParams{
		Logger:   logger.New(logger.Options{ServiceName: "cron-test", Output: io.Discard}),
		Registry: NewRegistry(retention),
		Lock:     &fakeLock{},
		Now:      func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}

	if err := service.runCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	retention.err = nil
	now = now.Add(time.Minute)
	if err := service.runCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	now = now.Add(time.Minute)
	if err := service.runCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if retention.runs != 2 {
		t.Fatalf("expected failed run retried once then held back, got %d runs", retention.runs)
	}
}

func TestServiceSkipsLockWhenNothingDue(t *testing.T) {
	now := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	retention := &periodicJob{testJob: testJob{name: "outbox-retention"}, every: time.Hour}
	lock := &fakeLock{}
	service, err := NewService(ServiceParams{
		Logger:   logger.New(logger.Options{ServiceName: "cron-test", Output: io.Discard}),
		Registry: NewRegistry(retention),
		Lock:     lock,
		Now:      func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}

	_ = service.runCycle(context.Background())
	now = now.Add(5 * time.Minute)
	_ = service.runCycle(context.Background())
	if lock.releases != 1 {
		t.Fatalf("expected a single locked cycle, got %d", lock.releases)
	}
}
