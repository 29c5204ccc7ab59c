package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/modules/rebalancing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	name  string
	err   error
	calls atomic.Int32
}

func (j *countingJob) Name() string { return j.name }

func (j *countingJob) Run() error {
	j.calls.Add(1)
	return j.err
}

func TestScheduler_AddJob(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)

	tests := []struct {
		name     string
		schedule string
		wantErr  bool
	}{
		{name: "five field spec", schedule: "*/15 * * * *"},
		{name: "six field spec with seconds", schedule: "0 30 21 * * MON-FRI"},
		{name: "descriptor", schedule: "@daily"},
		{name: "interval", schedule: "@every 30s"},
		{name: "invalid spec", schedule: "every tuesday", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(log)
			err := s.AddJob(tt.schedule, &countingJob{name: "job"})
			if tt.wantErr {
				require.Error(t, err)
				assert.Empty(t, s.Jobs())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []string{"job"}, s.Jobs())
		})
	}
}

func TestScheduler_AddJob_EmptyScheduleSkipsRegistration(t *testing.T) {
	s := New(zerolog.New(nil).Level(zerolog.Disabled))

	require.NoError(t, s.AddJob("", &countingJob{name: "backup"}))
	assert.Empty(t, s.Jobs())
}

func TestScheduler_AddJob_DuplicateName(t *testing.T) {
	s := New(zerolog.New(nil).Level(zerolog.Disabled))

	require.NoError(t, s.AddJob("@hourly", &countingJob{name: "rebalance"}))
	err := s.AddJob("@daily", &countingJob{name: "rebalance"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestScheduler_RunsRegisteredJob(t *testing.T) {
	s := New(zerolog.New(nil).Level(zerolog.Disabled))
	job := &countingJob{name: "tick", err: errors.New("failures are logged, not fatal")}

	require.NoError(t, s.AddJob("@every 1s", job))
	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool { return job.calls.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
}

func TestScheduler_RunNow(t *testing.T) {
	s := New(zerolog.New(nil).Level(zerolog.Disabled))
	job := &countingJob{name: "now", err: errors.New("boom")}

	err := s.RunNow(job)
	require.EqualError(t, err, "boom")
	assert.Equal(t, int32(1), job.calls.Load())
}

type fakeRunner struct {
	result *rebalancing.RunResult
	err    error
	calls  int
}

func (f *fakeRunner) Run(ctx context.Context) (*rebalancing.RunResult, error) {
	f.calls++
	if _, ok := ctx.Deadline(); !ok {
		return nil, errors.New("expected a deadline")
	}
	return f.result, f.err
}

func TestRebalanceJob_Run(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)
	report := domain.NewRebalanceReport()
	report.Bought = []string{"MSFT"}

	tests := []struct {
		name    string
		runner  *fakeRunner
		wantErr string
	}{
		{
			name:   "completed run",
			runner: &fakeRunner{result: &rebalancing.RunResult{RunID: "r1", Message: rebalancing.MessageSuccess, Report: &report, SignalCount: 2}},
		},
		{
			name:   "nothing pending",
			runner: &fakeRunner{result: &rebalancing.RunResult{RunID: "r2", Message: rebalancing.MessageNoPendingSignals}},
		},
		{
			name:   "run in flight is skipped",
			runner: &fakeRunner{err: rebalancing.ErrRebalanceInProgress},
		},
		{
			name:    "engine failure propagates",
			runner:  &fakeRunner{err: errors.New("rebalance failed: disk I/O error")},
			wantErr: "disk I/O error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := NewRebalanceJob(tt.runner, time.Minute, log)
			assert.Equal(t, "rebalance", job.Name())

			err := job.Run()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, 1, tt.runner.calls)
		})
	}
}

type fakeBackuper struct {
	key string
	err error
}

func (f *fakeBackuper) CreateAndUpload(context.Context) (string, error) {
	return f.key, f.err
}

func TestBackupJob_Run(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)

	job := NewBackupJob(&fakeBackuper{key: "rebalancer-backup-2024-03-15-210000.tar.gz"}, time.Minute, log)
	assert.Equal(t, "backup", job.Name())
	require.NoError(t, job.Run())

	failing := NewBackupJob(&fakeBackuper{err: errors.New("upload failed")}, time.Minute, log)
	require.EqualError(t, failing.Run(), "upload failed")
}
