package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ikkim/cartsync/internal/app/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubReplayer struct {
	calls atomic.Int32
	limit atomic.Int32
	err   error
}

func (r *stubReplayer) Replay(_ context.Context, limit int) (service.ReplayResult, error) {
	r.calls.Add(1)
	r.limit.Store(int32(limit))
	return service.ReplayResult{Processed: 2, Succeeded: 1, Failed: 1}, r.err
}

func TestOutboxScheduler_RunOnce(t *testing.T) {
	replayer := &stubReplayer{}
	s := NewOutboxScheduler(replayer, "@every 1h", 25)

	result := s.RunOnce(context.Background())
	assert.Equal(t, 2, result.Processed)
	assert.EqualValues(t, 1, replayer.calls.Load())
	assert.EqualValues(t, 25, replayer.limit.Load())
}

func TestOutboxScheduler_RunOnceError(t *testing.T) {
	replayer := &stubReplayer{err: errors.New("outbox table locked")}
	s := NewOutboxScheduler(replayer, "@every 1h", 0)

	result := s.RunOnce(context.Background())
	assert.Equal(t, 2, result.Processed)
	assert.EqualValues(t, 100, replayer.limit.Load())
}

func TestOutboxScheduler_StartRunsOnSchedule(t *testing.T) {
	replayer := &stubReplayer{}
	s := NewOutboxScheduler(replayer, "@every 1s", 10)
	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return replayer.calls.Load() >= 1
	}, 3*time.Second, 50*time.Millisecond)
}

func TestOutboxScheduler_InvalidSchedule(t *testing.T) {
	s := NewOutboxScheduler(&stubReplayer{}, "not a schedule", 10)
	assert.Error(t, s.Start())
}
