package scheduler

import (
	"context"
	"time"

	"github.com/ikkim/cartsync/internal/app/service"
	"github.com/ikkim/cartsync/pkg/logger"
	"github.com/robfig/cron/v3"
)

// Replayer retries queued cart writes.
type Replayer interface {
	Replay(ctx context.Context, limit int) (service.ReplayResult, error)
}

// OutboxScheduler 실패한 장바구니 쓰기 재시도 스케줄러
type OutboxScheduler struct {
	cron      *cron.Cron
	outbox    Replayer
	schedule  string
	batchSize int
	timeout   time.Duration
}

// NewOutboxScheduler 재시도 스케줄러 생성. 이전 실행이 끝나지 않았으면 다음 실행은 건너뜀
func NewOutboxScheduler(outbox Replayer, schedule string, batchSize int) *OutboxScheduler {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &OutboxScheduler{
		cron:      cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		outbox:    outbox,
		schedule:  schedule,
		batchSize: batchSize,
		timeout:   time.Minute,
	}
}

// Start 스케줄러 시작
func (s *OutboxScheduler) Start() error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		s.RunOnce(ctx)
	})
	if err != nil {
		logger.Error("Failed to add cron job for outbox replay", err, map[string]interface{}{
			"schedule": s.schedule,
		})
		return err
	}

	s.cron.Start()
	logger.Info("Outbox scheduler started", map[string]interface{}{
		"schedule":   s.schedule,
		"batch_size": s.batchSize,
	})
	return nil
}

// RunOnce 대기 중인 쓰기를 한 번 재시도
func (s *OutboxScheduler) RunOnce(ctx context.Context) service.ReplayResult {
	result, err := s.outbox.Replay(ctx, s.batchSize)
	if err != nil {
		logger.Error("Scheduled outbox replay failed", err, map[string]interface{}{
			"processed": result.Processed,
		})
	}
	return result
}

// Stop 스케줄러 중지. 실행 중인 재시도가 끝날 때까지 대기
func (s *OutboxScheduler) Stop() {
	logger.Info("Stopping outbox scheduler...", nil)
	<-s.cron.Stop().Done()
	logger.Info("Outbox scheduler stopped", nil)
}
