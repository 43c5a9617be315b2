package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// StaleAttemptRepoller re-polls payments whose callback never arrived
type StaleAttemptRepoller interface {
	RepollStaleAttempts(ctx context.Context) (RepollSummary, error)
}

// CronService manages scheduled background jobs
type CronService struct {
	cron     *cron.Cron
	repoller StaleAttemptRepoller
	schedule string
	timeout  time.Duration
	logger   *logrus.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCronService creates a new CronService. schedule uses seconds precision,
// "0 */5 * * * *" runs every five minutes.
func NewCronService(repoller StaleAttemptRepoller, schedule string, timeout time.Duration, logger *logrus.Logger) *CronService {
	c := cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	ctx, cancel := context.WithCancel(context.Background())

	return &CronService{
		cron:     c,
		repoller: repoller,
		schedule: schedule,
		timeout:  timeout,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start schedules the jobs and starts the scheduler
func (s *CronService) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.repollStaleAttemptsJob); err != nil {
		return fmt.Errorf("failed to schedule stale payment re-poll job: %w", err)
	}
	s.logger.WithField("schedule", s.schedule).Info("Scheduled: re-poll stale payment attempts")

	s.cron.Start()
	s.logger.Info("Cron service started")
	return nil
}

// Stop stops the scheduler and cancels a running job
func (s *CronService) Stop() {
	s.logger.Info("Stopping cron service...")
	stopped := s.cron.Stop()
	s.cancel()
	<-stopped.Done()
	s.wg.Wait()
	s.logger.Info("Cron service stopped")
}

// RunNow runs the re-poll job once, outside the schedule
func (s *CronService) RunNow() {
	s.repollStaleAttemptsJob()
}

func (s *CronService) repollStaleAttemptsJob() {
	s.wg.Add(1)
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	startTime := time.Now()
	summary, err := s.repoller.RepollStaleAttempts(ctx)
	if err != nil {
		s.logger.WithError(err).Error("[CRON] Stale payment re-poll failed")
		return
	}

	s.logger.WithFields(logrus.Fields{
		"checked":  summary.Checked,
		"verified": summary.Verified,
		"failed":   summary.Failed,
		"errors":   summary.Errors,
		"duration": time.Since(startTime).String(),
	}).Debug("[CRON] Stale payment re-poll finished")
}
