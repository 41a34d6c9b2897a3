package workflow

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/shop_ledger/config"
	"bitbucket.org/mmdatafocus/shop_ledger/models"
	"bitbucket.org/mmdatafocus/shop_ledger/utils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// JobPublisher hands a job to the consumers. config.PubSubJobPublisher is the
// production implementation.
type JobPublisher interface {
	PublishReconciliationJob(ctx context.Context, msg config.ReconciliationJobMessage) (string, error)
}

// EnqueueReconciliationJob validates and publishes a job, returning the message id.
func EnqueueReconciliationJob(ctx context.Context, publisher JobPublisher, job ReconciliationJob) (string, error) {
	if job.CorrelationId == "" {
		job.CorrelationId = utils.CorrelationIdOrNew(ctx)
	}
	if err := job.Validate(); err != nil {
		return "", err
	}
	return publisher.PublishReconciliationJob(ctx, job.Message())
}

// ReconciliationScheduler periodically publishes a full_check job for every active tenant.
type ReconciliationScheduler struct {
	DB        *gorm.DB
	Publisher JobPublisher
	Logger    *logrus.Logger
	Interval  time.Duration
	// Repair turns scheduled checks into repairs (full_check without dry run).
	Repair bool
}

func NewReconciliationScheduler(db *gorm.DB, publisher JobPublisher, logger *logrus.Logger) *ReconciliationScheduler {
	return &ReconciliationScheduler{
		DB:        db,
		Publisher: publisher,
		Logger:    loggerOrDefault(logger),
		Interval:  config.ReconciliationInterval(),
		Repair:    config.ReconciliationAutoRepairEnabled(),
	}
}

// RunOnce publishes one job per active tenant. A failed publish does not stop
// the round; all failures are returned joined.
func (s *ReconciliationScheduler) RunOnce(ctx context.Context) (int, error) {
	logger := loggerOrDefault(s.Logger)
	tenantIds, err := models.ListActiveTenantIds(s.DB.WithContext(utils.WithoutTenantScope(ctx)))
	if err != nil {
		return 0, err
	}
	round := uuid.NewString()
	published := 0
	var errs []error
	for _, tenantId := range tenantIds {
		job := ReconciliationJob{
			TenantId:      tenantId,
			Kind:          JobKindFullCheck,
			DryRun:        !s.Repair,
			RequestedBy:   "scheduler",
			CorrelationId: uuid.NewString(),
		}
		if _, err := EnqueueReconciliationJob(ctx, s.Publisher, job); err != nil {
			config.LogError(logger, "scheduler.go", "RunOnce", "Publishing job", job.Message(), err)
			errs = append(errs, err)
			continue
		}
		published++
	}
	logger.WithFields(logrus.Fields{
		"round":     round,
		"tenants":   len(tenantIds),
		"published": published,
		"repair":    s.Repair,
	}).Info("recon.schedule.round")
	return published, errors.Join(errs...)
}

// Run ticks until ctx is cancelled. The first round starts after one interval.
func (s *ReconciliationScheduler) Run(ctx context.Context) error {
	interval := s.Interval
	if interval <= 0 {
		interval = config.ReconciliationInterval()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				loggerOrDefault(s.Logger).WithError(err).Warn("recon.schedule.round_failed")
			}
		}
	}
}
