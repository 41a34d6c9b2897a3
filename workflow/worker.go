package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"bitbucket.org/mmdatafocus/shop_ledger/config"
	"bitbucket.org/mmdatafocus/shop_ledger/models"
	"cloud.google.com/go/pubsub"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// IsPermanentJobError reports errors a retry cannot fix: undecodable payloads
// and jobs rejected by validation (unknown tenant or product, bad window).
func IsPermanentJobError(err error) bool {
	return errors.Is(err, ErrMalformedJob) || models.IsValidationError(err)
}

// HandleReconciliationMessage decodes and processes one Pub/Sub payload.
func HandleReconciliationMessage(ctx context.Context, db *gorm.DB, logger *logrus.Logger, data []byte, messageId string) (*ReconciliationJobResult, error) {
	var msg config.ReconciliationJobMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedJob, err)
	}
	if msg.CorrelationId == "" {
		msg.CorrelationId = messageId
	}
	job, err := JobFromMessage(msg)
	if err != nil {
		return nil, err
	}
	return ProcessReconciliationJob(ctx, db, logger, job)
}

// RunReconciliationWorker pulls jobs from sub until ctx is cancelled. Permanent
// failures are acked and logged; anything else is nacked for redelivery.
func RunReconciliationWorker(ctx context.Context, db *gorm.DB, logger *logrus.Logger, sub *pubsub.Subscription) error {
	logger = loggerOrDefault(logger)
	return sub.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
		_, err := HandleReconciliationMessage(ctx, db, logger, m.Data, m.ID)
		switch {
		case err == nil:
			m.Ack()
		case IsPermanentJobError(err):
			config.LogError(logger, "worker.go", "RunReconciliationWorker", "Dropping job", string(m.Data), err)
			m.Ack()
		default:
			logger.WithFields(logrus.Fields{
				"message_id": m.ID,
				"attributes": m.Attributes,
			}).Error("recon.job.nack: " + err.Error())
			m.Nack()
		}
	})
}
