// reconciliation-worker pulls reconciliation jobs from the Pub/Sub subscription
// and runs them until SIGTERM. Use it where push delivery to /pubsub is not
// available (local runs, long rebuilds beyond the push deadline).
//
// Usage:
//
//	PUBSUB_PROJECT_ID=... go run ./cmd/reconciliation-worker
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"bitbucket.org/mmdatafocus/shop_ledger/config"
	"bitbucket.org/mmdatafocus/shop_ledger/workflow"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := config.GetLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	config.ConnectDatabaseWithRetry()
	// Redis only backs the per-tenant job lock; jobs still run without it.
	config.ConnectRedisWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	client, err := config.GetClient(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pubsub client: %v\n", err)
		os.Exit(1)
	}
	topic, err := config.CreateTopicIfNotExists(ctx, client, config.ReconciliationTopicName())
	if err != nil {
		fmt.Fprintf(os.Stderr, "pubsub topic: %v\n", err)
		os.Exit(1)
	}
	defer topic.Stop()
	sub, err := config.CreateSubscriptionIfNotExists(ctx, client, config.ReconciliationSubscriptionName(), topic)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pubsub subscription: %v\n", err)
		os.Exit(1)
	}

	logger.WithFields(logrus.Fields{
		"topic":        topic.ID(),
		"subscription": sub.ID(),
	}).Info("recon.worker.start")

	if err := workflow.RunReconciliationWorker(ctx, db, logger, sub); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "worker stopped: %v\n", err)
		os.Exit(1)
	}
	logger.Info("recon.worker.stop")
}
