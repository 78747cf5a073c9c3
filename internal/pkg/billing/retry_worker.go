package billing

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/replyhub/replyhub/internal/pkg/cache"
)

const (
	// Redis hash holding webhook processing counters.
	webhookStatsKey = "billing:webhook_stats"

	retrySweepBatch = 50
)

// RedisStats counts processing outcomes in a Redis hash, the same shape the
// admin dashboard reads.
type RedisStats struct{}

func (RedisStats) Incr(field string) {
	if err := cache.GetClient().HIncrBy(context.Background(), webhookStatsKey, field, 1).Err(); err != nil {
		log.Debugf("[Billing] stats increment %s failed: %v", field, err)
	}
}

// RetryWorker periodically re-dispatches failed webhook events whose retry
// time has elapsed and sweeps deferred cancellations whose period has ended.
type RetryWorker struct {
	repo       Repository
	dispatcher *Dispatcher
	lifecycle  *LifecycleService
	interval   time.Duration

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewRetryWorker creates the background worker. interval <= 0 falls back to
// one minute.
func NewRetryWorker(repo Repository, dispatcher *Dispatcher, lifecycle *LifecycleService, interval time.Duration) *RetryWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &RetryWorker{
		repo:       repo,
		dispatcher: dispatcher,
		lifecycle:  lifecycle,
		interval:   interval,
		stopCh:     make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (w *RetryWorker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return
	}
	w.running = true
	log.Infof("[Billing] Retry worker starting (interval=%s)", w.interval)

	w.wg.Add(1)
	go w.run()
}

// Stop halts the worker and waits for the in-flight sweep to finish.
func (w *RetryWorker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	log.Info("[Billing] Retry worker stopping...")
	close(w.stopCh)
	w.running = false
	w.wg.Wait()
	log.Info("[Billing] Retry worker stopped")
}

func (w *RetryWorker) run() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.Sweep(context.Background())
		}
	}
}

// Sweep runs one pass of both sweeps. Exposed so operators and tests can
// trigger it directly.
func (w *RetryWorker) Sweep(ctx context.Context) {
	w.sweepRetries(ctx)
	w.sweepPeriodEndCancellations(ctx)
}

func (w *RetryWorker) sweepRetries(ctx context.Context) {
	now := time.Now()
	due, err := w.repo.DueForRetry(w.dispatcher.policy.MaxWebhookAttempts, now, now.Add(-w.dispatcher.policy.ProcessingLease), retrySweepBatch)
	if err != nil {
		log.Errorf("[Billing] retry sweep query failed: %v", err)
		return
	}
	for i := range due {
		event := due[i]
		outcome, err := w.dispatcher.Retry(ctx, &event)
		if err != nil {
			log.Warnf("[Billing] retry of event %s failed (attempt %d): %v", event.EventID, event.Attempts, err)
			continue
		}
		log.Infof("[Billing] retried event %s: %s", event.EventID, outcome.Code)
	}
}

func (w *RetryWorker) sweepPeriodEndCancellations(ctx context.Context) {
	flipped, err := w.lifecycle.SweepPeriodEndCancellations(ctx, retrySweepBatch)
	if err != nil {
		log.Errorf("[Billing] period end sweep failed: %v", err)
		return
	}
	if flipped > 0 {
		log.Infof("[Billing] period end sweep canceled %d subscriptions", flipped)
	}
}
