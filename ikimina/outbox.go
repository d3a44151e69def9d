/*
outbox.go - Asynchronous notification delivery

PURPOSE:
  State transitions enqueue notification jobs; this worker drains them and
  calls the Notifier per recipient. Decoupling delivery from the transition
  means a notifier outage can never threaten the atomicity of a status
  change, and one recipient's failure never affects another's delivery.

DELIVERY SEMANTICS:
  Best effort with bounded retry. A failed send is recorded with its error
  and retried on later drains until MaxAttempts is reached, after which the
  job is left in the table for inspection but no longer picked up.

SEE ALSO:
  - lifecycle.go: Enqueues transition fan-outs
  - store.go: OutboxStore and Notifier seams
*/
package ikimina

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultDrainInterval = 5 * time.Second
	defaultDrainBatch    = 200
	defaultMaxAttempts   = 5
)

// OutboxWorker drains pending notifications on an interval.
type OutboxWorker struct {
	Outbox   OutboxStore
	Notifier Notifier
	Log      *logrus.Logger

	Interval    time.Duration
	BatchSize   int
	MaxAttempts int

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// Start begins the drain loop. Safe to call once.
func (w *OutboxWorker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.Interval <= 0 {
		w.Interval = defaultDrainInterval
	}
	if w.BatchSize <= 0 {
		w.BatchSize = defaultDrainBatch
	}
	if w.MaxAttempts <= 0 {
		w.MaxAttempts = defaultMaxAttempts
	}

	w.ticker = time.NewTicker(w.Interval)
	w.stop = make(chan struct{})
	w.wg.Add(1)
	go w.run()
	w.log().WithField("interval", w.Interval).Info("outbox worker started")
}

// Stop halts the drain loop and waits for an in-flight drain to finish.
func (w *OutboxWorker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.ticker != nil {
		w.ticker.Stop()
		close(w.stop)
		w.wg.Wait()
		w.log().Info("outbox worker stopped")
	}
}

func (w *OutboxWorker) run() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ticker.C:
			w.Drain(context.Background())
		case <-w.stop:
			return
		}
	}
}

// Drain sends every pending job once. Exposed for tests and for flushing
// synchronously at shutdown. Returns the number of successful sends.
func (w *OutboxWorker) Drain(ctx context.Context) int {
	pending, err := w.Outbox.ListPending(ctx, w.batch(), w.attempts())
	if err != nil {
		w.log().WithError(err).Error("outbox: listing pending notifications failed")
		return 0
	}

	sent := 0
	for _, n := range pending {
		if err := w.Notifier.Send(ctx, n.Contact, n.Message); err != nil {
			w.log().WithFields(logrus.Fields{
				"notification_id": n.ID,
				"group_id":        n.GroupID,
				"attempts":        n.Attempts + 1,
			}).WithError(err).Warn("outbox: delivery failed")
			if merr := w.Outbox.MarkFailed(ctx, n.ID, err.Error()); merr != nil {
				w.log().WithError(merr).Error("outbox: recording failure failed")
			}
			continue
		}
		if err := w.Outbox.MarkSent(ctx, n.ID); err != nil {
			w.log().WithError(err).Error("outbox: marking sent failed")
			continue
		}
		sent++
	}
	return sent
}

func (w *OutboxWorker) batch() int {
	if w.BatchSize > 0 {
		return w.BatchSize
	}
	return defaultDrainBatch
}

func (w *OutboxWorker) attempts() int {
	if w.MaxAttempts > 0 {
		return w.MaxAttempts
	}
	return defaultMaxAttempts
}

func (w *OutboxWorker) log() *logrus.Logger {
	if w.Log != nil {
		return w.Log
	}
	return logrus.StandardLogger()
}

// LogNotifier writes deliveries to the log instead of a gateway. Default
// until an SMS/email provider is wired in.
type LogNotifier struct {
	Log *logrus.Logger
}

func (n *LogNotifier) Send(ctx context.Context, contact Contact, message string) error {
	log := n.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	log.WithFields(logrus.Fields{
		"member_id": contact.MemberID,
		"phone":     contact.Phone,
		"email":     contact.Email,
	}).Info("notification: " + message)
	return nil
}
