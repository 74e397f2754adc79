package wallet

import (
	"context"
	"log"
	"time"
)

const (
	RETRY_QUEUE_SIZE   = 1024
	RETRY_BASE_DELAY   = 500 * time.Millisecond
	RETRY_MAX_DELAY    = 30 * time.Second
	RETRY_MAX_ATTEMPTS = 8
	RETRY_CALL_TIMEOUT = 3 * time.Second
)

type pendingCredit struct {
	userID  string
	amount  float64
	attempt int
	dueAt   time.Time
}

// RetryQueue re-drives failed settlement credits with exponential backoff.
// One failed wallet call never blocks the round or other users' payouts;
// the credit just lands here and is retried in the background.
type RetryQueue struct {
	svc     Service
	pending chan pendingCredit
	stop    chan struct{}
}

func NewRetryQueue(svc Service) *RetryQueue {
	return &RetryQueue{
		svc:     svc,
		pending: make(chan pendingCredit, RETRY_QUEUE_SIZE),
		stop:    make(chan struct{}),
	}
}

func (q *RetryQueue) Start() {
	go q.run()
}

func (q *RetryQueue) Stop() {
	close(q.stop)
}

// Enqueue schedules a credit for retry. Non-blocking; if the queue is
// full the failure is logged for manual reconciliation rather than
// stalling settlement.
func (q *RetryQueue) Enqueue(userID string, amount float64) {
	q.enqueue(pendingCredit{userID: userID, amount: amount, attempt: 1})
}

func (q *RetryQueue) enqueue(c pendingCredit) {
	c.dueAt = time.Now().Add(backoff(c.attempt))
	select {
	case q.pending <- c:
	default:
		log.Printf("[WALLET] Retry queue full, credit for %s (%.2f) needs manual reconciliation", c.userID, c.amount)
	}
}

func backoff(attempt int) time.Duration {
	d := RETRY_BASE_DELAY << (attempt - 1)
	if d > RETRY_MAX_DELAY {
		return RETRY_MAX_DELAY
	}
	return d
}

func (q *RetryQueue) run() {
	for {
		select {
		case <-q.stop:
			return
		case c := <-q.pending:
			if wait := time.Until(c.dueAt); wait > 0 {
				select {
				case <-time.After(wait):
				case <-q.stop:
					return
				}
			}

			ctx, cancel := context.WithTimeout(context.Background(), RETRY_CALL_TIMEOUT)
			err := q.svc.Credit(ctx, c.userID, c.amount)
			cancel()

			if err == nil {
				log.Printf("[WALLET] Retried credit for %s succeeded (%.2f, attempt %d)", c.userID, c.amount, c.attempt)
				continue
			}

			if c.attempt >= RETRY_MAX_ATTEMPTS {
				log.Printf("[WALLET] Credit for %s (%.2f) failed after %d attempts: %v", c.userID, c.amount, c.attempt, err)
				continue
			}

			c.attempt++
			q.enqueue(c)
		}
	}
}
