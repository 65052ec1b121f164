package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"content-router/src/internal/common"
	"content-router/src/routing"
)

const (
	DefaultRecorderBatchSize     = 100
	DefaultRecorderFlushInterval = 5 * time.Second
	defaultRecorderQueue         = 4096
)

// DecisionRecorder observes engine decisions and writes them to a
// DecisionArchive in batches from a single background goroutine. Decisions
// arriving while the queue is full are dropped and counted.
type DecisionRecorder struct {
	routing.BaseObserver

	archive       DecisionArchive
	batchSize     int
	flushInterval time.Duration

	queue    chan routing.RoutingDecision
	flushReq chan chan struct{}
	stopChan chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	archived atomic.Int64
	dropped  atomic.Int64
	failures atomic.Int64
	logger   *common.SafeLogger
}

// NewDecisionRecorder creates and starts a recorder
func NewDecisionRecorder(archive DecisionArchive, batchSize int, flushInterval time.Duration) *DecisionRecorder {
	if batchSize <= 0 {
		batchSize = DefaultRecorderBatchSize
	}
	if flushInterval <= 0 {
		flushInterval = DefaultRecorderFlushInterval
	}
	r := &DecisionRecorder{
		archive:       archive,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		queue:         make(chan routing.RoutingDecision, defaultRecorderQueue),
		flushReq:      make(chan chan struct{}),
		stopChan:      make(chan struct{}),
		done:          make(chan struct{}),
		logger:        common.StorageLogger,
	}
	go r.run()
	return r
}

// DecisionRecorded queues a decision for archiving
func (r *DecisionRecorder) DecisionRecorded(d routing.RoutingDecision) {
	select {
	case <-r.stopChan:
		r.dropped.Add(1)
		return
	default:
	}
	select {
	case r.queue <- d:
	default:
		r.dropped.Add(1)
	}
}

// Flush writes everything queued so far and waits for it
func (r *DecisionRecorder) Flush() {
	ack := make(chan struct{})
	select {
	case r.flushReq <- ack:
		<-ack
	case <-r.done:
	}
}

// Close flushes the queue and stops the recorder
func (r *DecisionRecorder) Close() error {
	r.stopOnce.Do(func() { close(r.stopChan) })
	<-r.done
	return nil
}

// Stats returns archived, dropped and failed-write counts
func (r *DecisionRecorder) Stats() (archived, dropped, failures int64) {
	return r.archived.Load(), r.dropped.Load(), r.failures.Load()
}

func (r *DecisionRecorder) run() {
	defer close(r.done)

	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	batch := make([]routing.RoutingDecision, 0, r.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.archive.ArchiveDecisions(ctx, batch); err != nil {
			r.failures.Add(1)
			r.logger.Error("Failed to archive %d decisions: %v", len(batch), err)
		} else {
			r.archived.Add(int64(len(batch)))
		}
		batch = batch[:0]
	}
	drain := func() {
		for {
			select {
			case d := <-r.queue:
				batch = append(batch, d)
				if len(batch) >= r.batchSize {
					flush()
				}
			default:
				flush()
				return
			}
		}
	}

	for {
		select {
		case d := <-r.queue:
			batch = append(batch, d)
			if len(batch) >= r.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case ack := <-r.flushReq:
			drain()
			close(ack)
		case <-r.stopChan:
			drain()
			return
		}
	}
}
