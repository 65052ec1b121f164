// Package events publishes routing activity as CloudEvents.
package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"content-router/src/internal/common"
	"content-router/src/routing"

	ce "github.com/cloudevents/sdk-go/v2"
	"github.com/cloudevents/sdk-go/v2/client"
	"github.com/google/uuid"
)

// Event types emitted by the publisher
const (
	TypeDecisionMade    = "router.decision.made"
	TypeOutcomeRecorded = "router.outcome.recorded"
	TypeMappingChanged  = "router.mapping.changed"
)

const (
	DefaultSource       = "content-router"
	defaultQueueSize    = 1024
	defaultSendDeadline = 5 * time.Second
)

// OutcomeData is the payload of a router.outcome.recorded event
type OutcomeData struct {
	routing.Outcome
	LatencyMs float64 `json:"latency_ms"`
}

// Publisher observes the engine and forwards its events to a CloudEvents sink
// from a background goroutine. Without a sink events are only logged.
type Publisher struct {
	ceClient client.Client
	sinkURL  string
	source   string

	queue    chan ce.Event
	stopChan chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	sent    atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
	logger  *common.SafeLogger
}

// NewPublisher creates and starts a publisher for the sink
func NewPublisher(sinkURL, source string) (*Publisher, error) {
	if source == "" {
		source = DefaultSource
	}
	p := &Publisher{
		sinkURL:  sinkURL,
		source:   source,
		queue:    make(chan ce.Event, defaultQueueSize),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   common.ServerLogger,
	}
	if sinkURL != "" {
		c, err := ce.NewClientHTTP(ce.WithTarget(sinkURL))
		if err != nil {
			return nil, fmt.Errorf("failed to create CloudEvents client: %w", err)
		}
		p.ceClient = c
		p.logger.Info("Publishing routing events to %s", sinkURL)
	}
	go p.run()
	return p, nil
}

// DecisionRecorded publishes a router.decision.made event
func (p *Publisher) DecisionRecorded(d routing.RoutingDecision) {
	p.enqueue(d.ID, TypeDecisionMade, string(d.Category), d)
}

// OutcomeRecorded publishes a router.outcome.recorded event
func (p *Publisher) OutcomeRecorded(o routing.Outcome) {
	data := OutcomeData{Outcome: o, LatencyMs: float64(o.Latency.Microseconds()) / 1000}
	p.enqueue("", TypeOutcomeRecorded, string(o.Category), data)
}

// MappingChanged publishes a router.mapping.changed event
func (p *Publisher) MappingChanged(m routing.RouteMapping) {
	p.enqueue("", TypeMappingChanged, string(m.Category), m)
}

func (p *Publisher) enqueue(id, eventType, category string, data interface{}) {
	if id == "" {
		id = uuid.NewString()
	}
	event := ce.NewEvent()
	event.SetID(id)
	event.SetSource(p.source)
	event.SetType(eventType)
	event.SetTime(time.Now())
	if category != "" {
		event.SetExtension("category", category)
	}
	if err := event.SetData(ce.ApplicationJSON, data); err != nil {
		p.logger.Error("Failed to encode %s event: %v", eventType, err)
		p.failed.Add(1)
		return
	}

	select {
	case <-p.stopChan:
		p.dropped.Add(1)
		return
	default:
	}
	select {
	case p.queue <- event:
	default:
		p.dropped.Add(1)
	}
}

func (p *Publisher) run() {
	defer close(p.done)
	for {
		select {
		case event := <-p.queue:
			p.send(event)
		case <-p.stopChan:
			for {
				select {
				case event := <-p.queue:
					p.send(event)
				default:
					return
				}
			}
		}
	}
}

func (p *Publisher) send(event ce.Event) {
	if p.ceClient == nil {
		p.logger.Debug("Would send %s event %s", event.Type(), event.ID())
		p.sent.Add(1)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultSendDeadline)
	defer cancel()
	if result := p.ceClient.Send(ctx, event); !ce.IsACK(result) {
		p.failed.Add(1)
		p.logger.Warn("Failed to deliver %s event %s: %v", event.Type(), event.ID(), result)
		return
	}
	p.sent.Add(1)
}

// Stats returns sent, failed and dropped counts
func (p *Publisher) Stats() (sent, failed, dropped int64) {
	return p.sent.Load(), p.failed.Load(), p.dropped.Load()
}

// Close delivers queued events and stops the publisher
func (p *Publisher) Close() error {
	p.stopOnce.Do(func() { close(p.stopChan) })
	<-p.done
	return nil
}
