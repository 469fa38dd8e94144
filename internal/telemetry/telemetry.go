// Package telemetry implements the Event and Summary Pipelines (C7) from
// spec.md §4.7: two independent instances of the Persistent Background
// Queue (C2), each POSTing to its own endpoint, with time- and size-based
// flush triggers and the summaries-before-event ordering guarantee on a
// forced flush. It is grounded directly on internal/queue +
// internal/transport; the flush-policy shape (ticker + size watermark) is
// grounded on publishing/queue.go's UpdateQueueSize/metrics-driven
// watermark reporting, repurposed from "observe queue depth" into "trigger
// a flush at a depth".
package telemetry

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/shoaib-customfit/cf-go-client-sdk/internal/clock"
	"github.com/shoaib-customfit/cf-go-client-sdk/internal/queue"
	"github.com/shoaib-customfit/cf-go-client-sdk/internal/transport"
)

// Event is a single analytics event, carrying the session id that was
// current at enqueue time — later rotations never mutate it, per spec.md
// §4.7.
type Event struct {
	Name      string         `json:"name"`
	Properties map[string]any `json:"properties,omitempty"`
	SessionID string         `json:"session_id"`
	Timestamp int64          `json:"timestamp_ms"`
}

// Summary is a single flag-evaluation attestation, per spec.md's glossary.
type Summary struct {
	FlagKey     string `json:"flag_key"`
	VariationID string `json:"variation_id"`
	SessionID   string `json:"session_id"`
	Timestamp   int64  `json:"timestamp_ms"`
}

// Policy holds a pipeline's flush triggers.
type Policy struct {
	FlushInterval time.Duration
	QueueSize     int
}

// Pipeline wires a queue.Queue[T]-shaped background queue to an HTTP POST
// processor and a size/time flush policy. It is generic over the item type
// (Event or Summary); each POST sends one item wrapped in a JSON array.
type Pipeline[T any] struct {
	queue  *queue.Queue[T]
	policy Policy
	clk    clock.Clock
	logger *slog.Logger

	stop chan struct{}
	wg   sync.WaitGroup
}

// newProcessor builds a ProcessorFunc that POSTs a single-item batch to
// url. The queue's own retry/backoff policy handles failure; success is a
// 200 or 202 response, any other status is a failure.
func newProcessor[T any](t transport.Transport, url string) queue.ProcessorFunc[T] {
	return func(ctx context.Context, data T) (bool, error) {
		body, err := json.Marshal([]T{data})
		if err != nil {
			return false, err
		}
		resp, err := t.Post(ctx, url, body, nil)
		if err != nil {
			return false, err
		}
		return resp.Status == 200 || resp.Status == 202, nil
	}
}

// NewPipeline constructs a Pipeline whose background queue persists to
// dir/name.queue.json and POSTs to url.
func NewPipeline[T any](name, dir, url string, t transport.Transport, clk clock.Clock, logger *slog.Logger, metrics queue.Metrics, qcfg queue.Config, policy Policy) (*Pipeline[T], error) {
	qcfg.Name = name
	qcfg.Dir = dir
	q, err := queue.New[T](qcfg, clk, logger, metrics, newProcessor[T](t, url))
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline[T]{
		queue:  q,
		policy: policy,
		clk:    clk,
		logger: logger,
		stop:   make(chan struct{}),
	}
	return p, nil
}

// Start launches the queue's background processor and this pipeline's
// time-based flush ticker.
func (p *Pipeline[T]) Start() {
	p.queue.Start()
	if p.policy.FlushInterval <= 0 {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-p.stop:
				return
			case <-p.clk.After(p.policy.FlushInterval):
				p.Flush(context.Background())
			}
		}
	}()
}

// Enqueue adds an item, forcing a flush immediately if the size trigger is
// reached.
func (p *Pipeline[T]) Enqueue(item T) error {
	_, err := p.queue.Enqueue(item, 0, "")
	if err != nil {
		return err
	}
	if p.policy.QueueSize > 0 && p.queue.PendingCount() >= p.policy.QueueSize {
		go p.Flush(context.Background())
	}
	return nil
}

// Flush synchronously drains the queue.
func (p *Pipeline[T]) Flush(ctx context.Context) int {
	return p.queue.Flush(ctx)
}

// PendingCount reports the number of items waiting.
func (p *Pipeline[T]) PendingCount() int { return p.queue.PendingCount() }

// NowMs returns the pipeline's clock reading in wall-clock milliseconds,
// used to stamp Event/Summary records at enqueue time.
func (p *Pipeline[T]) NowMs() int64 { return p.clk.Now().UnixMilli() }

// Shutdown stops the flush ticker and the underlying queue.
func (p *Pipeline[T]) Shutdown(ctx context.Context) error {
	select {
	case <-p.stop:
	default:
		close(p.stop)
	}
	p.wg.Wait()
	return p.queue.Shutdown(ctx)
}

// Pipelines bundles the events and summaries pipelines together so
// TrackEvent can enforce the "summaries flush before the event they could
// refer to" ordering guarantee from spec.md §4.7/§5.
type Pipelines struct {
	Events    *Pipeline[Event]
	Summaries *Pipeline[Summary]
}

// PushSummary implements configmgr.SummarySink.
func (p *Pipelines) PushSummary(flagKey, variationID, sessionID string) {
	_ = p.Summaries.Enqueue(Summary{
		FlagKey:     flagKey,
		VariationID: variationID,
		SessionID:   sessionID,
		Timestamp:   p.Summaries.NowMs(),
	})
}

// TrackEvent forces a flush of pending summaries first, then enqueues the
// event, per spec.md §4.7's ordering guarantee.
func (p *Pipelines) TrackEvent(ctx context.Context, name string, properties map[string]any, sessionID string) error {
	p.Summaries.Flush(ctx)
	return p.Events.Enqueue(Event{
		Name:       name,
		Properties: properties,
		SessionID:  sessionID,
		Timestamp:  p.Events.NowMs(),
	})
}

// Start launches both pipelines.
func (p *Pipelines) Start() {
	p.Events.Start()
	p.Summaries.Start()
}

// Shutdown flushes both pipelines best-effort, then stops them, per
// spec.md §4.8.
func (p *Pipelines) Shutdown(ctx context.Context) error {
	p.Summaries.Flush(ctx)
	p.Events.Flush(ctx)
	errEvents := p.Events.Shutdown(ctx)
	errSummaries := p.Summaries.Shutdown(ctx)
	if errEvents != nil {
		return errEvents
	}
	return errSummaries
}
