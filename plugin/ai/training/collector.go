// Package training captures eligible prompt and answer pairs for later
// fine-tuning. Capture is best effort and never blocks the answer path.
package training

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	"github.com/hrygo/marketsense/plugin/ai/metrics"
	"github.com/hrygo/marketsense/plugin/ai/prompt"
	"github.com/hrygo/marketsense/plugin/ai/rag"
	"github.com/hrygo/marketsense/store"
)

var (
	// ErrQueueFull is reported when a sample is dropped because the queue is full.
	ErrQueueFull = errors.New("training queue is full")
	// ErrClosed is reported when a sample arrives after Close.
	ErrClosed = errors.New("training collector is closed")
)

const (
	DefaultWorkers   = 2
	DefaultQueueSize = 256
	// errorBuffer bounds the error channel; further errors are only logged.
	errorBuffer  = 64
	writeTimeout = 10 * time.Second
)

// Drop reasons reported to metrics.
const (
	DropQueueFull   = "queue_full"
	DropClosed      = "closed"
	DropIneligible  = "ineligible"
	DropEligibility = "eligibility_error"
	DropPersistence = "persistence_error"
)

// Sample is one answered turn offered for capture.
type Sample struct {
	UserID     string
	MessageID  string
	Capability string
	Market     string
	NicheTerms []string
	Prompt     string
	Response   string
	Sources    []rag.Candidate
}

// Store persists training records.
type Store interface {
	ConsentGetter
	CreateTrainingRequest(ctx context.Context, create *store.TrainingRequest) (*store.TrainingRequest, error)
	CreateTrainingResponse(ctx context.Context, create *store.TrainingResponse) (*store.TrainingResponse, error)
}

// Options tunes a Collector. Zero values take package defaults.
type Options struct {
	Workers   int
	QueueSize int
	Metrics   metrics.Recorder
}

// Collector queues samples and persists the eligible ones from a fixed
// pool of workers.
type Collector struct {
	store   Store
	checker *EligibilityChecker
	metrics metrics.Recorder

	queue chan Sample
	errs  chan error
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewCollector starts the worker pool. Call Close to stop it.
func NewCollector(s Store, checker *EligibilityChecker, opts Options) *Collector {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}

	c := &Collector{
		store:   s,
		checker: checker,
		metrics: opts.Metrics,
		queue:   make(chan Sample, opts.QueueSize),
		errs:    make(chan error, errorBuffer),
	}
	for i := 0; i < opts.Workers; i++ {
		c.wg.Add(1)
		go c.work()
	}
	return c
}

// Collect enqueues sample without blocking. The context is not retained;
// persistence outlives the request that produced the sample.
func (c *Collector) Collect(_ context.Context, sample Sample) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		// The error channel may already be closed.
		c.metrics.RecordTrainingDrop(DropClosed)
		slog.Warn("training sample dropped", slog.String("reason", DropClosed), slog.String("message_id", sample.MessageID))
		return
	}
	select {
	case c.queue <- sample:
	default:
		c.drop(DropQueueFull, ErrQueueFull, sample)
	}
}

// Errors returns the channel that receives every capture failure. It is
// closed by Close. Errors are dropped when nobody reads it.
func (c *Collector) Errors() <-chan error {
	return c.errs
}

// Close stops accepting samples and waits for queued ones to be processed.
func (c *Collector) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.queue)
	c.mu.Unlock()

	c.wg.Wait()
	close(c.errs)
}

func (c *Collector) work() {
	defer c.wg.Done()
	for sample := range c.queue {
		c.process(sample)
	}
}

func (c *Collector) process(sample Sample) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	eligible, err := c.checker.Eligible(ctx, sample.UserID)
	if err != nil {
		c.drop(DropEligibility, err, sample)
		return
	}
	if !eligible {
		c.metrics.RecordTrainingDrop(DropIneligible)
		return
	}

	if err := c.persist(ctx, sample); err != nil {
		c.drop(DropPersistence, err, sample)
		return
	}
	slog.Debug("training sample stored",
		slog.String("user_id", sample.UserID),
		slog.String("message_id", sample.MessageID),
	)
}

type sourceContext struct {
	ID    string  `json:"id"`
	Type  string  `json:"type"`
	Label string  `json:"label"`
	Score float32 `json:"score"`
	Scope string  `json:"scope"`
}

type requestContext struct {
	Market     string          `json:"market,omitempty"`
	NicheTerms []string        `json:"nicheTerms,omitempty"`
	Sources    []sourceContext `json:"sources"`
}

func (c *Collector) persist(ctx context.Context, sample Sample) error {
	rc := requestContext{
		Market:     sample.Market,
		NicheTerms: sample.NicheTerms,
		Sources:    make([]sourceContext, 0, len(sample.Sources)),
	}
	for _, src := range sample.Sources {
		rc.Sources = append(rc.Sources, sourceContext{
			ID:    src.SourceID,
			Type:  src.SourceType,
			Label: src.Label,
			Score: src.Score,
			Scope: string(src.Scope),
		})
	}
	contextJSON, err := json.Marshal(rc)
	if err != nil {
		return errors.Wrap(err, "failed to marshal training context")
	}

	now := time.Now().UnixMilli()
	request, err := c.store.CreateTrainingRequest(ctx, &store.TrainingRequest{
		ID:         shortuuid.New(),
		UserID:     sample.UserID,
		MessageID:  sample.MessageID,
		Capability: sample.Capability,
		Market:     sample.Market,
		Prompt:     sample.Prompt,
		Context:    string(contextJSON),
		CreatedTs:  now,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create training request")
	}

	_, err = c.store.CreateTrainingResponse(ctx, &store.TrainingResponse{
		ID:        shortuuid.New(),
		RequestID: request.ID,
		Content:   sample.Response,
		TokensIn:  prompt.EstimateTokens(sample.Prompt),
		TokensOut: prompt.EstimateTokens(sample.Response),
		CreatedTs: now,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create training response")
	}
	return nil
}

func (c *Collector) drop(reason string, err error, sample Sample) {
	c.metrics.RecordTrainingDrop(reason)
	slog.Warn("training sample dropped",
		slog.String("reason", reason),
		slog.String("user_id", sample.UserID),
		slog.String("message_id", sample.MessageID),
		slog.String("error", err.Error()),
	)
	select {
	case c.errs <- errors.Wrapf(err, "message %s", sample.MessageID):
	default:
	}
}
