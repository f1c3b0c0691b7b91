package training

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/marketsense/plugin/ai/rag"
	"github.com/hrygo/marketsense/store"
)

type fakeStore struct {
	mu        sync.Mutex
	consents  map[string]*store.TrainingConsent
	requests  []*store.TrainingRequest
	responses []*store.TrainingResponse

	consentErr error
	createErr  error
	// started and gate let a test hold a worker inside a consent lookup.
	started chan struct{}
	gate    chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{consents: map[string]*store.TrainingConsent{}}
}

func (f *fakeStore) GetTrainingConsent(_ context.Context, userID string) (*store.TrainingConsent, error) {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.consentErr != nil {
		return nil, f.consentErr
	}
	return f.consents[userID], nil
}

func (f *fakeStore) CreateTrainingRequest(_ context.Context, create *store.TrainingRequest) (*store.TrainingRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.requests = append(f.requests, create)
	return create, nil
}

func (f *fakeStore) CreateTrainingResponse(_ context.Context, create *store.TrainingResponse) (*store.TrainingResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, create)
	return create, nil
}

func (f *fakeStore) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests), len(f.responses)
}

type countingRecorder struct {
	mu    sync.Mutex
	drops map[string]int
}

func (r *countingRecorder) RecordRetrieval(string, time.Duration, int, bool) {}
func (r *countingRecorder) RecordAnswer(string, string, time.Duration)        {}
func (r *countingRecorder) RecordTrainingDrop(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.drops == nil {
		r.drops = map[string]int{}
	}
	r.drops[reason]++
}

func (r *countingRecorder) count(reason string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.drops[reason]
}

func newChecker(t *testing.T, s ConsentGetter, policy string) *EligibilityChecker {
	t.Helper()
	checker, err := NewEligibilityChecker(s, policy)
	require.NoError(t, err)
	return checker
}

func TestEligibilityChecker(t *testing.T) {
	s := newFakeStore()
	s.consents["in-free"] = &store.TrainingConsent{UserID: "in-free", OptedIn: true, Plan: "free"}
	s.consents["in-pro"] = &store.TrainingConsent{UserID: "in-pro", OptedIn: true, Plan: "pro"}
	s.consents["out-pro"] = &store.TrainingConsent{UserID: "out-pro", OptedIn: false, Plan: "pro"}

	tests := []struct {
		name   string
		policy string
		user   string
		want   bool
	}{
		{"default opted in", "", "in-free", true},
		{"default opted out", "", "out-pro", false},
		{"default missing consent", "", "nobody", false},
		{"plan policy match", `opted_in && plan == "pro"`, "in-pro", true},
		{"plan policy mismatch", `opted_in && plan == "pro"`, "in-free", false},
		{"plan only policy ignores missing consent", `plan == "pro"`, "nobody", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := newChecker(t, s, tt.policy)
			got, err := checker.Eligible(context.Background(), tt.user)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEligibilityChecker_InvalidPolicy(t *testing.T) {
	_, err := NewEligibilityChecker(newFakeStore(), "opted_in &&")
	assert.Error(t, err)

	_, err = NewEligibilityChecker(newFakeStore(), "unknown_var")
	assert.Error(t, err)

	checker := newChecker(t, newFakeStore(), "plan")
	_, err = checker.Evaluate(&store.TrainingConsent{Plan: "pro"})
	assert.Error(t, err)
}

func TestEligibilityChecker_ConsentError(t *testing.T) {
	s := newFakeStore()
	s.consentErr = errors.New("db down")
	checker := newChecker(t, s, "")

	eligible, err := checker.Eligible(context.Background(), "u")
	assert.Error(t, err)
	assert.False(t, eligible)
}

func sample(userID, messageID string) Sample {
	return Sample{
		UserID:     userID,
		MessageID:  messageID,
		Capability: "market_brief",
		Market:     "etsy",
		Prompt:     "prompt text of 24 chars!",
		Response:   "answer [1]",
		Sources: []rag.Candidate{
			{SourceID: "kw-1", SourceType: "keyword", Label: "boho", Score: 0.8, Scope: store.OwnerScopeUser},
		},
	}
}

func TestCollector_PersistsEligibleSamples(t *testing.T) {
	s := newFakeStore()
	s.consents["u1"] = &store.TrainingConsent{UserID: "u1", OptedIn: true}
	recorder := &countingRecorder{}
	c := NewCollector(s, newChecker(t, s, ""), Options{Metrics: recorder})

	c.Collect(context.Background(), sample("u1", "m1"))
	c.Collect(context.Background(), sample("u2", "m2"))
	c.Close()

	require.Len(t, s.requests, 1)
	require.Len(t, s.responses, 1)
	request, response := s.requests[0], s.responses[0]
	assert.Equal(t, "m1", request.MessageID)
	assert.NotEmpty(t, request.ID)
	assert.Equal(t, request.ID, response.RequestID)
	assert.Equal(t, 6, response.TokensIn)
	assert.Equal(t, 3, response.TokensOut)
	assert.Equal(t, "answer [1]", response.Content)

	var rc map[string]any
	require.NoError(t, json.Unmarshal([]byte(request.Context), &rc))
	assert.Equal(t, "etsy", rc["market"])
	require.Len(t, rc["sources"], 1)

	assert.Equal(t, 1, recorder.count(DropIneligible))
	for err := range c.Errors() {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestCollector_QueueFull(t *testing.T) {
	s := newFakeStore()
	s.consents["u"] = &store.TrainingConsent{UserID: "u", OptedIn: true}
	s.started = make(chan struct{}, 8)
	s.gate = make(chan struct{})
	recorder := &countingRecorder{}
	c := NewCollector(s, newChecker(t, s, ""), Options{Workers: 1, QueueSize: 1, Metrics: recorder})

	c.Collect(context.Background(), sample("u", "m1"))
	<-s.started // the only worker is now busy with m1

	done := make(chan struct{})
	go func() {
		c.Collect(context.Background(), sample("u", "m2")) // queued
		c.Collect(context.Background(), sample("u", "m3")) // dropped
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Collect blocked on a full queue")
	}

	select {
	case err := <-c.Errors():
		assert.ErrorIs(t, err, ErrQueueFull)
	case <-time.After(time.Second):
		t.Fatal("expected ErrQueueFull")
	}
	assert.Equal(t, 1, recorder.count(DropQueueFull))

	close(s.gate)
	c.Close()
	requests, responses := s.counts()
	assert.Equal(t, 2, requests)
	assert.Equal(t, 2, responses)
}

func TestCollector_PersistenceErrorIsReported(t *testing.T) {
	s := newFakeStore()
	s.consents["u"] = &store.TrainingConsent{UserID: "u", OptedIn: true}
	s.createErr = errors.New("disk full")
	recorder := &countingRecorder{}
	c := NewCollector(s, newChecker(t, s, ""), Options{Metrics: recorder})

	c.Collect(context.Background(), sample("u", "m1"))
	c.Close()

	var errs []error
	for err := range c.Errors() {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "disk full")
	assert.Equal(t, 1, recorder.count(DropPersistence))
}

func TestCollector_CloseDrainsAndIsIdempotent(t *testing.T) {
	s := newFakeStore()
	s.consents["u"] = &store.TrainingConsent{UserID: "u", OptedIn: true}
	c := NewCollector(s, newChecker(t, s, ""), Options{Workers: 3, QueueSize: 32})

	for i := 0; i < 20; i++ {
		c.Collect(context.Background(), sample("u", "m"))
	}
	c.Close()
	c.Close()

	requests, _ := s.counts()
	assert.Equal(t, 20, requests)

	assert.NotPanics(t, func() { c.Collect(context.Background(), sample("u", "late")) })
	requests, _ = s.counts()
	assert.Equal(t, 20, requests)
}
