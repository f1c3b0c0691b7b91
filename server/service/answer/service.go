// Package answer runs the question answering pipeline: detect the
// capability, retrieve and rank evidence, generate a grounded answer and
// persist the exchange.
package answer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/hrygo/marketsense/internal/profile"
	"github.com/hrygo/marketsense/plugin/ai"
	"github.com/hrygo/marketsense/plugin/ai/capability"
	"github.com/hrygo/marketsense/plugin/ai/metrics"
	"github.com/hrygo/marketsense/plugin/ai/prompt"
	"github.com/hrygo/marketsense/plugin/ai/rag"
	"github.com/hrygo/marketsense/plugin/ai/timeout"
	"github.com/hrygo/marketsense/plugin/ai/training"
	aierrors "github.com/hrygo/marketsense/server/internal/errors"
	"github.com/hrygo/marketsense/server/internal/observability"
	"github.com/hrygo/marketsense/server/service/conversation"
	"github.com/hrygo/marketsense/store"
	"github.com/hrygo/marketsense/store/cache"
)

// Retriever gathers candidate evidence for a question.
type Retriever interface {
	Retrieve(ctx context.Context, req rag.RetrieveRequest) (*rag.RetrieveResult, error)
}

// Collector accepts answered turns for training capture.
type Collector interface {
	Collect(ctx context.Context, sample training.Sample)
}

// Eligibility tells whether a user's turns may be captured for training.
type Eligibility interface {
	Eligible(ctx context.Context, userID string) (bool, error)
}

// Config holds the pipeline tunables. Zero values take defaults.
type Config struct {
	RefusalPhrase     string
	HistoryWindow     int
	RerankTopN        int
	MinEvidenceScore  float32
	RetrievalTimeout  time.Duration
	GenerationTimeout time.Duration
	RequestTimeout    time.Duration
}

// Dependencies are the collaborators of the pipeline. Collector,
// Eligibility, Idempotency and Metrics are optional.
type Dependencies struct {
	Conversation conversation.Service
	Detector     *capability.Detector
	Retriever    Retriever
	Assembler    *prompt.Assembler
	Generator    ai.GenerationService
	Collector    Collector
	Eligibility  Eligibility
	Idempotency  cache.IdempotencyStore
	Metrics      metrics.Recorder
}

// Service answers questions.
type Service struct {
	deps   Dependencies
	config Config
}

// NewService creates the answer service.
func NewService(deps Dependencies, config Config) *Service {
	if config.RefusalPhrase == "" && deps.Assembler != nil {
		config.RefusalPhrase = deps.Assembler.RefusalPhrase
	}
	if config.RefusalPhrase == "" {
		config.RefusalPhrase = profile.DefaultRefusalPhrase
	}
	if config.HistoryWindow <= 0 {
		config.HistoryWindow = conversation.DefaultHistoryWindow
	}
	if config.RerankTopN <= 0 {
		config.RerankTopN = rag.DefaultTopN
	}
	if config.MinEvidenceScore <= 0 {
		config.MinEvidenceScore = rag.DefaultMinScore
	}
	if config.RetrievalTimeout <= 0 {
		config.RetrievalTimeout = timeout.EmbeddingTimeout + timeout.SearchTimeout
	}
	if config.GenerationTimeout <= 0 {
		config.GenerationTimeout = timeout.GenerationTimeout
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = timeout.RequestTimeout
	}
	if deps.Detector == nil {
		deps.Detector = capability.NewDetector(capability.DefaultRuleTable())
	}
	if deps.Assembler == nil {
		deps.Assembler = prompt.NewAssembler(config.RefusalPhrase)
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop{}
	}
	return &Service{deps: deps, config: config}
}

// Ask answers req for userID.
func (s *Service) Ask(ctx context.Context, userID string, req *Request) (*Response, error) {
	start := time.Now()
	reqCtx := observability.FromContextOrNew(ctx, userID)

	if err := req.Validate(); err != nil {
		s.deps.Metrics.RecordAnswer("", metrics.OutcomeInvalidInput, time.Since(start))
		reqCtx.Warn("rejected invalid request", slog.String("reason", err.Error()))
		return nil, err
	}

	if req.IdempotencyKey != "" && s.deps.Idempotency != nil {
		return s.askOnce(ctx, userID, req, start, reqCtx)
	}
	return s.ask(ctx, userID, req, start, reqCtx)
}

// askOnce runs ask under an idempotency key: a completed key replays the
// stored response and a key still in flight is a conflict.
func (s *Service) askOnce(ctx context.Context, userID string, req *Request, start time.Time, reqCtx *observability.RequestContext) (*Response, error) {
	key := cache.Key(userID, req.IdempotencyKey)
	state, payload, err := s.deps.Idempotency.Acquire(ctx, key)
	if err != nil {
		return nil, aierrors.PersistenceFailed("failed to check idempotency key", err)
	}

	switch state {
	case cache.StateCompleted:
		response := &Response{}
		if err := json.Unmarshal(payload, response); err != nil {
			return nil, aierrors.PersistenceFailed("failed to decode stored response", err)
		}
		reqCtx.Info("replayed idempotent response", slog.String(observability.LogFieldThreadID, response.ThreadID))
		s.deps.Metrics.RecordAnswer(response.Capability, metrics.OutcomeReplayed, time.Since(start))
		return response, nil
	case cache.StateInFlight:
		return nil, aierrors.Conflict("a request with this idempotency key is already in progress")
	}

	response, err := s.ask(ctx, userID, req, start, reqCtx)
	if err != nil {
		// Let the client retry with the same key.
		if releaseErr := s.deps.Idempotency.Release(context.WithoutCancel(ctx), key); releaseErr != nil {
			reqCtx.Error("failed to release idempotency key", releaseErr)
		}
		return nil, err
	}

	payload, err = json.Marshal(response)
	if err == nil {
		err = s.deps.Idempotency.Complete(context.WithoutCancel(ctx), key, payload)
	}
	if err != nil {
		// The answer is already persisted; only replay is lost.
		reqCtx.Error("failed to store idempotent response", err)
	}
	return response, nil
}

func (s *Service) ask(ctx context.Context, userID string, req *Request, start time.Time, reqCtx *observability.RequestContext) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	message := strings.TrimSpace(req.Message)

	resolved := s.resolveCapability(req.Capability, message)
	reqCtx.SetCapability(string(resolved))

	// A new thread is only created once there is an answer to store.
	var thread *store.Thread
	var history []*store.Message
	if req.ThreadID != "" {
		var err error
		thread, err = s.deps.Conversation.EnsureThread(ctx, userID, req.ThreadID)
		if err != nil {
			return nil, s.fail(resolved, start, reqCtx, asPersistence("failed to load thread", err))
		}
		history, err = s.deps.Conversation.LoadThreadHistory(ctx, thread.ID, s.config.HistoryWindow)
		if err != nil {
			return nil, s.fail(resolved, start, reqCtx, asPersistence("failed to load history", err))
		}
	}

	candidates, fallback, err := s.retrieve(ctx, userID, req, message, resolved, reqCtx)
	if err != nil {
		return nil, s.fail(resolved, start, reqCtx, err)
	}

	// Threshold before truncating so weak rows cannot crowd out usable ones.
	evaluation := rag.Evaluate(candidates, s.config.MinEvidenceScore)
	kept := rag.Rerank(evaluation.Kept, s.config.RerankTopN)
	insufficient := len(kept) == 0

	response := &Response{
		Capability: string(resolved),
		Flags: Flags{
			FallbackToGeneric:   fallback,
			InsufficientContext: insufficient,
		},
	}

	var promptText string
	var generation *ai.Generation
	if insufficient {
		// Refuse without spending a generation on nothing.
		response.Answer = s.config.RefusalPhrase
		response.Model = ModelInfo{ID: ModelIDRefusal}
		response.Sources = []Source{}
		response.References = newReferences(nil)
	} else {
		promptText = s.deps.Assembler.BuildForPeriod(resolved, kept, history, message, req.Context.period())
		generation, err = s.generate(ctx, req, promptText)
		if err != nil {
			return nil, s.fail(resolved, start, reqCtx, err)
		}
		response.Answer = generation.Text
		response.Model = ModelInfo{
			ID:        generation.Model,
			Usage:     &Usage{TokensIn: generation.TokensIn, TokensOut: generation.TokensOut},
			LatencyMs: generation.LatencyMs,
		}
		response.Sources = newSources(kept)
		response.References = newReferences(kept)
		response.Flags.UsedRAG = true
	}

	eligible := generation != nil && s.trainingEligible(ctx, userID, reqCtx)
	thread, assistant, err := s.persist(ctx, userID, thread, req, message, response, kept, generation, eligible)
	if err != nil {
		return nil, s.fail(resolved, start, reqCtx, err)
	}
	response.ThreadID = thread.ID
	response.MessageID = assistant.ID

	if eligible && s.deps.Collector != nil {
		s.deps.Collector.Collect(ctx, training.Sample{
			UserID:     userID,
			MessageID:  assistant.ID,
			Capability: string(resolved),
			Market:     req.Context.marketplace(),
			NicheTerms: nicheTerms(message),
			Prompt:     promptText,
			Response:   response.Answer,
			Sources:    kept,
		})
	}

	outcome := metrics.OutcomeAnswered
	switch {
	case response.Flags.InsufficientContext:
		outcome = metrics.OutcomeRefused
	case response.Flags.FallbackToGeneric:
		outcome = metrics.OutcomeFallback
	}
	s.deps.Metrics.RecordAnswer(string(resolved), outcome, time.Since(start))
	reqCtx.Info("answered",
		slog.String(observability.LogFieldThreadID, response.ThreadID),
		slog.String("outcome", outcome),
		slog.Int("sources", len(response.Sources)),
		slog.Int(observability.LogFieldMessageLen, len(message)),
		slog.Int64(observability.LogFieldDuration, time.Since(start).Milliseconds()),
	)
	return response, nil
}

func (s *Service) resolveCapability(override, message string) capability.Capability {
	if c, ok := capability.Parse(override); ok {
		return c
	}
	return s.deps.Detector.Detect(message)
}

// retrieve returns the candidates and whether retrieval degraded. Only a
// non-timeout embedding failure is an error.
func (s *Service) retrieve(ctx context.Context, userID string, req *Request, message string, c capability.Capability, reqCtx *observability.RequestContext) ([]rag.Candidate, bool, error) {
	var language string
	if req.Options != nil {
		language = req.Options.Language
	}

	retrieveCtx, cancel := context.WithTimeout(ctx, s.config.RetrievalTimeout)
	defer cancel()
	result, err := s.deps.Retriever.Retrieve(retrieveCtx, rag.RetrieveRequest{
		Query:       message,
		UserID:      userID,
		Capability:  c,
		Marketplace: req.Context.marketplace(),
		Language:    language,
		EntityRefs:  req.Context.entityRefs(),
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			reqCtx.Warn("retrieval timed out, answering without evidence", slog.String("error", err.Error()))
			return nil, true, nil
		}
		if ctx.Err() != nil {
			return nil, false, aierrors.Timeout("request timed out during retrieval", err)
		}
		return nil, false, aierrors.EmbeddingFailed(err)
	}
	return result.Candidates, result.SearchFailed, nil
}

func (s *Service) generate(ctx context.Context, req *Request, promptText string) (*ai.Generation, error) {
	genReq := ai.GenerateRequest{Prompt: promptText, Temperature: -1}
	if req.Options != nil {
		if req.Options.MaxTokens != nil {
			genReq.MaxTokens = *req.Options.MaxTokens
		}
		if req.Options.Temperature != nil {
			genReq.Temperature = float32(*req.Options.Temperature)
		}
	}

	genCtx, cancel := context.WithTimeout(ctx, s.config.GenerationTimeout)
	defer cancel()
	generation, err := s.deps.Generator.Generate(genCtx, genReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, aierrors.Timeout("generation timed out", err)
		}
		return nil, aierrors.GenerationFailed(err)
	}
	if strings.TrimSpace(generation.Text) == "" {
		return nil, aierrors.GenerationFailed(errors.New("empty completion"))
	}
	return generation, nil
}

// persist writes both turns, the first-turn title and the thread stats.
// Nothing is written before the answer exists.
func (s *Service) persist(ctx context.Context, userID string, thread *store.Thread, req *Request, message string, response *Response, kept []rag.Candidate, generation *ai.Generation, eligible bool) (*store.Thread, *store.Message, error) {
	var contextJSON string
	if req.Context != nil {
		bytes, err := json.Marshal(req.Context)
		if err != nil {
			return nil, nil, aierrors.PersistenceFailed("failed to encode request context", err)
		}
		contextJSON = string(bytes)
	}
	if thread == nil {
		var err error
		if thread, err = s.deps.Conversation.EnsureThread(ctx, userID, ""); err != nil {
			return nil, nil, asPersistence("failed to create thread", err)
		}
	}

	if _, err := s.deps.Conversation.InsertUserMessage(ctx, &conversation.UserMessage{
		ThreadID:   thread.ID,
		Content:    message,
		Capability: response.Capability,
		Context:    contextJSON,
	}); err != nil {
		return nil, nil, asPersistence("failed to insert user message", err)
	}

	assistant := &conversation.AssistantMessage{
		ThreadID:           thread.ID,
		Content:            response.Answer,
		Capability:         response.Capability,
		ModelID:            response.Model.ID,
		RetrievedSourceIDs: rag.SourceIDs(kept),
		Flags: &store.ResponseFlags{
			UsedRAG:             response.Flags.UsedRAG,
			FallbackToGeneric:   response.Flags.FallbackToGeneric,
			InsufficientContext: response.Flags.InsufficientContext,
		},
		TrainingEligible: eligible,
	}
	if response.Flags.InsufficientContext {
		assistant.RetrievedSourceIDs = []string{}
	}
	if generation != nil {
		// -1 records the provider default.
		temperature := float32(-1)
		if req.Options != nil && req.Options.Temperature != nil {
			temperature = float32(*req.Options.Temperature)
		}
		assistant.Generation = &store.GenerationMetadata{
			TokensIn:    generation.TokensIn,
			TokensOut:   generation.TokensOut,
			LatencyMs:   generation.LatencyMs,
			Temperature: temperature,
		}
	}
	inserted, err := s.deps.Conversation.InsertAssistantMessage(ctx, assistant)
	if err != nil {
		return nil, nil, asPersistence("failed to insert assistant message", err)
	}

	if thread.Title == nil {
		if _, err := s.deps.Conversation.UpdateThreadTitle(ctx, thread.ID, message); err != nil {
			return nil, nil, asPersistence("failed to set thread title", err)
		}
	}
	if _, err := s.deps.Conversation.UpdateThreadStats(ctx, thread.ID); err != nil {
		return nil, nil, asPersistence("failed to update thread stats", err)
	}
	return thread, inserted, nil
}

func (s *Service) trainingEligible(ctx context.Context, userID string, reqCtx *observability.RequestContext) bool {
	if s.deps.Eligibility == nil || s.deps.Collector == nil {
		return false
	}
	eligible, err := s.deps.Eligibility.Eligible(ctx, userID)
	if err != nil {
		// Capture is best effort; never fail the answer over it.
		reqCtx.Warn("training eligibility check failed", slog.String("error", err.Error()))
		s.deps.Metrics.RecordTrainingDrop(training.DropEligibility)
		return false
	}
	return eligible
}

func (s *Service) fail(c capability.Capability, start time.Time, reqCtx *observability.RequestContext, err error) error {
	s.deps.Metrics.RecordAnswer(string(c), metrics.OutcomeFailed, time.Since(start))
	reqCtx.Error("answer failed", err,
		slog.String(observability.LogFieldErrorCode, string(aierrors.GetCodeFromError(err, aierrors.ErrCodeInternal))),
		slog.Int64(observability.LogFieldDuration, time.Since(start).Milliseconds()),
	)
	return err
}

// asPersistence keeps coded errors such as NotFound and wraps store errors.
func asPersistence(msg string, err error) error {
	var aiErr *aierrors.AIError
	if errors.As(err, &aiErr) {
		return err
	}
	return aierrors.PersistenceFailed(msg, err)
}

// nicheTerms extracts the distinct content words of a question.
func nicheTerms(message string) []string {
	seen := map[string]bool{}
	var terms []string
	for _, field := range strings.FieldsFunc(strings.ToLower(message), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len([]rune(field)) < 4 || seen[field] {
			continue
		}
		seen[field] = true
		terms = append(terms, field)
	}
	return terms
}
