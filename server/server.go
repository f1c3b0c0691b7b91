// Package server wires the answering pipeline behind the HTTP API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/hrygo/marketsense/internal/profile"
	"github.com/hrygo/marketsense/plugin/ai"
	"github.com/hrygo/marketsense/plugin/ai/capability"
	"github.com/hrygo/marketsense/plugin/ai/metrics"
	"github.com/hrygo/marketsense/plugin/ai/prompt"
	"github.com/hrygo/marketsense/plugin/ai/rag"
	"github.com/hrygo/marketsense/plugin/ai/timeout"
	"github.com/hrygo/marketsense/plugin/ai/training"
	"github.com/hrygo/marketsense/server/internal/observability"
	"github.com/hrygo/marketsense/server/middleware"
	apiv1 "github.com/hrygo/marketsense/server/router/api/v1"
	"github.com/hrygo/marketsense/server/runner/embedding"
	"github.com/hrygo/marketsense/server/service/answer"
	"github.com/hrygo/marketsense/server/service/conversation"
	"github.com/hrygo/marketsense/store"
	"github.com/hrygo/marketsense/store/cache"
)

const (
	// embeddingCacheSize and embeddingCacheTTL bound the query vector cache.
	embeddingCacheSize = 4096
	embeddingCacheTTL  = 30 * time.Minute
	requestBodyLimit   = "64K"
	// RequestsPerSecond and RequestBurst shape the per-user limiter.
	RequestsPerSecond = 2
	RequestBurst      = 10
)

type Server struct {
	Secret  string
	Profile *profile.Profile
	Store   *store.Store

	echoServer  *echo.Echo
	collector   *training.Collector
	idempotency cache.IdempotencyStore
	indexer     *embedding.Runner
	runnerStop  context.CancelFunc
}

// NewServer builds every component from profile. Close releases them.
func NewServer(ctx context.Context, profile *profile.Profile, s *store.Store) (*Server, error) {
	server := &Server{
		Secret:  profile.Secret,
		Profile: profile,
		Store:   s,
	}

	aiConfig := ai.NewConfigFromProfile(profile)
	if !profile.IsAIEnabled() {
		aiConfig.LLM.Provider = "stub"
		slog.Warn("no generation endpoint configured, answering with the offline stub")
	}
	if err := aiConfig.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid AI configuration")
	}
	embedder, err := ai.NewEmbeddingService(&aiConfig.Embedding)
	if err != nil {
		return nil, err
	}
	generator, err := ai.NewGenerationService(&aiConfig.LLM)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder, err := metrics.NewPrometheusRecorder(registry)
	if err != nil {
		return nil, err
	}
	httpMetrics, err := observability.NewHTTPMetrics(registry)
	if err != nil {
		return nil, err
	}

	rules := capability.DefaultRuleTable()
	if profile.CapabilityRules != "" {
		if rules, err = capability.LoadRuleTable(profile.CapabilityRules); err != nil {
			return nil, err
		}
	}

	checker, err := training.NewEligibilityChecker(s, profile.TrainingPolicy)
	if err != nil {
		return nil, err
	}
	server.collector = training.NewCollector(s, checker, training.Options{
		Workers:   profile.TrainingWorkers,
		QueueSize: profile.TrainingQueue,
		Metrics:   recorder,
	})

	if server.idempotency, err = newIdempotencyStore(ctx, profile); err != nil {
		server.collector.Close()
		return nil, err
	}

	conversationService := conversation.NewService(s)
	answerService := answer.NewService(answer.Dependencies{
		Conversation: conversationService,
		Detector:     capability.NewDetector(rules),
		Retriever: rag.NewRetriever(ai.NewCachedEmbeddingService(embedder, embeddingCacheSize, embeddingCacheTTL), s, s, rag.RetrieverOptions{
			EmbeddingTimeout: timeout.EmbeddingTimeout,
			SearchTimeout:    timeout.SearchTimeout,
			Metrics:          recorder,
		}),
		Assembler:   prompt.NewAssembler(profile.RefusalPhrase),
		Generator:   generator,
		Collector:   server.collector,
		Eligibility: checker,
		Idempotency: server.idempotency,
		Metrics:     recorder,
	}, answer.Config{
		RefusalPhrase:    profile.RefusalPhrase,
		HistoryWindow:    profile.HistoryWindow,
		RerankTopN:       profile.RerankTopN,
		MinEvidenceScore: float32(profile.MinEvidenceScore),
		RetrievalTimeout: profile.RetrievalTimeout,
	})
	server.indexer = embedding.NewRunner(s, embedder)

	echoServer := echo.New()
	echoServer.HideBanner = true
	echoServer.HidePort = true
	echoServer.Use(echomiddleware.Recover())
	echoServer.Use(echomiddleware.BodyLimit(requestBodyLimit))
	server.echoServer = echoServer

	api := &apiv1.APIV1Service{
		Secret:       profile.Secret,
		Version:      profile.Version,
		Answer:       answerService,
		Conversation: conversationService,
		RateLimiter:  middleware.NewRateLimiter(rate.Limit(RequestsPerSecond), RequestBurst),
		HTTPMetrics:  httpMetrics,
		Gatherer:     registry,
	}
	api.Register(echoServer)
	return server, nil
}

func newIdempotencyStore(ctx context.Context, profile *profile.Profile) (cache.IdempotencyStore, error) {
	if profile.RedisAddr == "" {
		return cache.NewMemoryIdempotencyStore(cache.DefaultMemoryEntries, cache.DefaultPendingTTL, cache.DefaultCompletedTTL), nil
	}
	config := cache.DefaultRedisConfig()
	config.Addr = profile.RedisAddr
	config.Password = profile.RedisPassword
	return cache.NewRedisIdempotencyStore(ctx, config)
}

// Start listens on the profile address and starts the corpus indexer. It
// returns once the listener is open.
func (s *Server) Start(ctx context.Context) error {
	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return errors.Wrap(err, "failed to listen")
	}

	runnerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.runnerStop = cancel
	go s.indexer.Run(runnerCtx)

	go func() {
		s.echoServer.Listener = listener
		if err := s.echoServer.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("failed to start echo server", slog.String("error", err.Error()))
		}
	}()
	slog.Info("server started", slog.String("address", address), slog.String("driver", s.Profile.Driver))
	return nil
}

// Shutdown stops accepting requests, drains the training queue and closes
// the store.
func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	slog.Info("server shutting down")
	if err := s.echoServer.Shutdown(ctx); err != nil {
		slog.Error("failed to shutdown echo server", slog.String("error", err.Error()))
	}
	if s.runnerStop != nil {
		s.runnerStop()
	}
	s.collector.Close()
	if err := s.idempotency.Close(); err != nil {
		slog.Error("failed to close idempotency store", slog.String("error", err.Error()))
	}
	if err := s.Store.Close(); err != nil {
		slog.Error("failed to close database", slog.String("error", err.Error()))
	}
	slog.Info("server stopped properly")
}

// Handler exposes the HTTP handler for tests.
func (s *Server) Handler() http.Handler {
	return s.echoServer
}
