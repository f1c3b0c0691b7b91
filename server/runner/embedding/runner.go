package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/marketsense/plugin/ai"
	"github.com/hrygo/marketsense/store"
)

// maxEmbedRunes keeps indexed text within provider input limits.
const maxEmbedRunes = 8000

// Runner backfills embeddings for corpus chunks stored without one.
type Runner struct {
	store            *store.Store
	embeddingService ai.EmbeddingService
	interval         time.Duration
	batchSize        int
}

// NewRunner creates a corpus embedding runner.
func NewRunner(store *store.Store, embeddingService ai.EmbeddingService) *Runner {
	return &Runner{
		store:            store,
		embeddingService: embeddingService,
		interval:         2 * time.Minute,
		batchSize:        16,
	}
}

// Run starts the background task.
func (r *Runner) Run(ctx context.Context) {
	// Process once on startup
	r.processPending(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.processPending(ctx)
		case <-ctx.Done():
			slog.Info("embedding runner stopped")
			return
		}
	}
}

// RunOnce embeds every pending chunk and returns how many were indexed.
func (r *Runner) RunOnce(ctx context.Context) (int, error) {
	total := 0
	for {
		chunks, err := r.store.FindChunksWithoutEmbedding(ctx, &store.FindChunksWithoutEmbedding{
			Limit: r.batchSize * 20,
		})
		if err != nil {
			return total, err
		}
		if len(chunks) == 0 {
			return total, nil
		}

		indexed := 0
		for i := 0; i < len(chunks); i += r.batchSize {
			if err := ctx.Err(); err != nil {
				return total, err
			}
			end := min(i+r.batchSize, len(chunks))
			n, err := r.processBatch(ctx, chunks[i:end])
			if err != nil {
				return total, err
			}
			indexed += n
		}
		total += indexed
		// Every chunk in this page failed to store; stop instead of spinning.
		if indexed == 0 {
			return total, errors.New("no chunk could be indexed")
		}
	}
}

func (r *Runner) processPending(ctx context.Context) {
	n, err := r.RunOnce(ctx)
	if err != nil && ctx.Err() == nil {
		slog.Error("failed to index corpus", "indexed", n, "error", err)
		return
	}
	if n > 0 {
		slog.Info("corpus chunks indexed", "count", n)
	}
}

func (r *Runner) processBatch(ctx context.Context, chunks []*store.CorpusChunk) (int, error) {
	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = EmbeddingText(chunk)
	}

	vectors, err := r.embeddingService.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, errors.Wrap(err, "failed to embed batch")
	}
	if len(vectors) != len(chunks) {
		return 0, fmt.Errorf("embedding service returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	stored := 0
	for i, chunk := range chunks {
		if err := ai.CheckDimensions(vectors[i], r.embeddingService.Dimensions()); err != nil {
			return stored, err
		}
		if err := r.store.UpdateChunkEmbedding(ctx, chunk.ID, vectors[i]); err != nil {
			slog.Error("failed to store embedding", "chunkID", chunk.ID, "sourceID", chunk.SourceID, "error", err)
			continue
		}
		stored++
	}
	return stored, nil
}

// EmbeddingText is the text indexed for a chunk: its label followed by
// the chunk body.
func EmbeddingText(chunk *store.CorpusChunk) string {
	text := strings.TrimSpace(chunk.Label + "\n" + chunk.Chunk)
	runes := []rune(text)
	if len(runes) > maxEmbedRunes {
		return string(runes[:maxEmbedRunes])
	}
	return text
}
