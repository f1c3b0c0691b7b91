// Package timeout defines centralized timeout constants for AI operations.
package timeout

import "time"

const (
	// EmbeddingTimeout bounds a single query embedding call.
	EmbeddingTimeout = 10 * time.Second

	// SearchTimeout bounds the hybrid search and entity fetch.
	SearchTimeout = 5 * time.Second

	// GenerationTimeout bounds one completion request.
	GenerationTimeout = 60 * time.Second

	// RequestTimeout bounds a whole answer request.
	RequestTimeout = 90 * time.Second

	// MaxTruncateLength is the maximum length for truncating strings in logs.
	MaxTruncateLength = 200
)
