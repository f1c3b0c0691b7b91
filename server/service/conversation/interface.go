package conversation

import (
	"context"

	"github.com/hrygo/marketsense/store"
)

// Service owns the thread and message lifecycle. Ownership mismatches are
// reported as not found so callers cannot probe for other users' data.
type Service interface {
	// EnsureThread returns the caller's thread, or creates one when threadID is empty.
	EnsureThread(ctx context.Context, userID, threadID string) (*store.Thread, error)

	// UpdateThreadTitle sets the title from a candidate, trimmed and cut to MaxTitleRunes.
	UpdateThreadTitle(ctx context.Context, threadID, candidate string) (*store.Thread, error)

	// UpdateThreadStats recomputes the message count and last message time.
	UpdateThreadStats(ctx context.Context, threadID string) (*store.Thread, error)

	InsertUserMessage(ctx context.Context, insert *UserMessage) (*store.Message, error)
	InsertAssistantMessage(ctx context.Context, insert *AssistantMessage) (*store.Message, error)

	// LoadThreadHistory returns the newest maxMessages live messages in chronological order.
	LoadThreadHistory(ctx context.Context, threadID string, maxMessages int) ([]*store.Message, error)

	ArchiveThread(ctx context.Context, threadID, userID string) (*store.Thread, error)

	// DeleteMessage soft-deletes a message without any ownership check.
	DeleteMessage(ctx context.Context, messageID string) error
	// DeleteMessageForUser soft-deletes a message in one of userID's threads.
	DeleteMessageForUser(ctx context.Context, userID, messageID string) error

	ListThreads(ctx context.Context, userID string, includeArchived bool) ([]*store.Thread, error)
	GetThread(ctx context.Context, userID, threadID string) (*store.Thread, error)
	// ListMessages returns the live messages of a thread in chronological order.
	ListMessages(ctx context.Context, userID, threadID string) ([]*store.Message, error)
}

// UserMessage is the input of InsertUserMessage.
type UserMessage struct {
	ThreadID   string
	Content    string
	Capability string
	// Context is the JSON encoded structured context sent with the turn.
	Context string
}

// AssistantMessage is the input of InsertAssistantMessage.
type AssistantMessage struct {
	ThreadID           string
	Content            string
	Capability         string
	ModelID            string
	RetrievedSourceIDs []string
	Generation         *store.GenerationMetadata
	Flags              *store.ResponseFlags
	TrainingEligible   bool
}
