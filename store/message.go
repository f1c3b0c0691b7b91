package store

import "context"

type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// GenerationMetadata records how an assistant turn was produced.
type GenerationMetadata struct {
	TokensIn    int     `json:"tokens_in"`
	TokensOut   int     `json:"tokens_out"`
	LatencyMs   int64   `json:"latencyMs"`
	Temperature float32 `json:"temperature"`
}

// ResponseFlags describes how retrieval informed an assistant turn.
type ResponseFlags struct {
	UsedRAG             bool `json:"usedRag"`
	FallbackToGeneric   bool `json:"fallbackToGeneric"`
	InsufficientContext bool `json:"insufficientContext"`
}

// Message is one conversational turn. Messages are append-only; deletion
// only sets DeletedTs.
type Message struct {
	ID         string
	ThreadID   string
	Role       MessageRole
	Content    string
	CreatedTs  int64
	Capability string
	// Context is the JSON encoded structured context of a user turn.
	Context string

	// Assistant turns only.
	ModelID            string
	RetrievedSourceIDs []string
	Generation         *GenerationMetadata
	Flags              *ResponseFlags

	TrainingEligible bool
	DeletedTs        *int64
}

type FindMessage struct {
	ID       *string
	ThreadID *string
	// ExcludeDeleted drops soft-deleted messages.
	ExcludeDeleted bool
	// OrderDesc lists newest first; the default is chronological.
	OrderDesc bool
	Limit     *int
}

type UpdateMessage struct {
	ID        string
	DeletedTs *int64
}

func (s *Store) CreateMessage(ctx context.Context, create *Message) (*Message, error) {
	return s.driver.CreateMessage(ctx, create)
}

func (s *Store) ListMessages(ctx context.Context, find *FindMessage) ([]*Message, error) {
	return s.driver.ListMessages(ctx, find)
}

// GetMessage returns the message matching find, or nil when none does.
func (s *Store) GetMessage(ctx context.Context, find *FindMessage) (*Message, error) {
	list, err := s.driver.ListMessages(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (s *Store) UpdateMessage(ctx context.Context, update *UpdateMessage) error {
	return s.driver.UpdateMessage(ctx, update)
}
