// Package conversation manages threads and their messages.
//
// Threads move from new to active to archived; messages from live to
// soft-deleted. Nothing is hard-deleted. Thread statistics are recomputed
// from live messages rather than maintained incrementally.
package conversation

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	aierrors "github.com/hrygo/marketsense/server/internal/errors"
	"github.com/hrygo/marketsense/store"
)

const (
	// MaxTitleRunes bounds thread titles.
	MaxTitleRunes = 100
	// DefaultHistoryWindow is used when LoadThreadHistory gets maxMessages <= 0.
	DefaultHistoryWindow = 10
	// MaxListThreads caps ListThreads.
	MaxListThreads = 200
)

// Store is the interface for store operations needed by the conversation service.
type Store interface {
	CreateThread(ctx context.Context, create *store.Thread) (*store.Thread, error)
	GetThread(ctx context.Context, find *store.FindThread) (*store.Thread, error)
	ListThreads(ctx context.Context, find *store.FindThread) ([]*store.Thread, error)
	UpdateThread(ctx context.Context, update *store.UpdateThread) (*store.Thread, error)
	GetThreadStats(ctx context.Context, threadID string) (*store.ThreadStats, error)

	CreateMessage(ctx context.Context, create *store.Message) (*store.Message, error)
	GetMessage(ctx context.Context, find *store.FindMessage) (*store.Message, error)
	ListMessages(ctx context.Context, find *store.FindMessage) ([]*store.Message, error)
	UpdateMessage(ctx context.Context, update *store.UpdateMessage) error
}

type service struct {
	store Store
	now   func() time.Time
}

// NewService creates a new conversation service.
func NewService(s Store) Service {
	return &service{store: s, now: time.Now}
}

func (s *service) nowMs() int64 {
	return s.now().UnixMilli()
}

func (s *service) EnsureThread(ctx context.Context, userID, threadID string) (*store.Thread, error) {
	if threadID != "" {
		return s.getOwnedThread(ctx, userID, threadID)
	}

	now := s.nowMs()
	return s.store.CreateThread(ctx, &store.Thread{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedTs: now,
		UpdatedTs: now,
		Metadata:  map[string]any{},
	})
}

func (s *service) getOwnedThread(ctx context.Context, userID, threadID string) (*store.Thread, error) {
	thread, err := s.store.GetThread(ctx, &store.FindThread{ID: &threadID})
	if err != nil {
		return nil, err
	}
	if thread == nil || thread.UserID != userID {
		return nil, aierrors.NotFound("thread", threadID)
	}
	return thread, nil
}

// TruncateTitle trims candidate and cuts it to MaxTitleRunes.
func TruncateTitle(candidate string) string {
	title := strings.Join(strings.Fields(candidate), " ")
	runes := []rune(title)
	if len(runes) > MaxTitleRunes {
		title = strings.TrimSpace(string(runes[:MaxTitleRunes]))
	}
	return title
}

func (s *service) UpdateThreadTitle(ctx context.Context, threadID, candidate string) (*store.Thread, error) {
	title := TruncateTitle(candidate)
	if title == "" {
		return s.store.GetThread(ctx, &store.FindThread{ID: &threadID})
	}
	now := s.nowMs()
	return s.store.UpdateThread(ctx, &store.UpdateThread{
		ID:        threadID,
		Title:     &title,
		UpdatedTs: &now,
	})
}

func (s *service) UpdateThreadStats(ctx context.Context, threadID string) (*store.Thread, error) {
	stats, err := s.store.GetThreadStats(ctx, threadID)
	if err != nil {
		return nil, err
	}
	now := s.nowMs()
	return s.store.UpdateThread(ctx, &store.UpdateThread{
		ID:            threadID,
		MessageCount:       &stats.MessageCount,
		LastMessageTs:      stats.LastMessageTs,
		ClearLastMessageTs: stats.LastMessageTs == nil,
		UpdatedTs:          &now,
	})
}

func (s *service) InsertUserMessage(ctx context.Context, insert *UserMessage) (*store.Message, error) {
	return s.store.CreateMessage(ctx, &store.Message{
		ID:         uuid.NewString(),
		ThreadID:   insert.ThreadID,
		Role:       store.MessageRoleUser,
		Content:    insert.Content,
		CreatedTs:  s.nowMs(),
		Capability: insert.Capability,
		Context:    insert.Context,
	})
}

func (s *service) InsertAssistantMessage(ctx context.Context, insert *AssistantMessage) (*store.Message, error) {
	return s.store.CreateMessage(ctx, &store.Message{
		ID:                 uuid.NewString(),
		ThreadID:           insert.ThreadID,
		Role:               store.MessageRoleAssistant,
		Content:            insert.Content,
		CreatedTs:          s.nowMs(),
		Capability:         insert.Capability,
		ModelID:            insert.ModelID,
		RetrievedSourceIDs: insert.RetrievedSourceIDs,
		Generation:         insert.Generation,
		Flags:              insert.Flags,
		TrainingEligible:   insert.TrainingEligible,
	})
}

func (s *service) LoadThreadHistory(ctx context.Context, threadID string, maxMessages int) ([]*store.Message, error) {
	if maxMessages <= 0 {
		maxMessages = DefaultHistoryWindow
	}
	messages, err := s.store.ListMessages(ctx, &store.FindMessage{
		ThreadID:       &threadID,
		ExcludeDeleted: true,
		OrderDesc:      true,
		Limit:          &maxMessages,
	})
	if err != nil {
		return nil, err
	}
	slices.Reverse(messages)
	return messages, nil
}

func (s *service) ArchiveThread(ctx context.Context, threadID, userID string) (*store.Thread, error) {
	if _, err := s.getOwnedThread(ctx, userID, threadID); err != nil {
		return nil, err
	}
	archived := true
	now := s.nowMs()
	return s.store.UpdateThread(ctx, &store.UpdateThread{
		ID:        threadID,
		Archived:  &archived,
		UpdatedTs: &now,
	})
}

func (s *service) DeleteMessage(ctx context.Context, messageID string) error {
	now := s.nowMs()
	return s.store.UpdateMessage(ctx, &store.UpdateMessage{ID: messageID, DeletedTs: &now})
}

func (s *service) DeleteMessageForUser(ctx context.Context, userID, messageID string) error {
	message, err := s.store.GetMessage(ctx, &store.FindMessage{ID: &messageID})
	if err != nil {
		return err
	}
	if message == nil {
		return aierrors.NotFound("message", messageID)
	}
	if _, err := s.getOwnedThread(ctx, userID, message.ThreadID); err != nil {
		if aierrors.IsCode(err, aierrors.ErrCodeNotFound) {
			return aierrors.NotFound("message", messageID)
		}
		return err
	}
	// Already deleted; keep the original deletion time.
	if message.DeletedTs != nil {
		return nil
	}
	if err := s.DeleteMessage(ctx, messageID); err != nil {
		return err
	}
	_, err = s.UpdateThreadStats(ctx, message.ThreadID)
	return err
}

func (s *service) ListThreads(ctx context.Context, userID string, includeArchived bool) ([]*store.Thread, error) {
	limit := MaxListThreads
	find := &store.FindThread{UserID: &userID, Limit: &limit}
	if !includeArchived {
		archived := false
		find.Archived = &archived
	}
	return s.store.ListThreads(ctx, find)
}

func (s *service) GetThread(ctx context.Context, userID, threadID string) (*store.Thread, error) {
	return s.getOwnedThread(ctx, userID, threadID)
}

func (s *service) ListMessages(ctx context.Context, userID, threadID string) ([]*store.Message, error) {
	if _, err := s.getOwnedThread(ctx, userID, threadID); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, &store.FindMessage{
		ThreadID:       &threadID,
		ExcludeDeleted: true,
	})
}
