package v1

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	aierrors "github.com/hrygo/marketsense/server/internal/errors"
	"github.com/hrygo/marketsense/store"
)

// Thread is the API view of a conversation thread.
type Thread struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	CreatedTs     int64  `json:"createdTs"`
	UpdatedTs     int64  `json:"updatedTs"`
	LastMessageTs *int64 `json:"lastMessageTs"`
	MessageCount  int32  `json:"messageCount"`
	Archived      bool   `json:"archived"`
}

// Message is the API view of a conversation turn.
type Message struct {
	ID         string               `json:"id"`
	Role       string               `json:"role"`
	Content    string               `json:"content"`
	CreatedTs  int64                `json:"createdTs"`
	Capability string               `json:"capability,omitempty"`
	ModelID    string               `json:"modelId,omitempty"`
	SourceIDs  []string             `json:"sourceIds,omitempty"`
	Flags      *store.ResponseFlags `json:"flags,omitempty"`
}

func convertThread(thread *store.Thread) *Thread {
	view := &Thread{
		ID:            thread.ID,
		CreatedTs:     thread.CreatedTs,
		UpdatedTs:     thread.UpdatedTs,
		LastMessageTs: thread.LastMessageTs,
		MessageCount:  thread.MessageCount,
		Archived:      thread.Archived,
	}
	if thread.Title != nil {
		view.Title = *thread.Title
	}
	return view
}

func convertMessage(message *store.Message) *Message {
	return &Message{
		ID:         message.ID,
		Role:       string(message.Role),
		Content:    message.Content,
		CreatedTs:  message.CreatedTs,
		Capability: message.Capability,
		ModelID:    message.ModelID,
		SourceIDs:  message.RetrievedSourceIDs,
		Flags:      message.Flags,
	}
}

type listThreadsResponse struct {
	Threads []*Thread `json:"threads"`
}

type listMessagesResponse struct {
	Messages []*Message `json:"messages"`
}

// ListThreads lists the caller's threads, most recent first.
// GET /api/v1/threads?includeArchived=true
func (s *APIV1Service) ListThreads(c echo.Context) error {
	includeArchived := false
	if value := c.QueryParam("includeArchived"); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return writeError(c, aierrors.InvalidArgumentf("includeArchived must be a boolean, got %q", value))
		}
		includeArchived = parsed
	}

	threads, err := s.Conversation.ListThreads(c.Request().Context(), currentUserID(c), includeArchived)
	if err != nil {
		return writeError(c, err)
	}
	response := listThreadsResponse{Threads: make([]*Thread, 0, len(threads))}
	for _, thread := range threads {
		response.Threads = append(response.Threads, convertThread(thread))
	}
	return c.JSON(http.StatusOK, response)
}

// ListMessages lists the live messages of a thread in order.
// GET /api/v1/threads/:id/messages
func (s *APIV1Service) ListMessages(c echo.Context) error {
	messages, err := s.Conversation.ListMessages(c.Request().Context(), currentUserID(c), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	response := listMessagesResponse{Messages: make([]*Message, 0, len(messages))}
	for _, message := range messages {
		response.Messages = append(response.Messages, convertMessage(message))
	}
	return c.JSON(http.StatusOK, response)
}

// ArchiveThread hides a thread from the default listing.
// POST /api/v1/threads/:id/archive
func (s *APIV1Service) ArchiveThread(c echo.Context) error {
	thread, err := s.Conversation.ArchiveThread(c.Request().Context(), c.Param("id"), currentUserID(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, convertThread(thread))
}

// DeleteMessage soft deletes one of the caller's messages.
// DELETE /api/v1/messages/:id
func (s *APIV1Service) DeleteMessage(c echo.Context) error {
	if err := s.Conversation.DeleteMessageForUser(c.Request().Context(), currentUserID(c), c.Param("id")); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
