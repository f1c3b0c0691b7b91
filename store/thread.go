package store

import "context"

// Thread is a conversation container owned by a single user.
// LastMessageTs and MessageCount are derived from live messages and
// recomputed after every insert; they are not authoritative.
type Thread struct {
	ID            string
	UserID        string
	Title         *string
	CreatedTs     int64
	UpdatedTs     int64
	LastMessageTs *int64
	MessageCount  int32
	Metadata      map[string]any
	Archived      bool
}

type FindThread struct {
	ID       *string
	UserID   *string
	Archived *bool
	Limit    *int
}

type UpdateThread struct {
	ID            string
	Title         *string
	LastMessageTs *int64

	// ClearLastMessageTs sets last_message_ts to NULL and wins over LastMessageTs.
	ClearLastMessageTs bool

	MessageCount *int32
	Archived     *bool
	UpdatedTs    *int64
}

// ThreadStats is the aggregate over the live messages of a thread.
// MaxStatsScan caps how many live messages a stats recompute inspects.
// Threads longer than this report MaxStatsScan as their count.
const MaxStatsScan = 10000

type ThreadStats struct {
	MessageCount  int32
	LastMessageTs *int64
}

func (s *Store) CreateThread(ctx context.Context, create *Thread) (*Thread, error) {
	return s.driver.CreateThread(ctx, create)
}

func (s *Store) ListThreads(ctx context.Context, find *FindThread) ([]*Thread, error) {
	return s.driver.ListThreads(ctx, find)
}

// GetThread returns the thread matching find, or nil when none does.
func (s *Store) GetThread(ctx context.Context, find *FindThread) (*Thread, error) {
	list, err := s.driver.ListThreads(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (s *Store) UpdateThread(ctx context.Context, update *UpdateThread) (*Thread, error) {
	return s.driver.UpdateThread(ctx, update)
}

func (s *Store) GetThreadStats(ctx context.Context, threadID string) (*ThreadStats, error) {
	return s.driver.GetThreadStats(ctx, threadID)
}
