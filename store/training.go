package store

import "context"

// TrainingRequest is a captured prompt together with the ranked evidence it used.
type TrainingRequest struct {
	ID         string
	UserID     string
	MessageID  string
	Capability string
	Market     string
	Prompt     string
	Context    string // JSON
	CreatedTs  int64
}

// TrainingResponse is the answer linked to a TrainingRequest.
type TrainingResponse struct {
	ID        string
	RequestID string
	Content   string
	TokensIn  int
	TokensOut int
	CreatedTs int64
}

// TrainingConsent is the per-user input of the training eligibility policy.
type TrainingConsent struct {
	UserID    string
	OptedIn   bool
	Plan      string
	UpdatedTs int64
}

type FindTrainingRequest struct {
	UserID    *string
	MessageID *string
}

func (s *Store) CreateTrainingRequest(ctx context.Context, create *TrainingRequest) (*TrainingRequest, error) {
	return s.driver.CreateTrainingRequest(ctx, create)
}

func (s *Store) CreateTrainingResponse(ctx context.Context, create *TrainingResponse) (*TrainingResponse, error) {
	return s.driver.CreateTrainingResponse(ctx, create)
}

func (s *Store) ListTrainingRequests(ctx context.Context, find *FindTrainingRequest) ([]*TrainingRequest, error) {
	return s.driver.ListTrainingRequests(ctx, find)
}

func (s *Store) UpsertTrainingConsent(ctx context.Context, upsert *TrainingConsent) (*TrainingConsent, error) {
	return s.driver.UpsertTrainingConsent(ctx, upsert)
}

// GetTrainingConsent returns nil when the user never recorded a choice.
func (s *Store) GetTrainingConsent(ctx context.Context, userID string) (*TrainingConsent, error) {
	return s.driver.GetTrainingConsent(ctx, userID)
}
