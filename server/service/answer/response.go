package answer

import (
	"github.com/hrygo/marketsense/plugin/ai/rag"
	"github.com/hrygo/marketsense/store"
)

// ModelIDRefusal marks answers produced without calling the generator.
const ModelIDRefusal = "refusal"

// Response is the result of one answered turn.
type Response struct {
	ThreadID   string     `json:"threadId"`
	MessageID  string     `json:"messageId"`
	Answer     string     `json:"answer"`
	Capability string     `json:"capability"`
	Sources    []Source   `json:"sources"`
	References References `json:"references"`
	Model      ModelInfo  `json:"model"`
	Flags      Flags      `json:"flags"`
}

// Source is one piece of evidence the answer was grounded on.
type Source struct {
	ID    string  `json:"id"`
	Type  string  `json:"type"`
	Label string  `json:"label"`
	Score float32 `json:"score"`
}

// References groups source ids by entity type.
type References struct {
	Keywords []string `json:"keywords"`
	Listings []string `json:"listings"`
	Alerts   []string `json:"alerts"`
	Docs     []string `json:"docs"`
}

type ModelInfo struct {
	ID string `json:"id"`
	// Usage is nil when no generation happened.
	Usage     *Usage `json:"usage"`
	LatencyMs int64  `json:"latencyMs"`
}

type Usage struct {
	TokensIn  int `json:"tokensIn"`
	TokensOut int `json:"tokensOut"`
}

type Flags struct {
	UsedRAG             bool `json:"usedRag"`
	FallbackToGeneric   bool `json:"fallbackToGeneric"`
	InsufficientContext bool `json:"insufficientContext"`
}

func newSources(candidates []rag.Candidate) []Source {
	sources := make([]Source, 0, len(candidates))
	for _, c := range candidates {
		sources = append(sources, Source{ID: c.SourceID, Type: c.SourceType, Label: c.Label, Score: c.Score})
	}
	return sources
}

func newReferences(candidates []rag.Candidate) References {
	refs := References{Keywords: []string{}, Listings: []string{}, Alerts: []string{}, Docs: []string{}}
	for _, c := range candidates {
		switch store.EntityType(c.SourceType) {
		case store.EntityTypeKeyword:
			refs.Keywords = append(refs.Keywords, c.SourceID)
		case store.EntityTypeListing:
			refs.Listings = append(refs.Listings, c.SourceID)
		case store.EntityTypeAlert:
			refs.Alerts = append(refs.Alerts, c.SourceID)
		case store.EntityTypeDoc:
			refs.Docs = append(refs.Docs, c.SourceID)
		}
	}
	return refs
}
