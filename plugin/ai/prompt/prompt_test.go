package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/marketsense/plugin/ai/capability"
	"github.com/hrygo/marketsense/plugin/ai/rag"
	"github.com/hrygo/marketsense/store"
)

const refusal = "I don't have enough data to answer that yet."

func TestBuild_NoSources(t *testing.T) {
	a := NewAssembler(refusal)

	out := a.Build(capability.MarketBrief, nil, nil, "what is trending in wedding decor?")
	assert.Contains(t, out, NoData)
	assert.Contains(t, out, refusal)
	assert.NotContains(t, out, "[1]")
	assert.NotContains(t, out, "Conversation so far")
}

func TestBuild_SectionOrder(t *testing.T) {
	a := NewAssembler(refusal)
	sources := []rag.Candidate{
		{SourceID: "kw-1", SourceType: "keyword", Label: "boho wedding", Score: 0.82, Scope: store.OwnerScopeUser, Chunk: "rising"},
	}
	history := []*store.Message{
		{Role: store.MessageRoleUser, Content: "hi"},
		{Role: store.MessageRoleAssistant, Content: "hello"},
	}

	out := a.Build(capability.MarketBrief, sources, history, "  what about boho?  ")

	markers := []string{
		DefaultSystemInstructions,
		DefaultRoleInstructions[capability.MarketBrief],
		"### Evidence (1 sources)",
		"### Conversation so far",
		"user: hi\nassistant: hello\n",
		"### Question\nwhat about boho?\n",
		"### Instructions",
	}
	last := -1
	for _, m := range markers {
		idx := strings.Index(out, m)
		require.GreaterOrEqual(t, idx, 0, "missing %q", m)
		assert.Greater(t, idx, last, "%q out of order", m)
		last = idx
	}
}

func TestBuildForPeriod(t *testing.T) {
	a := NewAssembler(refusal)
	sources := []rag.Candidate{{SourceType: "keyword", Label: "boho wedding", Score: 0.8}}

	out := a.BuildForPeriod(capability.MarketBrief, sources, nil, "q", "from 2026-01-01 to 2026-02-01")
	periodIdx := strings.Index(out, "### Period\nThe question is about the period from 2026-01-01 to 2026-02-01.")
	require.GreaterOrEqual(t, periodIdx, 0)
	assert.Greater(t, strings.Index(out, "### Question"), periodIdx)
	assert.Greater(t, periodIdx, strings.Index(out, "### Evidence"))

	assert.NotContains(t, a.BuildForPeriod(capability.MarketBrief, sources, nil, "q", "  "), "### Period")
	assert.Equal(t, a.Build(capability.MarketBrief, sources, nil, "q"), a.BuildForPeriod(capability.MarketBrief, sources, nil, "q", ""))
}

func TestBuild_SourceEntries(t *testing.T) {
	a := NewAssembler(refusal)
	sources := []rag.Candidate{
		{
			SourceType: "keyword",
			Label:      "boho wedding",
			Score:      0.823,
			Scope:      store.OwnerScopeUser,
			Chunk:      "Search   interest up\n 40% month over month",
			Metadata:   map[string]any{"demand": 87.0, "competition": "low", "momentum": 1.4, "unrelated": 3},
		},
		{SourceType: "listing", Label: "Boho arch", Score: 0.5, Scope: store.OwnerScopeGlobal, Metadata: map[string]any{"demand": 10}},
		{SourceType: "alert", Label: "Price drop", Score: 0.31, Scope: store.OwnerScopeTeam},
	}

	out := a.Build(capability.MarketBrief, sources, nil, "q")

	assert.Contains(t, out, "### Evidence (3 sources)")
	assert.Contains(t, out, "[1] keyword · boho wedding\n")
	assert.Contains(t, out, "[2] listing · Boho arch\n")
	assert.Contains(t, out, "[3] alert · Price drop\n")
	assert.NotContains(t, out, "[4]")
	assert.Contains(t, out, "metrics: demand=87, competition=low, momentum=1.4\n")
	assert.Equal(t, 1, strings.Count(out, "metrics:"), "only keyword sources carry metrics")
	assert.Contains(t, out, "similarity: 82% · scope: user")
	assert.Contains(t, out, "similarity: 31% · scope: team")
	assert.Contains(t, out, "Search interest up 40% month over month")
	assert.NotContains(t, out, NoData)
	assert.NotContains(t, out, "Conversation so far")
}

func TestBuild_TrimsLongChunks(t *testing.T) {
	a := NewAssembler(refusal)
	long := strings.Repeat("é", MaxChunkRunes+50)

	out := a.Build(capability.GeneralChat, []rag.Candidate{{SourceType: "doc", Label: "guide", Chunk: long, Score: 0.9}}, nil, "q")
	assert.Contains(t, out, strings.Repeat("é", MaxChunkRunes)+"…")
	assert.NotContains(t, out, strings.Repeat("é", MaxChunkRunes+1))
}

func TestBuild_ZeroValueAssembler(t *testing.T) {
	var a Assembler
	out := a.Build("unknown", nil, nil, "q")
	assert.Contains(t, out, DefaultSystemInstructions)
	assert.Contains(t, out, DefaultRoleInstructions[capability.GeneralChat])
}

func TestBuild_CustomRoles(t *testing.T) {
	a := &Assembler{
		SystemInstructions: "SYSTEM",
		RoleInstructions:   map[capability.Capability]string{capability.GeneralChat: "GENERAL", capability.AlertExplanation: "ALERTS"},
		RefusalPhrase:      "nope",
	}
	assert.True(t, strings.HasPrefix(a.Build(capability.AlertExplanation, nil, nil, "q"), "SYSTEM\n\nALERTS\n"))
	assert.Contains(t, a.Build(capability.MarketBrief, nil, nil, "q"), "GENERAL")
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("x", 400), 100},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EstimateTokens(tt.text), "text len %d", len(tt.text))
	}
}
