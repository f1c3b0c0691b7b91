// Package prompt assembles the generation prompt from instructions,
// ranked evidence and prior conversation turns.
package prompt

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hrygo/marketsense/plugin/ai/capability"
	"github.com/hrygo/marketsense/plugin/ai/rag"
	"github.com/hrygo/marketsense/store"
)

// NoData is the literal placed in the evidence section when nothing was retrieved.
const NoData = "no data"

// MaxChunkRunes bounds how much of a source chunk is quoted.
const MaxChunkRunes = 400

// KeywordMetrics are the metadata fields shown for keyword sources, in order.
var KeywordMetrics = []string{"demand", "competition", "momentum", "opportunity"}

const DefaultSystemInstructions = `You are MarketSense, a research assistant for online marketplace sellers.
Answer only from the evidence provided below and the prior conversation.
Never invent search volumes, prices, rankings or trends.`

// DefaultRoleInstructions holds the capability specific role text.
var DefaultRoleInstructions = map[capability.Capability]string{
	capability.MarketBrief: `Role: market analyst. Summarize demand and trend direction for the niche, ` +
		`point out the strongest opportunities and any seasonality visible in the evidence.`,
	capability.CompetitorIntel: `Role: competitive analyst. Compare the shops and listings in the evidence, ` +
		`highlight pricing and positioning differences and where the user can differentiate.`,
	capability.KeywordExplanation: `Role: keyword coach. Explain what the keyword metrics mean for the user ` +
		`and whether the keyword is worth targeting.`,
	capability.AlertExplanation: `Role: alert investigator. Explain what changed, the most likely cause ` +
		`according to the evidence, and what the user should check next.`,
	capability.GeneralChat: `Role: helpful marketplace research assistant.`,
}

// Assembler builds prompts. The zero value is usable and falls back to the
// package defaults.
type Assembler struct {
	SystemInstructions string
	RoleInstructions   map[capability.Capability]string
	// RefusalPhrase is the exact sentence the model must reply with when
	// there is no evidence.
	RefusalPhrase string
}

// NewAssembler returns an Assembler with the default instructions.
func NewAssembler(refusalPhrase string) *Assembler {
	return &Assembler{
		SystemInstructions: DefaultSystemInstructions,
		RoleInstructions:   DefaultRoleInstructions,
		RefusalPhrase:      refusalPhrase,
	}
}

// Build returns the prompt for one turn. Sections always appear in this
// order: system, role, evidence, history (omitted when empty), question,
// directives. sources must already be reranked.
func (a *Assembler) Build(c capability.Capability, sources []rag.Candidate, history []*store.Message, userMessage string) string {
	return a.BuildForPeriod(c, sources, history, userMessage, "")
}

// BuildForPeriod is Build with a period section ahead of the question.
// An empty period omits the section.
func (a *Assembler) BuildForPeriod(c capability.Capability, sources []rag.Candidate, history []*store.Message, userMessage, period string) string {
	var sb strings.Builder

	sb.WriteString(a.systemInstructions())
	sb.WriteString("\n\n")
	sb.WriteString(a.roleInstructions(c))
	sb.WriteString("\n\n")
	sb.WriteString(a.formatEvidence(sources))

	if h := FormatHistory(history); h != "" {
		sb.WriteString("\n")
		sb.WriteString(h)
	}

	if period = strings.TrimSpace(period); period != "" {
		sb.WriteString("\n### Period\n")
		sb.WriteString("The question is about the period ")
		sb.WriteString(period)
		sb.WriteString(". Prefer evidence from that period and say when the evidence does not cover it.\n")
	}

	sb.WriteString("\n### Question\n")
	sb.WriteString(strings.TrimSpace(userMessage))
	sb.WriteString("\n\n")
	sb.WriteString(closingDirectives)
	return sb.String()
}

const closingDirectives = `### Instructions
- Cite sources as [n] whenever you use specific data from them.
- If information needed to answer is missing from the evidence, say which information is missing instead of guessing.
- Be concise and action-oriented.`

func (a *Assembler) systemInstructions() string {
	if a.SystemInstructions != "" {
		return a.SystemInstructions
	}
	return DefaultSystemInstructions
}

func (a *Assembler) roleInstructions(c capability.Capability) string {
	roles := a.RoleInstructions
	if roles == nil {
		roles = DefaultRoleInstructions
	}
	if role, ok := roles[c]; ok {
		return role
	}
	return roles[capability.GeneralChat]
}

func (a *Assembler) formatEvidence(sources []rag.Candidate) string {
	var sb strings.Builder
	if len(sources) == 0 {
		sb.WriteString("### Evidence\n")
		sb.WriteString(NoData)
		sb.WriteString("\n\nNo relevant data was found for this question. Do not make up an answer. Reply with exactly this sentence and nothing else:\n")
		sb.WriteString(a.RefusalPhrase)
		sb.WriteString("\n")
		return sb.String()
	}

	fmt.Fprintf(&sb, "### Evidence (%d sources)\n", len(sources))
	for i, src := range sources {
		fmt.Fprintf(&sb, "[%d] %s · %s\n", i+1, src.SourceType, src.Label)
		if src.SourceType == string(store.EntityTypeKeyword) {
			if metrics := formatKeywordMetrics(src.Metadata); metrics != "" {
				sb.WriteString("    metrics: ")
				sb.WriteString(metrics)
				sb.WriteString("\n")
			}
		}
		fmt.Fprintf(&sb, "    similarity: %d%% · scope: %s\n", similarityPercent(src.Score), src.Scope)
		if chunk := trimChunk(src.Chunk); chunk != "" {
			sb.WriteString("    ")
			sb.WriteString(chunk)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// FormatHistory renders history as chronological "role: content" lines
// under a header. It returns "" for an empty history.
func FormatHistory(history []*store.Message) string {
	if len(history) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("### Conversation so far\n")
	for _, msg := range history {
		fmt.Fprintf(&sb, "%s: %s\n", msg.Role, msg.Content)
	}
	return sb.String()
}

func formatKeywordMetrics(metadata map[string]any) string {
	parts := make([]string, 0, len(KeywordMetrics))
	for _, key := range KeywordMetrics {
		v, ok := metadata[key]
		if !ok || v == nil {
			continue
		}
		parts = append(parts, key+"="+formatValue(v))
	}
	return strings.Join(parts, ", ")
}

func formatValue(v any) string {
	switch n := v.(type) {
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(n), 'f', -1, 32)
	default:
		return fmt.Sprint(v)
	}
}

func similarityPercent(score float32) int {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 100
	}
	return int(score*100 + 0.5)
}

func trimChunk(chunk string) string {
	chunk = strings.Join(strings.Fields(chunk), " ")
	runes := []rune(chunk)
	if len(runes) <= MaxChunkRunes {
		return chunk
	}
	return string(runes[:MaxChunkRunes]) + "…"
}

// EstimateTokens approximates the token count of text as ceil(len/4).
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
