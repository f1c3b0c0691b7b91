// Package capability classifies free-text questions into answer capabilities.
package capability

import (
	"os"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Capability tags the kind of question being asked.
type Capability string

const (
	MarketBrief        Capability = "market_brief"
	CompetitorIntel    Capability = "competitor_intel"
	KeywordExplanation Capability = "keyword_explanation"
	AlertExplanation   Capability = "alert_explanation"
	GeneralChat        Capability = "general_chat"
)

// All lists every capability in a stable order.
var All = []Capability{MarketBrief, CompetitorIntel, KeywordExplanation, AlertExplanation, GeneralChat}

// Parse validates a capability name.
func Parse(s string) (Capability, bool) {
	for _, c := range All {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

func (c Capability) String() string {
	return string(c)
}

// RuleTable maps a capability to its trigger phrases. A trigger matches
// whole words only; a trailing "*" lets its last word match as a prefix.
type RuleTable map[Capability][]string

// DefaultRuleTable returns the built-in trigger table.
func DefaultRuleTable() RuleTable {
	return RuleTable{
		MarketBrief: {
			"trend*", "niche*", "market*", "opportunit*", "top keywords",
			"demand", "seasonal", "what sells", "best sellers", "growing",
		},
		CompetitorIntel: {
			"competitor*", "competition", "rival*", "shop", "shops", "store", "stores",
			"pricing", "undercut*", "their listings", "other sellers", "benchmark*",
		},
		KeywordExplanation: {
			"keyword*", "search volume", "what does", "meaning", "explain*",
			"score", "difficulty", "long tail", "long-tail", "tag", "tags",
		},
		AlertExplanation: {
			"alert*", "notification*", "spike*", "drop", "drops", "dropped", "why did",
			"sudden*", "changed", "warning*",
		},
	}
}

// LoadRuleTable reads a YAML document of the form
//
//	market_brief: [trend*, niche]
//	competitor_intel: [competitor]
//
// Unknown capability names are rejected.
func LoadRuleTable(path string) (RuleTable, error) {
	bytes, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read rule table %s", path)
	}
	raw := map[string][]string{}
	if err := yaml.Unmarshal(bytes, &raw); err != nil {
		return nil, errors.Wrapf(err, "failed to parse rule table %s", path)
	}

	table := RuleTable{}
	for name, triggers := range raw {
		c, ok := Parse(name)
		if !ok {
			return nil, errors.Errorf("unknown capability %q in rule table", name)
		}
		table[c] = triggers
	}
	return table, nil
}

// Detector scores a query against a rule table. It holds no mutable state
// and is safe for concurrent use.
type Detector struct {
	rules map[Capability][]string
}

// NewDetector builds a detector over a copy of table with lowercased,
// de-duplicated triggers.
func NewDetector(table RuleTable) *Detector {
	rules := make(map[Capability][]string, len(table))
	for c, triggers := range table {
		seen := map[string]struct{}{}
		for _, trigger := range triggers {
			trigger = strings.ToLower(strings.TrimSpace(trigger))
			if trigger == "" {
				continue
			}
			if _, ok := seen[trigger]; ok {
				continue
			}
			seen[trigger] = struct{}{}
			rules[c] = append(rules[c], trigger)
		}
	}
	return &Detector{rules: rules}
}

// Detect returns the capability whose triggers appear most often in query.
// Ties and queries without any trigger resolve to GeneralChat.
func (d *Detector) Detect(query string) Capability {
	scores := d.Scores(query)

	best, bestScore, tied := GeneralChat, 0, false
	for _, c := range All {
		score := scores[c]
		switch {
		case score > bestScore:
			best, bestScore, tied = c, score, false
		case score == bestScore && score > 0:
			tied = true
		}
	}
	if bestScore == 0 || tied {
		return GeneralChat
	}
	return best
}

// Scores reports how many distinct triggers of each capability match query.
func (d *Detector) Scores(query string) map[Capability]int {
	lower := strings.ToLower(query)
	scores := make(map[Capability]int, len(All))
	for _, c := range All {
		for _, trigger := range d.rules[c] {
			if containsTrigger(lower, trigger) {
				scores[c]++
			}
		}
	}
	return scores
}

func containsTrigger(text, trigger string) bool {
	prefix := strings.HasSuffix(trigger, "*")
	trigger = strings.TrimSuffix(trigger, "*")
	if trigger == "" {
		return false
	}
	for offset := 0; offset < len(text); {
		i := strings.Index(text[offset:], trigger)
		if i < 0 {
			return false
		}
		start := offset + i
		end := start + len(trigger)
		if isBoundary(text[:start], true) && (prefix || isBoundary(text[end:], false)) {
			return true
		}
		_, size := utf8.DecodeRuneInString(text[start:])
		offset = start + size
	}
	return false
}

// isBoundary reports whether the rune adjacent to a match is not part of a word.
func isBoundary(rest string, before bool) bool {
	if rest == "" {
		return true
	}
	var r rune
	if before {
		r, _ = utf8.DecodeLastRuneInString(rest)
	} else {
		r, _ = utf8.DecodeRuneInString(rest)
	}
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}
