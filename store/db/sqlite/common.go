package sqlite

import (
	"encoding/json"
	"math"
	"strings"
	"unicode"

	"github.com/pkg/errors"
)

// placeholder returns a placeholder for SQLite (uses ?)
func placeholder(int) string {
	return "?"
}

// placeholders returns n placeholders for SQLite
func placeholders(n int) string {
	list := []string{}
	for i := 0; i < n; i++ {
		list = append(list, placeholder(i+1))
	}
	return strings.Join(list, ", ")
}

func marshalMetadata(metadata map[string]any) (string, error) {
	if metadata == nil {
		return "{}", nil
	}
	bytes, err := json.Marshal(metadata)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal metadata")
	}
	return string(bytes), nil
}

func unmarshalMetadata(text string) (map[string]any, error) {
	metadata := map[string]any{}
	if text == "" {
		return metadata, nil
	}
	if err := json.Unmarshal([]byte(text), &metadata); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal metadata")
	}
	return metadata, nil
}

func nullableJSON[T any](v *T) (any, error) {
	if v == nil {
		return nil, nil
	}
	bytes, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(bytes), nil
}

func scanJSON[T any](text *string) (*T, error) {
	if text == nil || *text == "" {
		return nil, nil
	}
	v := new(T)
	if err := json.Unmarshal([]byte(*text), v); err != nil {
		return nil, err
	}
	return v, nil
}

// cosineSimilarity returns 0 for mismatched or zero-length vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// terms splits text into distinct lowercase words of three or more runes.
func terms(text string) map[string]struct{} {
	set := map[string]struct{}{}
	for _, field := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}) {
		if len([]rune(field)) < 3 {
			continue
		}
		set[field] = struct{}{}
	}
	return set
}

// termOverlap is the share of distinct query terms present in the document.
func termOverlap(query map[string]struct{}, document string) float64 {
	if len(query) == 0 {
		return 0
	}
	docTerms := terms(document)
	matched := 0
	for term := range query {
		if _, ok := docTerms[term]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(query))
}
