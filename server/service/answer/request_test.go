package answer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	aierrors "github.com/hrygo/marketsense/server/internal/errors"
	"github.com/hrygo/marketsense/store"
)

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }

func TestRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		wantErr bool
	}{
		{"minimal", Request{Message: "how is boho decor doing?"}, false},
		{"empty message", Request{Message: ""}, true},
		{"whitespace message", Request{Message: " \n\t "}, true},
		{"message at limit", Request{Message: strings.Repeat("é", MaxMessageRunes)}, false},
		{"message over limit", Request{Message: strings.Repeat("a", MaxMessageRunes+1)}, true},
		{"known capability", Request{Message: "hi", Capability: "market_brief"}, false},
		{"unknown capability", Request{Message: "hi", Capability: "forecast"}, true},
		{"too many keyword ids", Request{Message: "hi", Context: &RequestContext{KeywordIDs: make([]string, MaxContextIDs+1)}}, true},
		{"empty id", Request{Message: "hi", Context: &RequestContext{AlertIDs: []string{"a-1", " "}}}, true},
		{"too many marketplaces", Request{Message: "hi", Context: &RequestContext{Marketplaces: make([]string, MaxMarketplaces+1)}}, true},
		{"date range", Request{Message: "hi", Context: &RequestContext{TimeRange: &TimeRange{From: "2026-01-01", To: "2026-02-01T00:00:00Z"}}}, false},
		{"inverted range", Request{Message: "hi", Context: &RequestContext{TimeRange: &TimeRange{From: "2026-03-01", To: "2026-02-01"}}}, true},
		{"bad date", Request{Message: "hi", Context: &RequestContext{TimeRange: &TimeRange{From: "last week"}}}, true},
		{"max tokens in range", Request{Message: "hi", Options: &Options{MaxTokens: intPtr(512)}}, false},
		{"max tokens too low", Request{Message: "hi", Options: &Options{MaxTokens: intPtr(10)}}, true},
		{"max tokens too high", Request{Message: "hi", Options: &Options{MaxTokens: intPtr(MaxMaxTokens + 1)}}, true},
		{"temperature too high", Request{Message: "hi", Options: &Options{Temperature: floatPtr(1.5)}}, true},
		{"language", Request{Message: "hi", Options: &Options{Language: "de"}}, false},
		{"bad language", Request{Message: "hi", Options: &Options{Language: "German"}}, true},
		{"long plan", Request{Message: "hi", Options: &Options{Plan: strings.Repeat("p", MaxPlanLength+1)}}, true},
		{"long idempotency key", Request{Message: "hi", IdempotencyKey: strings.Repeat("k", MaxIdempotencyKeyRunes+1)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				assert.True(t, aierrors.IsCode(err, aierrors.ErrCodeInvalidArgument), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRequestContext_EntityRefs(t *testing.T) {
	var nilContext *RequestContext
	assert.Nil(t, nilContext.entityRefs())
	assert.Empty(t, nilContext.marketplace())

	c := &RequestContext{
		KeywordIDs:   []string{"kw-1", "kw-2"},
		ListingIDs:   []string{"ls-1"},
		ShopID:       "shop-1",
		Marketplaces: []string{"etsy"},
	}
	assert.Equal(t, []store.EntityRef{
		{Type: store.EntityTypeKeyword, ID: "kw-1"},
		{Type: store.EntityTypeKeyword, ID: "kw-2"},
		{Type: store.EntityTypeListing, ID: "ls-1"},
		{Type: store.EntityTypeShop, ID: "shop-1"},
	}, c.entityRefs())
	assert.Equal(t, "etsy", c.marketplace())

	c.Marketplaces = append(c.Marketplaces, "amazon")
	assert.Empty(t, c.marketplace())
}

func TestRequestContextPeriod(t *testing.T) {
	var nilContext *RequestContext
	assert.Empty(t, nilContext.period())
	assert.Empty(t, (&RequestContext{}).period())
	assert.Equal(t, "from 2026-01-01 to 2026-02-01", (&RequestContext{TimeRange: &TimeRange{From: "2026-01-01", To: "2026-02-01"}}).period())
	assert.Equal(t, "since 2026-01-01", (&RequestContext{TimeRange: &TimeRange{From: "2026-01-01"}}).period())
	assert.Equal(t, "until 2026-02-01", (&RequestContext{TimeRange: &TimeRange{To: "2026-02-01"}}).period())
}
