package answer

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hrygo/marketsense/plugin/ai/capability"
	aierrors "github.com/hrygo/marketsense/server/internal/errors"
	"github.com/hrygo/marketsense/store"
)

// Request limits.
const (
	MaxMessageRunes        = 4000
	MaxContextIDs          = 50
	MaxMarketplaces        = 10
	MinMaxTokens           = 256
	MaxMaxTokens           = 2048
	MaxPlanLength          = 32
	MaxIdempotencyKeyRunes = 128
)

var languagePattern = regexp.MustCompile(`^[a-z]{2}$`)

// Request is one chat turn submitted by a user.
type Request struct {
	ThreadID   string          `json:"threadId,omitempty"`
	Message    string          `json:"message"`
	Capability string          `json:"capability,omitempty"`
	Context    *RequestContext `json:"context,omitempty"`
	Options    *Options        `json:"options,omitempty"`
	Client     *ClientMetadata `json:"clientMetadata,omitempty"`
	// IdempotencyKey deduplicates retries of the same logical request.
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

// RequestContext carries the structured references sent with a turn.
type RequestContext struct {
	KeywordIDs   []string   `json:"keywordIds,omitempty"`
	WatchlistIDs []string   `json:"watchlistIds,omitempty"`
	ListingIDs   []string   `json:"listingIds,omitempty"`
	AlertIDs     []string   `json:"alertIds,omitempty"`
	ShopID       string     `json:"shopId,omitempty"`
	Marketplaces []string   `json:"marketplaces,omitempty"`
	TimeRange    *TimeRange `json:"timeRange,omitempty"`
}

// TimeRange bounds the period a question is about. Both ends are ISO 8601
// dates or timestamps.
type TimeRange struct {
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

// Options tune generation.
type Options struct {
	MaxTokens   *int     `json:"maxTokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Language    string   `json:"language,omitempty"`
	Plan        string   `json:"plan,omitempty"`
}

// ClientMetadata identifies the calling client.
type ClientMetadata struct {
	Channel string `json:"channel,omitempty"`
	Version string `json:"version,omitempty"`
}

// Validate rejects malformed requests before any work is done.
func (r *Request) Validate() error {
	message := strings.TrimSpace(r.Message)
	if message == "" {
		return aierrors.InvalidArgument("message is required")
	}
	if n := utf8.RuneCountInString(message); n > MaxMessageRunes {
		return aierrors.InvalidArgumentf("message is %d characters, the limit is %d", n, MaxMessageRunes)
	}
	if r.Capability != "" {
		if _, ok := capability.Parse(r.Capability); !ok {
			return aierrors.InvalidArgumentf("unknown capability %q", r.Capability)
		}
	}
	if utf8.RuneCountInString(r.IdempotencyKey) > MaxIdempotencyKeyRunes {
		return aierrors.InvalidArgumentf("idempotencyKey exceeds %d characters", MaxIdempotencyKeyRunes)
	}
	if err := r.Context.validate(); err != nil {
		return err
	}
	return r.Options.validate()
}

func (c *RequestContext) validate() error {
	if c == nil {
		return nil
	}
	lists := []struct {
		name string
		ids  []string
	}{
		{"keywordIds", c.KeywordIDs},
		{"watchlistIds", c.WatchlistIDs},
		{"listingIds", c.ListingIDs},
		{"alertIds", c.AlertIDs},
	}
	for _, list := range lists {
		if len(list.ids) > MaxContextIDs {
			return aierrors.InvalidArgumentf("%s has %d entries, the limit is %d", list.name, len(list.ids), MaxContextIDs)
		}
		for _, id := range list.ids {
			if strings.TrimSpace(id) == "" {
				return aierrors.InvalidArgumentf("%s contains an empty id", list.name)
			}
		}
	}
	if len(c.Marketplaces) > MaxMarketplaces {
		return aierrors.InvalidArgumentf("marketplaces has %d entries, the limit is %d", len(c.Marketplaces), MaxMarketplaces)
	}
	if c.TimeRange != nil {
		var from, to time.Time
		var err error
		if c.TimeRange.From != "" {
			if from, err = parseISOTime(c.TimeRange.From); err != nil {
				return aierrors.InvalidArgumentf("timeRange.from is not an ISO 8601 time: %q", c.TimeRange.From)
			}
		}
		if c.TimeRange.To != "" {
			if to, err = parseISOTime(c.TimeRange.To); err != nil {
				return aierrors.InvalidArgumentf("timeRange.to is not an ISO 8601 time: %q", c.TimeRange.To)
			}
		}
		if !from.IsZero() && !to.IsZero() && from.After(to) {
			return aierrors.InvalidArgument("timeRange.from is after timeRange.to")
		}
	}
	return nil
}

func parseISOTime(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, value)
}

func (o *Options) validate() error {
	if o == nil {
		return nil
	}
	if o.MaxTokens != nil && (*o.MaxTokens < MinMaxTokens || *o.MaxTokens > MaxMaxTokens) {
		return aierrors.InvalidArgumentf("maxTokens must be between %d and %d", MinMaxTokens, MaxMaxTokens)
	}
	if o.Temperature != nil && (*o.Temperature < 0 || *o.Temperature > 1) {
		return aierrors.InvalidArgument("temperature must be between 0 and 1")
	}
	if o.Language != "" && !languagePattern.MatchString(o.Language) {
		return aierrors.InvalidArgumentf("language must be a two letter lowercase code, got %q", o.Language)
	}
	if len(o.Plan) > MaxPlanLength {
		return aierrors.InvalidArgumentf("plan exceeds %d characters", MaxPlanLength)
	}
	return nil
}

// entityRefs lists every entity the request references explicitly.
func (c *RequestContext) entityRefs() []store.EntityRef {
	if c == nil {
		return nil
	}
	var refs []store.EntityRef
	add := func(entityType store.EntityType, ids []string) {
		for _, id := range ids {
			refs = append(refs, store.EntityRef{Type: entityType, ID: id})
		}
	}
	add(store.EntityTypeKeyword, c.KeywordIDs)
	add(store.EntityTypeWatchlist, c.WatchlistIDs)
	add(store.EntityTypeListing, c.ListingIDs)
	add(store.EntityTypeAlert, c.AlertIDs)
	if c.ShopID != "" {
		add(store.EntityTypeShop, []string{c.ShopID})
	}
	return refs
}

// marketplace returns the search filter. Hybrid search filters on a single
// marketplace, so several marketplaces search all of them.
func (c *RequestContext) marketplace() string {
	if c == nil || len(c.Marketplaces) != 1 {
		return ""
	}
	return c.Marketplaces[0]
}

// period renders the requested time range for the prompt, or "" when none
// was given.
func (c *RequestContext) period() string {
	if c == nil || c.TimeRange == nil {
		return ""
	}
	from, to := strings.TrimSpace(c.TimeRange.From), strings.TrimSpace(c.TimeRange.To)
	switch {
	case from != "" && to != "":
		return "from " + from + " to " + to
	case from != "":
		return "since " + from
	case to != "":
		return "until " + to
	default:
		return ""
	}
}
