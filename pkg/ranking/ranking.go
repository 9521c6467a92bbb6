package ranking

import (
	"context"
	"fmt"
	"strings"
)

// SourceListenNotes is the primary ranking source.
const SourceListenNotes = "listennotes"

// GlobalRegion is stored as the country when no region is requested.
const GlobalRegion = "global"

// MaxPageSize is the provider's own page-size limit.
const MaxPageSize = 50

// Category is a chart to fetch. A nil GenreID is the overall "top" chart.
type Category struct {
	GenreID *int   `yaml:"genre_id" json:"genre_id,omitempty"`
	Slug    string `yaml:"slug" json:"slug"`
}

func genre(id int) *int { return &id }

// DefaultCategories are the charts tracked when none are configured.
func DefaultCategories() []Category {
	return []Category{
		{Slug: "top"},
		{GenreID: genre(93), Slug: "technology"},
		{GenreID: genre(99), Slug: "news"},
		{GenreID: genre(67), Slug: "comedy"},
		{GenreID: genre(68), Slug: "business"},
		{GenreID: genre(88), Slug: "health"},
		{GenreID: genre(140), Slug: "education"},
	}
}

// RankedPodcast is one entry of a chart page, normalized.
type RankedPodcast struct {
	PodcastID  string `json:"podcast_id"`
	Title      string `json:"title"`
	Publisher  string `json:"publisher"`
	Category   string `json:"category"`
	RSSURL     string `json:"rss_url"`
	Country    string `json:"country"`
	Rank       int    `json:"rank"`
	CapturedOn Day    `json:"captured_on"`
	Source     string `json:"source"`
}

// Query selects one chart page.
type Query struct {
	Category Category
	Region   string
	PageSize int
	Day      Day
}

// Provider fetches ranked charts from an upstream service.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, q Query) ([]RankedPodcast, error)
}

// StatusError is returned when the provider answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("provider status %d", e.StatusCode)
	}
	return fmt.Sprintf("provider status %d: %s", e.StatusCode, e.Body)
}

// NormalizeRegion lowercases a region code; empty means global.
func NormalizeRegion(region string) string {
	r := strings.ToLower(strings.TrimSpace(region))
	if r == "" {
		return GlobalRegion
	}
	return r
}

// ClampPageSize keeps a page size within [1, MaxPageSize].
func ClampPageSize(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxPageSize {
		return MaxPageSize
	}
	return n
}
