package ranking

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// DefaultListenNotesURL is the public ListenNotes API base.
const DefaultListenNotesURL = "https://listen-api.listennotes.com/api/v2"

const userAgent = "PodCharts/0.1 (+https://podcharts.xyz)"

// ListenNotes fetches best-podcast charts from the ListenNotes API.
type ListenNotes struct {
	client  *http.Client
	baseURL string
	apiKey  string
	limiter *rate.Limiter
}

// ListenNotesOptions configures the ListenNotes client.
type ListenNotesOptions struct {
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	RequestsPerSecond float64
}

// NewListenNotes creates a new ListenNotes provider.
func NewListenNotes(opts ListenNotesOptions) *ListenNotes {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultListenNotesURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	return &ListenNotes{
		client:  &http.Client{Timeout: opts.Timeout},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		limiter: rate.NewLimiter(limit, 1),
	}
}

func (l *ListenNotes) Name() string { return SourceListenNotes }

// Fetch returns a single chart page, ranked by position.
func (l *ListenNotes) Fetch(ctx context.Context, q Query) ([]RankedPodcast, error) {
	region := NormalizeRegion(q.Region)

	params := url.Values{}
	params.Set("page", "1")
	params.Set("page_size", strconv.Itoa(ClampPageSize(q.PageSize)))
	params.Set("safe_mode", "0")
	if region != GlobalRegion {
		params.Set("region", strings.ToUpper(region))
	}
	if q.Category.GenreID != nil {
		params.Set("genre_id", strconv.Itoa(*q.Category.GenreID))
	}

	if err := l.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for rate limiter: %w", err)
	}

	reqURL := l.baseURL + "/best_podcasts?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create listennotes request: %w", err)
	}
	req.Header.Set("X-ListenAPI-Key", l.apiKey)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch best podcasts %s/%s: %w", q.Category.Slug, region, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var page lnBestPodcasts
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode best podcasts %s/%s: %w", q.Category.Slug, region, err)
	}

	log.Debug().
		Str("category", q.Category.Slug).
		Str("region", region).
		Int("count", len(page.Podcasts)).
		Dur("duration", time.Since(start)).
		Msg("listennotes page fetched")

	ranked := make([]RankedPodcast, 0, len(page.Podcasts))
	for i, p := range page.Podcasts {
		if p.ID == "" {
			continue
		}
		title := p.Title
		if title == "" {
			title = "Untitled"
		}
		ranked = append(ranked, RankedPodcast{
			PodcastID:  p.ID,
			Title:      title,
			Publisher:  p.Publisher,
			Category:   q.Category.Slug,
			RSSURL:     p.RSS,
			Country:    region,
			Rank:       i + 1,
			CapturedOn: q.Day,
			Source:     SourceListenNotes,
		})
	}
	return ranked, nil
}

type lnBestPodcasts struct {
	Podcasts []lnPodcast `json:"podcasts"`
	HasNext  bool        `json:"has_next"`
}

type lnPodcast struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Publisher string `json:"publisher"`
	RSS       string `json:"rss"`
}
