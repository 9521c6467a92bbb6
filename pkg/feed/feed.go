package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mmcdole/gofeed"
)

// Episode is one item of a podcast feed.
type Episode struct {
	ID          string
	PodcastID   string
	Title       string
	AudioURL    string
	PublishedAt *time.Time
}

// Reader fetches and parses podcast RSS/Atom feeds.
type Reader struct {
	client *http.Client
	parser *gofeed.Parser
}

// NewReader creates a reader. A zero timeout means 30 seconds.
func NewReader(timeout time.Duration) *Reader {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Reader{
		client: &http.Client{Timeout: timeout},
		parser: gofeed.NewParser(),
	}
}

// Latest returns up to limit episodes of the feed at url, newest first.
func (r *Reader) Latest(ctx context.Context, podcastID, url string, limit int) ([]Episode, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create feed request %s: %w", podcastID, err)
	}
	req.Header.Set("User-Agent", "podcharts/1.0")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed %s: %w", podcastID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("feed %s status %d", podcastID, resp.StatusCode)
	}

	parsed, err := r.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", podcastID, err)
	}
	return Episodes(podcastID, parsed, limit), nil
}

// Episodes converts parsed feed items. Items without any identity (guid,
// enclosure or link) are dropped.
func Episodes(podcastID string, f *gofeed.Feed, limit int) []Episode {
	var out []Episode
	for _, item := range f.Items {
		audio := audioURL(item)
		key := firstNonEmpty(item.GUID, audio, item.Link)
		if key == "" {
			continue
		}

		var published *time.Time
		if item.PublishedParsed != nil {
			t := item.PublishedParsed.UTC()
			published = &t
		} else if item.UpdatedParsed != nil {
			t := item.UpdatedParsed.UTC()
			published = &t
		}

		title := strings.TrimSpace(item.Title)
		if title == "" {
			title = "Untitled"
		}

		out = append(out, Episode{
			ID:          EpisodeID(podcastID, key),
			PodcastID:   podcastID,
			Title:       title,
			AudioURL:    audio,
			PublishedAt: published,
		})
	}

	// Undated items go last.
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].PublishedAt, out[j].PublishedAt
		if a == nil || b == nil {
			return a != nil
		}
		return a.After(*b)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// EpisodeID derives a stable id from the podcast and the item's identity.
func EpisodeID(podcastID, key string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(podcastID+"\n"+key)).String()
}

func audioURL(item *gofeed.Item) string {
	for _, enc := range item.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "audio/") && enc.URL != "" {
			return enc.URL
		}
	}
	for _, enc := range item.Enclosures {
		if enc != nil && enc.URL != "" {
			return enc.URL
		}
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
