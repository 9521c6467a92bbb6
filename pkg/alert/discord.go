package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Discord sends digests via Discord webhook.
type Discord struct {
	client     *http.Client
	webhookURL string
}

// NewDiscord creates a new Discord notifier.
func NewDiscord(webhookURL string) *Discord {
	return &Discord{
		client:     &http.Client{Timeout: 10 * time.Second},
		webhookURL: webhookURL,
	}
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) Send(ctx context.Context, dg *Digest) error {
	var lines []string
	for _, m := range dg.Movers {
		lines = append(lines, fmt.Sprintf("• **%s** #%d (7d %s, momentum %.1f)",
			m.Title, m.Rank, deltaText(m.Delta7d), m.Momentum))
	}

	embed := map[string]any{
		"title":       dg.Title,
		"description": strings.Join(lines, "\n"),
		"color":       0x1DB954,
		"timestamp":   dg.Day.Time().Format(time.RFC3339),
	}

	body, err := json.Marshal(map[string]any{
		"embeds": []map[string]any{embed},
	})
	if err != nil {
		return fmt.Errorf("marshal discord payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return post(d.client, req, "discord")
}
