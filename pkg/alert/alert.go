package alert

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/elonfeng/podcharts/pkg/ranking"
)

// Mover is one podcast climbing the charts.
type Mover struct {
	PodcastID string  `json:"podcast_id"`
	Title     string  `json:"title"`
	Publisher string  `json:"publisher"`
	Category  string  `json:"category"`
	Rank      int     `json:"rank"`
	Delta7d   *int    `json:"delta_7d"`
	Delta30d  *int    `json:"delta_30d"`
	Momentum  float64 `json:"momentum_score"`
}

// Digest is the daily movers summary sent to alert destinations.
type Digest struct {
	Day    ranking.Day `json:"day"`
	Title  string      `json:"title"`
	Movers []Mover     `json:"movers"`
}

// Notifier delivers digests to a specific destination.
type Notifier interface {
	Name() string
	Send(ctx context.Context, d *Digest) error
}

// Manager broadcasts digests to all registered notifiers.
type Manager struct {
	notifiers []Notifier
}

// NewManager creates a new alert manager.
func NewManager(notifiers []Notifier) *Manager {
	return &Manager{notifiers: notifiers}
}

// HasNotifiers returns true if at least one notifier is configured.
func (m *Manager) HasNotifiers() bool {
	return len(m.notifiers) > 0
}

// Broadcast sends a digest to all registered notifiers.
func (m *Manager) Broadcast(ctx context.Context, d *Digest) error {
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(ctx, d); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", notifier.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func deltaText(d *int) string {
	if d == nil {
		return "new"
	}
	return fmt.Sprintf("%+d", *d)
}

func post(client *http.Client, req *http.Request, name string) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send %s webhook: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s webhook status %d", name, resp.StatusCode)
	}
	return nil
}
