package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/banshee-data/bledoubt/internal/db"
	"github.com/banshee-data/bledoubt/internal/httputil"
	"github.com/banshee-data/bledoubt/internal/version"
)

// WebhookPayload is the JSON body posted for each alert.
type WebhookPayload struct {
	Kind   string             `json:"kind"` // "device" or "aggregate"
	Count  int                `json:"count"`
	Device *db.DeviceMetadata `json:"device,omitempty"`
	SentAt time.Time          `json:"sent_at"`
}

// WebhookNotifier posts alerts as JSON to a URL.
type WebhookNotifier struct {
	URL    string
	Client httputil.HTTPClient
	Now    func() time.Time
}

// NewWebhookNotifier returns a notifier posting to url with a 10s timeout.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		URL:    url,
		Client: httputil.NewStandardClient(&http.Client{Timeout: 10 * time.Second}),
		Now:    time.Now,
	}
}

func (w *WebhookNotifier) NotifySuspiciousDevice(ctx context.Context, d db.DeviceMetadata) error {
	return w.post(ctx, WebhookPayload{Kind: "device", Count: 1, Device: &d})
}

func (w *WebhookNotifier) NotifySuspiciousDevices(ctx context.Context, count int) error {
	return w.post(ctx, WebhookPayload{Kind: "aggregate", Count: count})
}

func (w *WebhookNotifier) post(ctx context.Context, p WebhookPayload) error {
	if w.Now != nil {
		p.SentAt = w.Now().UTC()
	}
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := w.Client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook %s: %w", w.URL, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s: unexpected status %d", w.URL, resp.StatusCode)
	}
	return nil
}
