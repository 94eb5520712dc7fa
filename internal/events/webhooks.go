package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/hashicorp/go-retryablehttp"
)

// WebhookSubscriber posts every event as JSON to an external endpoint.
// Unlike the other built-ins, this one may request pipeline abort: if the
// endpoint's acknowledgment fails (non-2xx, or the request errors after
// retries), ShouldAbort starts returning true.
type WebhookSubscriber struct {
	URL    string
	client *retryablehttp.Client

	abort int32 // atomic bool
}

// NewWebhookSubscriber builds a subscriber posting to url, using
// hashicorp/go-retryablehttp for bounded-retry HTTP delivery.
func NewWebhookSubscriber(url string) *WebhookSubscriber {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.Logger = nil
	return &WebhookSubscriber{URL: url, client: client}
}

func (s *WebhookSubscriber) OnEmit(e Event) error {
	payload, err := json.Marshal(struct {
		Kind Event
	}{Kind: e})
	if err != nil {
		return err
	}

	req, err := retryablehttp.NewRequest(http.MethodPost, s.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		atomic.StoreInt32(&s.abort, 1)
		return fmt.Errorf("webhook post failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		atomic.StoreInt32(&s.abort, 1)
		return fmt.Errorf("webhook endpoint returned status %d", resp.StatusCode)
	}
	atomic.StoreInt32(&s.abort, 0)
	return nil
}

// ShouldAbort implements Aborter.
func (s *WebhookSubscriber) ShouldAbort() bool {
	return atomic.LoadInt32(&s.abort) == 1
}
