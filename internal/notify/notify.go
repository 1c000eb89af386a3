// Package notify delivers transfer.finalized events to registered webhooks.
// Payloads are signed with each webhook's secret so receivers can verify
// origin.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/realize-engineering/pipebird/internal/model"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body.
const SignatureHeader = "X-Pipebird-Signature"

// WebhookLister is the slice of the store the notifier needs.
type WebhookLister interface {
	ListWebhooks(ctx context.Context) ([]model.Webhook, error)
}

// Event is the webhook payload. ObjectURL is empty unless the transfer
// delivered to an object store.
type Event struct {
	Type   string      `json:"type"`
	Object EventObject `json:"object"`
}

type EventObject struct {
	TransferID      int64  `json:"transferId"`
	ConfigurationID int64  `json:"configurationId"`
	Status          string `json:"status"`
	FinalizedAt     string `json:"finalizedAt,omitempty"`
	ObjectURL       string `json:"objectUrl,omitempty"`
}

// WebhookNotifier posts finalized transfers to every registered webhook.
// Delivery is best effort: failures are logged, never retried, and never
// fail the transfer.
type WebhookNotifier struct {
	Store  WebhookLister
	Client *http.Client
	Logger *log.Logger
}

func (n *WebhookNotifier) client() *http.Client {
	if n.Client != nil {
		return n.Client
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func (n *WebhookNotifier) logf(format string, args ...any) {
	if n.Logger != nil {
		n.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

func (n *WebhookNotifier) TransferFinalized(ctx context.Context, t model.Transfer, result *model.TransferResult) {
	hooks, err := n.Store.ListWebhooks(ctx)
	if err != nil {
		n.logf("notify: list webhooks: %v", err)
		return
	}
	if len(hooks) == 0 {
		return
	}

	event := Event{
		Type: "transfer.finalized",
		Object: EventObject{
			TransferID:      t.ID,
			ConfigurationID: t.ConfigurationID,
			Status:          string(t.Status),
		},
	}
	if result != nil {
		event.Object.FinalizedAt = result.FinalizedAt.UTC().Format(time.RFC3339)
		event.Object.ObjectURL = result.ObjectURL
	}
	body, err := json.Marshal(event)
	if err != nil {
		n.logf("notify: marshal event: %v", err)
		return
	}

	for _, hook := range hooks {
		if err := n.deliver(ctx, hook, body); err != nil {
			n.logf("notify: webhook %d: %v", hook.ID, err)
		}
	}
}

func (n *WebhookNotifier) deliver(ctx context.Context, hook model.Webhook, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(hook.SecretKey, body))

	resp, err := n.client().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &DeliveryError{StatusCode: resp.StatusCode}
	}
	return nil
}

// Sign computes the hex HMAC-SHA256 signature receivers verify.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// DeliveryError reports a non-2xx webhook response.
type DeliveryError struct {
	StatusCode int
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("webhook responded %d", e.StatusCode)
}
