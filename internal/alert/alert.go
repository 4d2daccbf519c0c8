// Package alert delivers fire-and-forget operator alerts to a chat webhook.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Webhook posts text alerts to a chat-bot webhook URL. Delivery is best
// effort: failures are logged and swallowed.
type Webhook struct {
	url        string
	httpClient *http.Client
	logger     *zap.Logger
}

// New builds a Webhook alerter. An empty URL yields a no-op alerter.
func New(url string, logger *zap.Logger) *Webhook {
	return &Webhook{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

type textMessage struct {
	MsgType string `json:"msgtype"`
	Text    struct {
		Content string `json:"content"`
	} `json:"text"`
}

// Alert sends the message. It never returns an error.
func (w *Webhook) Alert(ctx context.Context, message string) {
	if w.url == "" {
		w.logger.Warn("alert webhook not configured, dropping alert", zap.String("message", message))
		return
	}

	payload := textMessage{MsgType: "text"}
	payload.Text.Content = message
	body, err := json.Marshal(payload)
	if err != nil {
		w.logger.Error("marshal alert", zap.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		w.logger.Error("build alert request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		w.logger.Error("deliver alert", zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		w.logger.Error("alert webhook rejected message", zap.Int("status", resp.StatusCode))
	}
}
