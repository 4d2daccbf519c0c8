// Package lkp is the HTTP client for the third-party account proxy API. Every
// call is a POST to a single proxy endpoint naming the account, the remote
// method, and its parameters.
package lkp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrSessionExpired reports that the account's remote session cookie is no
// longer valid and the browser session needs a fresh login.
var ErrSessionExpired = errors.New("account session expired")

const proxyPath = "/api/action/proxy-extended-requests/"

// Remote method names accepted by the proxy endpoint.
const (
	MethodGetConnections          = "get_connections_v2"
	MethodConnectionSummary       = "connection_summary"
	MethodConversationsBySyncTok  = "conversations_by_sync_token"
	MethodConversationsByCategory = "conversations_by_category"
)

// Client calls the proxy API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	source     string
	logger     *zap.Logger
}

// New builds a Client for the given API base URL.
func New(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		source:     "realtime-monitor",
		logger:     logger,
	}
}

type proxyRequest struct {
	LinkedinAccount string         `json:"linkedin_account"`
	MethodName      string         `json:"method_name"`
	Params          map[string]any `json:"params"`
	EnableLogin     bool           `json:"enable_login"`
	Source          string         `json:"source"`
	Description     string         `json:"description"`
}

type proxyResponse struct {
	ResponseStatus string          `json:"response_status"`
	Data           json.RawMessage `json:"data"`
}

// Request proxies method for the account and returns the raw data payload.
// A "cookie expired" response status maps to ErrSessionExpired.
func (c *Client) Request(ctx context.Context, email, method string, params map[string]any) (json.RawMessage, error) {
	if params == nil {
		params = map[string]any{}
	}
	body, err := json.Marshal(proxyRequest{
		LinkedinAccount: email,
		MethodName:      method,
		Params:          params,
		EnableLogin:     false,
		Source:          c.source,
		Description:     method,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal proxy request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+proxyPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build proxy request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", method, err)
	}
	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("%s returned status %d: %s", method, resp.StatusCode, truncate(raw, 200))
	}

	var envelope proxyResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", method, err)
	}

	switch envelope.ResponseStatus {
	case "success":
		return envelope.Data, nil
	case "cookie expired":
		c.logger.Warn("remote session cookie expired", zap.String("account", email))
		return nil, ErrSessionExpired
	default:
		return nil, fmt.Errorf("%s returned response_status %q", method, envelope.ResponseStatus)
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
