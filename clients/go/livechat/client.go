// Package livechat provides a client for the live-chat relay: the WebSocket
// event stream used by visitor widgets and agent consoles, and the HTTP history API.
package livechat

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

	"github.com/gorilla/websocket"
)

// Client is a relay API client.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
}

// NewClient creates a new client. token is a signed credential for one site and role.
func NewClient(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// Error is a relay error: an error event on the stream or an HTTP error body.
type Error struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *Error) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("livechat error %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("livechat %s: %s", e.Code, e.Message)
}

// doRequest performs an authenticated HTTP request.
func (c *Client) doRequest(ctx context.Context, method, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		e := &Error{Status: resp.StatusCode}
		if json.Unmarshal(body, e) != nil || e.Message == "" {
			e.Message = http.StatusText(resp.StatusCode)
		}
		return nil, e
	}
	return body, nil
}

// HistoryPage is one page of a session's history, oldest first.
type HistoryPage struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"has_more"`
}

// History fetches messages of a session created before the cursor (zero for the
// latest). Requires an admin token for the site.
func (c *Client) History(ctx context.Context, siteID, sessionID string, limit int, before int64) (*HistoryPage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if before > 0 {
		q.Set("before", strconv.FormatInt(before, 10))
	}
	path := fmt.Sprintf("/sites/%s/sessions/%s/messages", url.PathEscape(siteID), url.PathEscape(sessionID))
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	body, err := c.doRequest(ctx, http.MethodGet, path)
	if err != nil {
		return nil, err
	}
	var page HistoryPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// HealthResponse is the response from the health endpoint.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	StoreMode string                 `json:"store_mode"`
	Checks    map[string]interface{} `json:"checks"`
	Relay     map[string]int         `json:"relay"`
	Timestamp string                 `json:"timestamp"`
}

// Health checks server health. A degraded server answers 503 with a body, which
// is returned together with the error.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return &health, &Error{Status: resp.StatusCode, Message: health.Status}
	}
	return &health, nil
}

func (c *Client) wsURL() (string, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}
