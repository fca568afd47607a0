package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/terra-clan/focus-engine/internal/levels"
	"github.com/terra-clan/focus-engine/internal/models"
)

// DefaultTimeout bounds every request unless overridden
const DefaultTimeout = 15 * time.Second

// ErrNetwork wraps transport failures, including timeouts
var ErrNetwork = errors.New("network error")

// APIError is a non-2xx response from the service
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

// Client is a Go SDK for the focus-engine API
type Client struct {
	baseURL    string
	token      string
	awardPath  string
	httpClient *http.Client
}

// Option configures the client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the client timeout
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithEdgeFunctionPath sends awards to /functions/v1/award-xp
func WithEdgeFunctionPath() Option {
	return func(c *Client) {
		c.awardPath = "/functions/v1/award-xp"
	}
}

// NewClient creates a new focus-engine client. token is the caller's bearer token.
func NewClient(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		token:     token,
		awardPath: "/api/v1/award-xp",
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// AwardXP reports a completed session and returns the committed result
func (c *Client) AwardXP(ctx context.Context, minutes float64, mode string) (*models.AwardResponse, error) {
	body, err := json.Marshal(models.AwardRequest{
		SessionDurationMinutes: &minutes,
		FocusMode:              mode,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.doRequest(ctx, http.MethodPost, c.awardPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var result models.AwardResponse
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if !result.Success {
		return nil, &APIError{Status: http.StatusOK, Message: "award not applied"}
	}

	return &result, nil
}

// GetProfile retrieves the caller's profile
func (c *Client) GetProfile(ctx context.Context) (*models.Profile, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/api/v1/profile", nil)
	if err != nil {
		return nil, err
	}

	var p models.Profile
	if err := json.Unmarshal(resp, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &p, nil
}

// ListAwards retrieves the caller's most recent awards
func (c *Client) ListAwards(ctx context.Context, limit int) ([]*models.AwardRecord, error) {
	path := "/api/v1/profile/awards"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}

	resp, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		Awards []*models.AwardRecord `json:"awards"`
		Total  int                   `json:"total"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return result.Awards, nil
}

// GetLevels fetches the service's level table
func (c *Client) GetLevels(ctx context.Context) (*levels.Table, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/api/v1/levels", nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		Version int                `json:"version"`
		Levels  []levels.Threshold `json:"levels"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	table, err := levels.New(result.Version, result.Levels)
	if err != nil {
		return nil, fmt.Errorf("invalid level table from server: %w", err)
	}
	return table, nil
}

// Health checks if the service is healthy
func (c *Client) Health(ctx context.Context) error {
	_, err := c.doRequest(ctx, http.MethodGet, "/health", nil)
	return err
}

// WatchProfile streams the caller's profile snapshots until ctx is done or
// the connection drops. The channel is closed on exit.
func (c *Client) WatchProfile(ctx context.Context) (<-chan models.ProfileSnapshot, error) {
	u, err := url.Parse(c.baseURL + "/api/v1/profile/stream")
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	out := make(chan models.ProfileSnapshot, 4)
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go func() {
		defer close(out)
		defer conn.Close()
		for {
			var msg struct {
				Type    string                  `json:"type"`
				Profile *models.ProfileSnapshot `json:"profile"`
			}
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Type != "profile" || msg.Profile == nil {
				continue
			}
			select {
			case out <- *msg.Profile:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// doRequest performs an HTTP request
func (c *Client) doRequest(ctx context.Context, method, path string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrNetwork, err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
		var e models.ErrorResponse
		if json.Unmarshal(respBody, &e) == nil && e.Error != "" {
			apiErr.Message = e.Error
		}
		return nil, apiErr
	}

	return respBody, nil
}
