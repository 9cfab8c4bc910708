package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/miradorstack/mirador-authlens/internal/models"
)

// maxBody caps how much of a response the client will read.
const maxBody = 16 << 20

// TransportError reports a request that produced no usable envelope: a network
// failure, a non-JSON body, or a non-2xx status without an envelope.
type TransportError struct {
	Category models.Category
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Category, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// EnvelopeError is a well-formed failure envelope returned by the server.
type EnvelopeError struct {
	Category models.Category
	Status   int
	Message  string
}

func (e *EnvelopeError) Error() string {
	return fmt.Sprintf("%s failed (%d): %s", e.Category, e.Status, e.Message)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// Client fetches category envelopes from the analytics API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a client for baseURL. timeout bounds each request.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Fetch returns the data of a successful envelope.
func (c *Client) Fetch(ctx context.Context, category models.Category) (json.RawMessage, error) {
	endpoint, err := c.endpoint(category)
	if err != nil {
		return nil, &TransportError{Category: category, Err: err}
	}

	var env envelope
	status, err := c.getJSON(ctx, endpoint, &env)
	if err != nil {
		return nil, &TransportError{Category: category, Err: err}
	}
	if !env.Success {
		msg := env.Error
		if msg == "" {
			msg = http.StatusText(status)
		}
		return nil, &EnvelopeError{Category: category, Status: status, Message: msg}
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, &TransportError{Category: category, Err: errors.New("success envelope without data")}
	}
	return env.Data, nil
}

func (c *Client) endpoint(category models.Category) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	u.Path = path.Join(u.Path, "analytics", category.String())
	return u.String(), nil
}

// getJSON decodes the body into out. A non-2xx response is accepted only when
// its body is a JSON envelope.
func (c *Client) getJSON(ctx context.Context, endpoint string, out *envelope) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return resp.StatusCode, fmt.Errorf("server returned %s", resp.Status)
		}
		return resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	return resp.StatusCode, nil
}
