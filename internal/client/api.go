package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kiranshivaraju/cadence/internal/intake"
	"github.com/kiranshivaraju/cadence/pkg/models"
)

// Sentinel errors for API transport failures.
var (
	ErrServerUnreachable = errors.New("cadence server unreachable")
	ErrTimeout           = errors.New("cadence request timeout")
	ErrNotFound          = errors.New("generation not found on server")
)

// APIError is a non-2xx response the client has no sentinel for.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server returned %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// API talks to the Cadence HTTP endpoints.
type API interface {
	Generate(ctx context.Context, prompt string) (*models.Generation, error)
	Generation(ctx context.Context, id string) (*models.GenerationUpdate, error)
	Health(ctx context.Context) (*models.HealthResponse, error)
}

// HTTPClient implements API over HTTP.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a client for the server at baseURL (http:// or https://).
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Generate creates a generation. A 400 is returned as *intake.ValidationError
// and a 402 as intake.ErrInsufficientCredits.
func (c *HTTPClient) Generate(ctx context.Context, prompt string) (*models.Generation, error) {
	body, err := json.Marshal(models.GenerateRequest{Prompt: prompt})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusBadRequest:
		e := decodeError(resp)
		return nil, &intake.ValidationError{Message: e.Message}
	case http.StatusPaymentRequired:
		e := decodeError(resp)
		return nil, fmt.Errorf("%w: %s", intake.ErrInsufficientCredits, e.Message)
	default:
		return nil, decodeError(resp)
	}

	var out models.GenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding generate response: %w", err)
	}
	if !out.Success || out.Generation == nil {
		return nil, fmt.Errorf("decoding generate response: missing generation")
	}
	return out.Generation, nil
}

// Generation returns the last update the server recorded for id.
func (c *HTTPClient) Generation(ctx context.Context, id string) (*models.GenerationUpdate, error) {
	u := fmt.Sprintf("%s/api/generations/%s", c.baseURL, url.PathEscape(id))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	var out models.UpdateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding generation response: %w", err)
	}
	if out.Update == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return out.Update, nil
}

func (c *HTTPClient) Health(ctx context.Context) (*models.HealthResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/health", nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	// A degraded server answers 503 with a health body.
	var out models.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding health response: %w", err)
	}
	return &out, nil
}

func decodeError(resp *http.Response) *APIError {
	var body models.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Error == "" {
		body.Error = http.StatusText(resp.StatusCode)
	}
	return &APIError{Status: resp.StatusCode, Code: body.Code, Message: body.Error}
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrServerUnreachable, err)
}

// WebsocketURL derives the realtime endpoint from an http(s) base URL.
func WebsocketURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("parsing server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	u.Path += "/socket"
	return u.String(), nil
}

// Compile-time check that HTTPClient implements API.
var _ API = (*HTTPClient)(nil)
