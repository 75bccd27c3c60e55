// Package gateway talks to the messaging gateways (WAHA and Evolution) that a
// channel instance is connected to. Every call carries its own timeout and
// failures are returned to the caller, which decides whether to degrade.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"inbox_backend/internal/inbox/domain"
	"inbox_backend/platform/config"
	"inbox_backend/platform/logger"
)

const (
	maxJSONBody = 1 << 20
	// mediaJSONHeadroom covers the JSON fields around a base64 media body.
	mediaJSONHeadroom = 64 << 10
)

var (
	ErrNotFound         = errors.New("gateway: not found")
	ErrUnauthorized     = errors.New("gateway: every credential convention was rejected")
	ErrUnsupported      = errors.New("gateway: operation not supported by provider")
	ErrResponseTooLarge = errors.New("gateway: response exceeds size limit")
)

// StatusError is returned for non-success responses other than auth rejections.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.Code, e.Body)
}

type Client struct {
	http         *http.Client
	strategies   []AuthStrategy
	timeout      time.Duration
	mediaTimeout time.Duration
	log          *logger.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithAuthStrategies replaces the ordered credential conventions.
func WithAuthStrategies(strategies ...AuthStrategy) Option {
	return func(c *Client) { c.strategies = strategies }
}

func NewClient(cfg config.GatewayConfig, log *logger.Logger, opts ...Option) *Client {
	c := &Client{
		http:         &http.Client{},
		strategies:   DefaultAuthStrategies(),
		timeout:      cfg.GetGatewayTimeout(),
		mediaTimeout: cfg.GetMediaTimeout(),
		log:          log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LookupTimeout is the per-call budget for metadata lookups.
func (c *Client) LookupTimeout() time.Duration {
	return c.timeout
}

type request struct {
	method string
	url    string
	body   any
}

// do sends req with each auth strategy in turn, always in the configured
// order, and returns the first response that is not an authentication
// failure. Instances without a key get a single unauthenticated attempt. The
// caller closes the response body.
func (c *Client) do(ctx context.Context, inst domain.Instance, r request) (*http.Response, error) {
	var payload []byte
	if r.body != nil {
		encoded, err := json.Marshal(r.body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		payload = encoded
	}

	if inst.APIKey == "" {
		return c.send(ctx, r, payload, nil, "")
	}

	var lastStatus int
	for _, strategy := range c.strategies {
		resp, err := c.send(ctx, r, payload, strategy, inst.APIKey)
		if err != nil {
			return nil, err
		}
		if !isAuthRejection(resp.StatusCode) {
			return resp, nil
		}
		lastStatus = resp.StatusCode
		drain(resp)
		c.log.Debug("gateway: credential convention rejected",
			slog.String("strategy", strategy.Name()),
			slog.Int("status", resp.StatusCode),
			slog.String("instance", inst.Name),
		)
	}
	return nil, fmt.Errorf("%w (last status %d)", ErrUnauthorized, lastStatus)
}

func (c *Client) send(ctx context.Context, r request, payload []byte, strategy AuthStrategy, apiKey string) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, r.url, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if strategy != nil {
		strategy.Apply(req, apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway request failed: %w", err)
	}
	return resp, nil
}

// getJSON performs r with the lookup timeout and decodes a JSON response into out.
func (c *Client) getJSON(ctx context.Context, inst domain.Instance, r request, out any) error {
	return c.fetchJSON(ctx, c.timeout, maxJSONBody, inst, r, out)
}

// getMediaJSON is getJSON for responses that embed a base64 media body of up
// to maxBytes decoded bytes. It runs under the media timeout. A non-positive
// maxBytes means no limit.
func (c *Client) getMediaJSON(ctx context.Context, inst domain.Instance, r request, maxBytes int64, out any) error {
	limit := int64(0)
	if maxBytes > 0 {
		limit = maxBytes/3*4 + 4 + mediaJSONHeadroom
	}
	return c.fetchJSON(ctx, c.mediaTimeout, limit, inst, r, out)
}

func (c *Client) fetchJSON(ctx context.Context, timeout time.Duration, limit int64, inst domain.Instance, r request, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := c.do(ctx, inst, r)
	if err != nil {
		return err
	}
	defer drain(resp)

	if err := checkStatus(resp); err != nil {
		return err
	}
	reader := io.Reader(resp.Body)
	if limit > 0 {
		reader = io.LimitReader(resp.Body, limit+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("read gateway response: %w", err)
	}
	if limit > 0 && int64(len(data)) > limit {
		return ErrResponseTooLarge
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode gateway response: %w", err)
	}
	return nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

func endpoint(inst domain.Instance, path string, query url.Values) string {
	u := strings.TrimRight(inst.BaseURL, "/") + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func sessionName(inst domain.Instance) string {
	if inst.SessionName != "" {
		return inst.SessionName
	}
	return inst.Name
}
