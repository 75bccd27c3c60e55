package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"inbox_backend/internal/inbox/domain"
)

// Download is a fetched media body.
type Download struct {
	Data        []byte
	ContentType string
}

// Download fetches rawURL within the media timeout. Credentials are only sent
// when the URL points at the instance's own host; third-party CDN links are
// fetched anonymously. Bodies larger than maxBytes are rejected.
func (c *Client) Download(ctx context.Context, inst domain.Instance, rawURL string, maxBytes int64) (Download, error) {
	ctx, cancel := context.WithTimeout(ctx, c.mediaTimeout)
	defer cancel()

	target := inst
	if !sameHost(rawURL, inst.BaseURL) {
		target.APIKey = ""
	}

	resp, err := c.do(ctx, target, request{method: http.MethodGet, url: rawURL})
	if err != nil {
		return Download{}, err
	}
	defer drain(resp)

	if err := checkStatus(resp); err != nil {
		return Download{}, err
	}

	reader := io.Reader(resp.Body)
	if maxBytes > 0 {
		reader = io.LimitReader(resp.Body, maxBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return Download{}, fmt.Errorf("read media body: %w", err)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return Download{}, ErrResponseTooLarge
	}
	if len(data) == 0 {
		return Download{}, fmt.Errorf("empty media body from %s", redact(rawURL))
	}
	return Download{Data: data, ContentType: resp.Header.Get("Content-Type")}, nil
}

func sameHost(rawURL, baseURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	b, err := url.Parse(baseURL)
	if err != nil || b.Host == "" {
		return false
	}
	return strings.EqualFold(u.Host, b.Host)
}

// redact drops the query string, which for signed URLs holds credentials.
func redact(rawURL string) string {
	if i := strings.IndexByte(rawURL, '?'); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}
