package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/wuchris-ch/notification-app/internal/domain"
)

// Ntfy publishes to an ntfy server. Topic destinations are posted to
// {baseURL}/{topic}; URL destinations are posted to as-is.
type Ntfy struct {
	baseURL string
	token   string
	timeout time.Duration
	client  *http.Client
	limiter *rate.Limiter // optional, nil = unlimited
}

func NewNtfy(baseURL string) *Ntfy {
	return &Ntfy{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: DefaultTimeout,
		client:  &http.Client{},
	}
}

// WithToken sends "Authorization: Bearer <token>" on every publish.
func (g *Ntfy) WithToken(token string) *Ntfy {
	g.token = token
	return g
}

// WithRateLimit caps publishes per second across all topics. rps <= 0 disables it.
func (g *Ntfy) WithRateLimit(rps int) *Ntfy {
	if rps <= 0 {
		g.limiter = nil
		return g
	}
	g.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	return g
}

func (g *Ntfy) WithTimeout(d time.Duration) *Ntfy {
	if d > 0 {
		g.timeout = d
	}
	return g
}

func (g *Ntfy) WithHTTPClient(c *http.Client) *Ntfy {
	g.client = c
	return g
}

// Send posts the body with the title in the Title header.
func (g *Ntfy) Send(ctx context.Context, dest domain.Destination, n domain.Notification) domain.SendResult {
	start := time.Now()

	var target string
	switch dest.Kind() {
	case domain.DestinationNtfyTopic:
		target = g.baseURL + "/" + dest.String()
	case domain.DestinationURL:
		target = dest.String()
	default:
		return malformed(dest, start, "not an ntfy topic or URL")
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return unreachable(fmt.Errorf("rate limit wait: %w", err), start)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader([]byte(n.Body)))
	if err != nil {
		return malformed(dest, start, "create request: %v", err)
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if n.Title != "" {
		// Header values must be ASCII; ntfy decodes RFC 2047 encoded words.
		req.Header.Set("Title", mime.QEncoding.Encode("utf-8", n.Title))
	}
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return unreachable(fmt.Errorf("send: %w", err), start)
	}
	defer resp.Body.Close()

	preview, _ := io.ReadAll(io.LimitReader(resp.Body, previewLimit))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.SendResult{
			Reason:     domain.FailureNon2xx,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(preview))),
			Duration:   time.Since(start),
		}
	}

	var published struct {
		ID string `json:"id"`
	}
	info := ""
	if json.Unmarshal(preview, &published) == nil && published.ID != "" {
		info = "ntfy id " + published.ID
	}

	return domain.SendResult{
		StatusCode: resp.StatusCode,
		Info:       info,
		Duration:   time.Since(start),
	}
}
