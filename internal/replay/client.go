package replay

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/BetterCallFirewall/postcap/internal/models"
	"github.com/BetterCallFirewall/postcap/internal/postman"
)

// Client replays captured requests against the live host. Replays are
// deliberately conservative: credential headers are stripped, redirects
// are not followed and only a prefix of the answer is kept.
type Client struct {
	httpClient *http.Client
	userAgent  string
	bodyLimit  int64
}

type Options struct {
	Timeout   time.Duration
	UserAgent string
	BodyLimit int64
}

// Result summarizes one replayed request.
type Result struct {
	URL        string           `json:"url"`
	Status     int              `json:"status"`
	BodySize   int              `json:"body_size"`
	BodyPrefix string           `json:"body_prefix"`
	Headers    []postman.Header `json:"headers"`
	DurationMS int64            `json:"duration_ms"`
}

func NewClient(opts Options) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "postcap-replay/1.0"
	}
	if opts.BodyLimit == 0 {
		opts.BodyLimit = 1024
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: opts.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		userAgent: opts.UserAgent,
		bodyLimit: opts.BodyLimit,
	}
}

// Replay re-sends a capture and reports how the host answered.
func (c *Client) Replay(ctx context.Context, capture models.ObservedRequest) (*Result, error) {
	start := time.Now()

	var body io.Reader
	if capture.Body != "" {
		body = strings.NewReader(capture.Body)
	}
	req, err := http.NewRequestWithContext(ctx, capture.Method, capture.URL, body)
	if err != nil {
		return nil, fmt.Errorf("building replay request: %w", err)
	}

	req.Header.Set("User-Agent", c.userAgent)
	for _, h := range capture.Headers {
		if isSafeHeader(h.Name) {
			req.Header.Set(h.Name, h.Value)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("replaying %s: %w", capture.URL, err)
	}
	defer resp.Body.Close()

	prefix, err := io.ReadAll(io.LimitReader(resp.Body, c.bodyLimit))
	if err != nil {
		return nil, fmt.Errorf("reading replay response: %w", err)
	}

	headers := make([]postman.Header, 0, len(resp.Header))
	for name, values := range resp.Header {
		if isSafeHeader(name) && len(values) > 0 {
			headers = append(headers, postman.Header{Name: name, Value: values[0]})
		}
	}
	sort.Slice(headers, func(i, j int) bool { return headers[i].Name < headers[j].Name })

	return &Result{
		URL:        capture.URL,
		Status:     resp.StatusCode,
		BodySize:   len(prefix),
		BodyPrefix: string(prefix),
		Headers:    headers,
		DurationMS: time.Since(start).Milliseconds(),
	}, nil
}

// isSafeHeader keeps content negotiation and identification headers.
// Credentials never leave the original session, and body length and
// encoding are renegotiated on the wire.
func isSafeHeader(name string) bool {
	safe := []string{
		"User-Agent",
		"Accept",
		"Accept-Language",
		"Content-Type",
		"Referer",
		"Origin",
		"Cache-Control",
	}

	for _, s := range safe {
		if strings.EqualFold(name, s) {
			return true
		}
	}
	return false
}
