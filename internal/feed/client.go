package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

const maxBodyBytes = 32 << 20

var dayRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

type Endpoints struct {
	Feed   string
	Days   string
	Frames string
}

// Client talks to the detection backend. It never interprets response bodies beyond status checks;
// decoding is left to Decode so the same rules apply to every endpoint.
type Client struct {
	baseURL      string
	endpoints    Endpoints
	envelopeKeys []string
	cacheBust    bool
	httpClient   *http.Client
	now          func() time.Time
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

func WithEnvelopeKeys(keys []string) Option {
	return func(c *Client) {
		if len(keys) > 0 {
			c.envelopeKeys = keys
		}
	}
}

func WithCacheBust(enabled bool) Option {
	return func(c *Client) {
		c.cacheBust = enabled
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

func NewClient(base string, endpoints Endpoints, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		return nil, errors.New("feed api base url is required")
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid feed api base url: %w", err)
	}
	if endpoints.Feed == "" {
		endpoints.Feed = "/static/alertas_timelapse.json"
	}
	if endpoints.Days == "" {
		endpoints.Days = "/timelapse_detecciones/dias"
	}
	if endpoints.Frames == "" {
		endpoints.Frames = "/timelapse_detecciones"
	}

	c := &Client{
		baseURL:      strings.TrimRight(trimmed, "/"),
		endpoints:    endpoints,
		envelopeKeys: DefaultEnvelopeKeys,
		cacheBust:    true,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) EnvelopeKeys() []string {
	return c.envelopeKeys
}

// FetchFeed returns the raw body of the detection feed.
func (c *Client) FetchFeed(ctx context.Context) ([]byte, error) {
	return c.get(ctx, "fetch feed", c.endpoints.Feed, nil)
}

// FetchDays returns the available days for a channel, ascending and restricted to YYYY-MM-DD values.
func (c *Client) FetchDays(ctx context.Context, canal string) ([]string, error) {
	q := url.Values{}
	if canal != "" {
		q.Set("canal", canal)
	}
	body, err := c.get(ctx, "fetch days", c.endpoints.Days, q)
	if err != nil {
		return nil, err
	}
	raw, err := DecodeStrings(body, c.envelopeKeys)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(raw))
	days := make([]string, 0, len(raw))
	for _, d := range raw {
		if len(d) > 10 {
			d = d[:10]
		}
		if !dayRe.MatchString(d) {
			continue
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		days = append(days, d)
	}
	sort.Strings(days)
	return days, nil
}

// FetchFrames returns the frame paths recorded for a day and channel, in backend order.
func (c *Client) FetchFrames(ctx context.Context, dia, canal string) ([]string, error) {
	q := url.Values{}
	q.Set("dia", dia)
	if canal != "" {
		q.Set("canal", canal)
	}
	body, err := c.get(ctx, "fetch frames", c.endpoints.Frames, q)
	if err != nil {
		return nil, err
	}
	return DecodeStrings(body, c.envelopeKeys)
}

func (c *Client) get(ctx context.Context, op, path string, query url.Values) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	endpoint := c.endpointURL(path, query)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &NetworkError{Op: op, URL: endpoint, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if c.cacheBust {
		req.Header.Set("Cache-Control", "no-store")
		req.Header.Set("Pragma", "no-cache")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: op, URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &NetworkError{Op: op, URL: endpoint, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &NetworkError{Op: op, URL: endpoint, Err: fmt.Errorf("read body: %w", err)}
	}
	return body, nil
}

func (c *Client) endpointURL(path string, query url.Values) string {
	endpoint := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		endpoint = c.baseURL + "/" + strings.TrimLeft(path, "/")
	}
	if c.cacheBust {
		if query == nil {
			query = url.Values{}
		}
		query.Set("t", strconv.FormatInt(c.now().UnixMilli(), 10))
	}
	if len(query) > 0 {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint += sep + query.Encode()
	}
	return endpoint
}
