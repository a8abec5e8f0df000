// Package feed provides the read-only client for the upstream announcement
// feed: the count probe used for planning and the page fetcher.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for feed requests.
var (
	feedRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "whatsnews_feed_requests_total",
		Help: "Total upstream feed requests by kind and status",
	}, []string{"kind", "status"})

	feedRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "whatsnews_feed_request_duration_seconds",
		Help:    "Upstream feed request duration in seconds by kind",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"kind"})

	feedItemsDecodedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "whatsnews_feed_items_decoded_total",
		Help: "Total items decoded from upstream pages",
	})
)

// Request kinds used as metric labels.
const (
	kindCount = "count"
	kindPage  = "page"
)

// DefaultBaseURL is the upstream search endpoint.
const DefaultBaseURL = "https://aws.amazon.com/api/dirs/items/search"

// Config holds the client configuration.
type Config struct {
	// BaseURL is the upstream search endpoint.
	BaseURL string

	// Locale is sent as item.locale.
	Locale string

	// UserAgent header sent with every request.
	UserAgent string

	// Timeout per request.
	Timeout time.Duration
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:   DefaultBaseURL,
		Locale:    "en_US",
		UserAgent: "whatsnews-mirror/0.1.0",
		Timeout:   30 * time.Second,
	}
}

// Client reads the upstream feed.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	config     Config
	logger     zerolog.Logger
}

// New creates a new feed client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url must be absolute (got %q)", cfg.BaseURL)
	}
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    base,
		config:     cfg,
		logger:     log.With().Str("component", "feed-client").Logger(),
	}, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// CountURL builds the count probe URL for a partition.
func (c *Client) CountURL(p Partition) string {
	q := c.partitionQuery(p)
	q.Set(ParamSize, "1")
	return c.withQuery(q)
}

// PageURL builds the URL for one page descriptor.
func (c *Client) PageURL(d PageDescriptor) string {
	q := c.partitionQuery(d.Partition)
	q.Set(ParamSortBy, d.Sort.Field)
	q.Set(ParamSortOrder, d.Sort.Direction())
	q.Set(ParamSize, strconv.Itoa(d.Size))
	q.Set(ParamPage, strconv.Itoa(d.Index))
	return c.withQuery(q)
}

func (c *Client) partitionQuery(p Partition) url.Values {
	q := url.Values{}
	q.Set(ParamDirectoryID, p.DirectoryID)
	if p.TagID != "" {
		q.Set(ParamTagID, p.TagID)
	}
	if c.config.Locale != "" {
		q.Set(ParamLocale, c.config.Locale)
	}
	return q
}

func (c *Client) withQuery(q url.Values) string {
	u := *c.baseURL
	u.RawQuery = q.Encode()
	return u.String()
}

// Count returns the total number of items in a partition using a size=1 probe.
func (c *Client) Count(ctx context.Context, p Partition) (int, error) {
	resp, err := c.get(ctx, kindCount, c.CountURL(p))
	if err != nil {
		return 0, err
	}

	c.logger.Debug().
		Str("partition", p.String()).
		Int("total_hits", resp.Metadata.TotalHits).
		Msg("Count probe complete")

	return resp.Metadata.TotalHits, nil
}

// FetchPage reads one page. Failures are returned as *FetchError.
func (c *Client) FetchPage(ctx context.Context, d PageDescriptor) (*Page, error) {
	resp, err := c.get(ctx, kindPage, c.PageURL(d))
	if err != nil {
		return nil, err
	}

	feedItemsDecodedTotal.Add(float64(len(resp.Items)))
	c.logger.Debug().
		Str("partition", d.Partition.String()).
		Int("page", d.Index).
		Int("items", len(resp.Items)).
		Msg("Page fetched")

	return &Page{
		Descriptor: d,
		Metadata:   resp.Metadata,
		Entries:    resp.Items,
	}, nil
}

// get performs one GET and decodes the payload.
func (c *Client) get(ctx context.Context, kind, rawURL string) (*Response, error) {
	startTime := time.Now()
	defer func() {
		feedRequestDuration.WithLabelValues(kind).Observe(time.Since(startTime).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Message: "create request", Err: err}
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		feedRequestsTotal.WithLabelValues(kind, "network_error").Inc()
		c.logger.Error().Err(err).Str("url", rawURL).Msg("Feed request failed")
		return nil, &FetchError{URL: rawURL, Message: "request", Err: err}
	}
	defer resp.Body.Close()

	feedRequestsTotal.WithLabelValues(kind, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Warn().
			Str("url", rawURL).
			Int("status", resp.StatusCode).
			Msg("Feed request error")
		return nil, &FetchError{
			URL:        rawURL,
			StatusCode: resp.StatusCode,
			Message:    string(body),
			Err:        ErrUnexpectedStatus,
		}
	}

	var payload Response
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		feedRequestsTotal.WithLabelValues(kind, "decode_error").Inc()
		return nil, &FetchError{URL: rawURL, StatusCode: resp.StatusCode, Message: "decode", Err: err}
	}

	return &payload, nil
}
