// Package scan walks a paginated provider response chain by following
// links.next until the provider stops returning one.
package scan

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/ppiankov/mdspull/internal/privacy"
	"github.com/ppiankov/mdspull/internal/provider"
)

const (
	defaultTimeout = 60 * time.Second
	maxErrorBody   = 512
)

var (
	// ErrTransport wraps network failures and non-2xx responses.
	ErrTransport = errors.New("provider request failed")

	// ErrMalformedResponse wraps undecodable pages, pages without the
	// expected record array, and revisited cursors.
	ErrMalformedResponse = errors.New("malformed provider response")
)

// APIError represents a non-2xx HTTP response.
type APIError struct {
	StatusCode int
	Body       string // first 512 bytes
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Page is one decoded provider response.
type Page struct {
	Number  int // 1-based
	URL     string
	Records []json.RawMessage
}

// PageFunc consumes a page. Returning an error aborts the scan.
type PageFunc func(ctx context.Context, page Page) error

// Stats summarizes a completed (or aborted) scan.
type Stats struct {
	Pages   int
	Records int
}

// Scanner issues page requests one at a time. It keeps no per-scan state,
// so one Scanner may serve concurrent scans.
type Scanner struct {
	client *http.Client
	logger *slog.Logger
	redact []*regexp.Regexp
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Scanner) {
		s.client = c
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(s *Scanner) {
		if d > 0 {
			s.client = &http.Client{Timeout: d}
		}
	}
}

// WithLogger sets the logger used for per-page debug output.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scanner) {
		s.logger = l
	}
}

// WithRedaction masks matches of patterns in logged and returned URLs.
func WithRedaction(patterns []*regexp.Regexp) Option {
	return func(s *Scanner) {
		s.redact = patterns
	}
}

// New creates a Scanner.
func New(opts ...Option) *Scanner {
	s := &Scanner{
		client: &http.Client{Timeout: defaultTimeout},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan fetches req, hands the records found under data.<field> to onPage,
// and repeats with links.next until a page has no next cursor. Headers of
// req are sent with every page.
func (s *Scanner) Scan(ctx context.Context, req provider.Request, field string, onPage PageFunc) (Stats, error) {
	var stats Stats
	visited := make(map[string]bool)
	target := req.URL

	for {
		if visited[target] {
			return stats, fmt.Errorf("%w: cursor %s already visited", ErrMalformedResponse, s.safeURL(target))
		}
		visited[target] = true

		body, err := s.fetch(ctx, target, req.Header)
		if err != nil {
			return stats, err
		}

		records, next, err := decodePage(body, field)
		if err != nil {
			return stats, fmt.Errorf("%w: %s: %w", ErrMalformedResponse, s.safeURL(target), err)
		}

		stats.Pages++
		stats.Records += len(records)
		s.logger.Debug("page fetched",
			"url", s.safeURL(target),
			"page", stats.Pages,
			"records", len(records),
			"has_next", next != "",
		)

		if err := onPage(ctx, Page{Number: stats.Pages, URL: target, Records: records}); err != nil {
			return stats, err
		}

		if next == "" {
			return stats, nil
		}
		target = next
	}
}

func (s *Scanner) fetch(ctx context.Context, target string, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %w", ErrTransport, err)
	}
	req.Header = header.Clone()

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: %w", ErrTransport, s.safeURL(target), err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrTransport, s.safeURL(target), err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := string(body)
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: snippet}
		return nil, fmt.Errorf("%w: GET %s: %w", ErrTransport, s.safeURL(target), apiErr)
	}

	return body, nil
}

func (s *Scanner) safeURL(u string) string {
	return privacy.Apply(u, s.redact)
}

type envelope struct {
	Data  map[string]json.RawMessage `json:"data"`
	Links struct {
		Next string `json:"next"`
	} `json:"links"`
}

func decodePage(body []byte, field string) ([]json.RawMessage, string, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, "", fmt.Errorf("decode body: %w", err)
	}

	raw, ok := env.Data[field]
	if !ok {
		return nil, "", fmt.Errorf("missing data.%s", field)
	}
	if !bytes.HasPrefix(bytes.TrimSpace(raw), []byte("[")) {
		return nil, "", fmt.Errorf("data.%s is not an array", field)
	}

	var records []json.RawMessage
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, "", fmt.Errorf("decode data.%s: %w", field, err)
	}

	return records, env.Links.Next, nil
}
