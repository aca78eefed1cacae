package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/onaplatform/ona-api/internal/graphstore"
	"github.com/rs/zerolog/log"
)

// DefaultMaxResponseBytes caps a remote edge list when no limit is set.
const DefaultMaxResponseBytes int64 = 32 << 20

// ErrResponseTooLarge is returned when a remote edge list exceeds the
// configured size.
var ErrResponseTooLarge = errors.New("remote edge list is too large")

// HTTPSource fetches JSON edge lists from remote endpoints.
type HTTPSource struct {
	client   *resty.Client
	maxBytes int64
}

type httpSourceOptions struct {
	maxBytes     int64
	allowPrivate bool
}

// HTTPSourceOption configures an HTTPSource.
type HTTPSourceOption func(*httpSourceOptions)

// WithMaxResponseBytes caps how much of a response body is read.
func WithMaxResponseBytes(n int64) HTTPSourceOption {
	return func(o *httpSourceOptions) {
		if n > 0 {
			o.maxBytes = n
		}
	}
}

// WithPrivateAddresses allows fetching from loopback and private networks.
func WithPrivateAddresses(allow bool) HTTPSourceOption {
	return func(o *httpSourceOptions) { o.allowPrivate = allow }
}

// NewHTTPSource builds a client with the given per-request timeout.
// Private and reserved addresses are refused unless WithPrivateAddresses
// says otherwise.
func NewHTTPSource(timeout time.Duration, opts ...HTTPSourceOption) *HTTPSource {
	o := httpSourceOptions{maxBytes: DefaultMaxResponseBytes}
	for _, opt := range opts {
		opt(&o)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DialContext = guardedDialer(o.allowPrivate)

	client := resty.New().
		SetTransport(transport).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		AddRetryCondition(func(_ *resty.Response, err error) bool {
			return err != nil && !errors.Is(err, ErrBlockedAddress)
		}).
		SetHeader("Accept", "application/json")
	return &HTTPSource{client: client, maxBytes: o.maxBytes}
}

// Fetch downloads and parses the edge list at rawURL.
func (s *HTTPSource) Fetch(ctx context.Context, rawURL string) ([]graphstore.Edge, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("connection_string must be an http(s) URL")
	}

	resp, err := s.client.R().SetContext(ctx).SetDoNotParseResponse(true).Get(u.String())
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", u.Redacted(), err)
	}
	body := resp.RawBody()
	defer body.Close()
	if resp.IsError() {
		return nil, fmt.Errorf("fetch %s: status %d", u.Redacted(), resp.StatusCode())
	}

	data, err := io.ReadAll(io.LimitReader(body, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", u.Redacted(), err)
	}
	if int64(len(data)) > s.maxBytes {
		return nil, fmt.Errorf("fetch %s: %w (limit %d bytes)", u.Redacted(), ErrResponseTooLarge, s.maxBytes)
	}

	edges, err := Parse(FormatJSON, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	log.Info().Str("url", u.Redacted()).Int("edges", len(edges)).Msg("Fetched remote edge list")
	return edges, nil
}
