// Package api delivers completed second batches to a remote HTTP endpoint.
//
// A pool of workers shares the API dispatch queue. Each batch is attempted up
// to a fixed number of times with capped exponential backoff between
// attempts. A batch that exhausts its attempts is a fatal condition: the
// process exits with the restart code and the supervisor starts it again.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	defaults "github.com/xtxerr/gridrelay/config"
	"github.com/xtxerr/gridrelay/internal/config"
	"github.com/xtxerr/gridrelay/internal/errors"
	"github.com/xtxerr/gridrelay/internal/types"
	"github.com/xtxerr/gridrelay/internal/wire"
)

// Poster sends the rows of one batch.
type Poster interface {
	Post(ctx context.Context, rows []types.GridRow) (Response, error)
}

// Response is a successful reply.
type Response struct {
	Status    int
	RequestID string

	// Body is the response body, truncated to the client's limit.
	Body []byte
}

// Client posts batches over HTTP. Any 2xx status is success.
type Client struct {
	url      string
	headers  map[string]string
	encoding string
	gzip     bool
	timeout  time.Duration
	maxBody  int64
	http     *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithMaxResponseBytes limits how much of a response body is kept.
func WithMaxResponseBytes(n int64) ClientOption {
	return func(c *Client) { c.maxBody = n }
}

// NewClient creates a client from cfg.
func NewClient(cfg config.APIConfig, opts ...ClientOption) *Client {
	c := &Client{
		url:      cfg.URL,
		headers:  cfg.Headers,
		encoding: cfg.Encoding,
		gzip:     cfg.Gzip,
		timeout:  cfg.Timeout,
		maxBody:  defaults.DefaultMaxResponseBytes,
		http:     &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Post sends rows in one request bounded by the client timeout.
func (c *Client) Post(ctx context.Context, rows []types.GridRow) (Response, error) {
	body, contentType, err := c.encode(rows)
	if err != nil {
		return Response{}, err
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("build request: %w", err)
	}

	requestID := uuid.NewString()
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Request-ID", requestID)
	if c.gzip {
		req.Header.Set("Content-Encoding", "gzip")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("post %s: %w", c.url, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody))
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Response{}, fmt.Errorf("%w: %d %s", errors.ErrBadStatus, resp.StatusCode, bytes.TrimSpace(raw))
	}

	return Response{Status: resp.StatusCode, RequestID: requestID, Body: raw}, nil
}

func (c *Client) encode(rows []types.GridRow) ([]byte, string, error) {
	var buf bytes.Buffer

	var w io.Writer = &buf
	var zw *gzip.Writer
	if c.gzip {
		zw = gzip.NewWriter(&buf)
		w = zw
	}

	contentType := "application/json"
	switch c.encoding {
	case "protobuf":
		contentType = wire.ContentType
		if err := wire.NewWriter(w).WriteAll(rows); err != nil {
			return nil, "", err
		}
	default:
		if rows == nil {
			rows = []types.GridRow{}
		}
		if err := json.NewEncoder(w).Encode(rows); err != nil {
			return nil, "", fmt.Errorf("encode rows: %w", err)
		}
	}

	if zw != nil {
		if err := zw.Close(); err != nil {
			return nil, "", fmt.Errorf("compress body: %w", err)
		}
	}
	return buf.Bytes(), contentType, nil
}
