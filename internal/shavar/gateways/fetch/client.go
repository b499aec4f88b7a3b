// Package fetch is the HTTP gateway for the update protocol. It performs
// bounded POST requests and classifies transport failures so the service
// layer can pick the matching backup host without inspecting raw errors.
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/haukened/shavar/internal/shavar/domain"
	"github.com/haukened/shavar/internal/shavar/services/updater"
)

// Error message constants for consistent error handling
const (
	errBuildRequest = "build request: %w"
	errReadBody     = "read response body: %w"
)

// maxResponseBytes bounds how much of a response body is read. Chunk
// payloads from the redirect servers are the largest responses seen in
// practice and stay well under this.
const maxResponseBytes = 32 << 20

// Client performs the protocol's HTTP requests. Every request is a POST,
// carries no cookies, and bypasses intermediate caches.
type Client struct {
	http    *http.Client
	timeout time.Duration
}

// Options defines configuration parameters for the HTTP client.
type Options struct {
	// required parameters
	Timeout time.Duration
	// options to inject for testing purposes
	HTTPClient *http.Client
}

// New creates an HTTP client for protocol requests. Sets a default timeout
// of 30 seconds and a default underlying http.Client if not provided.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	return &Client{
		http:    opts.HTTPClient,
		timeout: opts.Timeout,
	}
}

// ensureContextDeadline ensures the context has a deadline, adding the
// client's default timeout if needed.
func (c *Client) ensureContextDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); !ok {
		return context.WithTimeout(ctx, c.timeout)
	}
	return ctx, nil
}

// Do POSTs body to url and returns the status and response body. Transport
// failures come back as a domain.FetchError carrying the failure kind; an
// HTTP error status is not an error here, the caller decides what a non-2xx
// status means.
func (c *Client) Do(ctx context.Context, url string, body []byte) (updater.Response, error) {
	ctx, cancel := c.ensureContextDeadline(ctx)
	if cancel != nil {
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return updater.Response{}, fmt.Errorf(errBuildRequest, err)
	}
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Cache-Control", "no-store")

	resp, err := c.http.Do(req)
	if err != nil {
		return updater.Response{}, &domain.FetchError{
			Kind: domain.ClassifyNetError(err),
			Err:  err,
		}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return updater.Response{}, &domain.FetchError{
			Kind: domain.ClassifyNetError(err),
			Err:  fmt.Errorf(errReadBody, err),
		}
	}
	return updater.Response{StatusCode: resp.StatusCode, Body: data}, nil
}

var _ updater.Fetcher = (*Client)(nil)
