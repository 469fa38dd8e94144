// Package transport implements the HTTP transport external collaborator
// spec.md §6 specifies only the contract for: get(url, headers) and
// post(url, body, headers), thread-safe, with hot-swappable timeouts. It is
// grounded on pkg/logger.LoggingMiddleware's request/duration/status
// logging idiom, adapted from server-side middleware into a client-side
// round-tripper.
package transport

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"
)

// Response is the normalized result of a request, matching spec.md §6's
// `(status, body, response_headers)` contract.
type Response struct {
	Status  int
	Body    []byte
	Headers http.Header
}

// Transport is the thread-safe HTTP collaborator every SDK component talks
// through.
type Transport interface {
	Get(ctx context.Context, url string, headers map[string]string) (Response, error)
	Post(ctx context.Context, url string, body []byte, headers map[string]string) (Response, error)
	SetTimeouts(connect, read time.Duration)
}

// HTTPTransport is the production Transport, backed by a net/http.Client
// whose connect/read timeouts are hot-swappable via atomic writes so a
// running client can apply new network options without tearing down
// in-flight connections.
type HTTPTransport struct {
	client *http.Client
	dialer *net.Dialer

	connectTimeout atomic.Int64 // nanoseconds
	readTimeout    atomic.Int64 // nanoseconds

	logger *slog.Logger
}

// NewHTTPTransport builds a Transport with the given initial timeouts.
func NewHTTPTransport(connectTimeout, readTimeout time.Duration, logger *slog.Logger) *HTTPTransport {
	dialer := &net.Dialer{Timeout: connectTimeout}
	rt := &http.Transport{DialContext: dialer.DialContext}

	if logger == nil {
		logger = slog.Default()
	}
	t := &HTTPTransport{
		client: &http.Client{Transport: rt},
		dialer: dialer,
		logger: logger,
	}
	t.connectTimeout.Store(int64(connectTimeout))
	t.readTimeout.Store(int64(readTimeout))
	return t
}

func (t *HTTPTransport) Get(ctx context.Context, url string, headers map[string]string) (Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Response{}, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return t.do(req)
}

func (t *HTTPTransport) Post(ctx context.Context, url string, body []byte, headers map[string]string) (Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Response{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return t.do(req)
}

func (t *HTTPTransport) do(req *http.Request) (Response, error) {
	if d := time.Duration(t.readTimeout.Load()); d > 0 {
		ctx, cancel := context.WithTimeout(req.Context(), d)
		defer cancel()
		req = req.WithContext(ctx)
	}

	start := time.Now()
	resp, err := t.client.Do(req)
	duration := time.Since(start)
	if err != nil {
		t.logger.Debug("transport request failed", "method", req.Method, "url", req.URL.String(), "duration", duration, "error", err)
		return Response{}, err
	}
	defer resp.Body.Close()

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, err
	}

	t.logger.Debug("transport request", "method", req.Method, "url", req.URL.String(), "status", resp.StatusCode, "duration", duration)
	return Response{Status: resp.StatusCode, Body: buf, Headers: resp.Header}, nil
}

// SetTimeouts hot-swaps the connect and read timeouts applied to future
// requests.
func (t *HTTPTransport) SetTimeouts(connect, read time.Duration) {
	t.connectTimeout.Store(int64(connect))
	t.readTimeout.Store(int64(read))
	t.dialer.Timeout = connect
}
