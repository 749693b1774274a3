// Package httputil provides the HTTP client abstraction used to poll network
// cameras and the JSON response helpers shared by the API handlers.
package httputil

import (
	"bytes"
	"io"
	"net/http"
	"sync"
)

// HTTPClient abstracts HTTP operations for testability.
// Use StandardClient in production and MockHTTPClient in tests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// StandardClient wraps *http.Client to implement HTTPClient.
type StandardClient struct {
	*http.Client
}

// NewStandardClient wraps c, falling back to http.DefaultClient.
func NewStandardClient(c *http.Client) *StandardClient {
	if c == nil {
		c = http.DefaultClient
	}
	return &StandardClient{Client: c}
}

// Do sends an HTTP request.
func (c *StandardClient) Do(req *http.Request) (*http.Response, error) {
	return c.Client.Do(req)
}

// MockResponse is a canned reply served by MockHTTPClient.
type MockResponse struct {
	StatusCode  int
	Body        []byte
	ContentType string
	Error       error
}

// MockHTTPClient replays queued responses in order. Once the queue is
// exhausted the last response is repeated, which suits a camera that keeps
// serving the same still.
type MockHTTPClient struct {
	mu        sync.Mutex
	responses []MockResponse
	next      int
	requests  []*http.Request
}

// NewMockHTTPClient creates a mock with an empty queue. An empty queue
// answers 200 with no body.
func NewMockHTTPClient() *MockHTTPClient {
	return &MockHTTPClient{}
}

// AddResponse queues a response.
func (m *MockHTTPClient) AddResponse(status int, contentType string, body []byte) *MockHTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, MockResponse{StatusCode: status, ContentType: contentType, Body: body})
	return m
}

// AddErrorResponse queues a transport error.
func (m *MockHTTPClient) AddErrorResponse(err error) *MockHTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, MockResponse{Error: err})
	return m
}

// Do records req and returns the next queued response.
func (m *MockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)

	resp := MockResponse{StatusCode: http.StatusOK}
	if len(m.responses) > 0 {
		idx := m.next
		if idx >= len(m.responses) {
			idx = len(m.responses) - 1
		} else {
			m.next++
		}
		resp = m.responses[idx]
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	header := make(http.Header)
	if resp.ContentType != "" {
		header.Set("Content-Type", resp.ContentType)
	}
	return &http.Response{
		StatusCode: resp.StatusCode,
		Body:       io.NopCloser(bytes.NewReader(resp.Body)),
		Header:     header,
		Request:    req,
	}, nil
}

// RequestCount returns the number of requests seen so far.
func (m *MockHTTPClient) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Request returns the nth recorded request, or nil.
func (m *MockHTTPClient) Request(n int) *http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n < 0 || n >= len(m.requests) {
		return nil
	}
	return m.requests[n]
}
