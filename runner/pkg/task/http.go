package task

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/malbeclabs/questrunner/utils/pkg/retry"
)

const maxResponseBytes = 4 << 20

// Request is one JSON call to a site API.
type Request struct {
	Method string
	URL    string
	Header map[string]string
	// Body is marshaled as JSON when non-nil.
	Body any
	// Form is sent url-encoded when Body is nil.
	Form url.Values
}

// Response is the raw outcome of a call that reached the server.
type Response struct {
	Status int
	Body   string
	Header http.Header
	// URL is the final location after redirects.
	URL string
}

// Do sends req and returns the raw response without judging it.
func Do(ctx context.Context, client *http.Client, req Request) (*Response, error) {
	var body io.Reader
	if req.Body != nil {
		raw, err := json.Marshal(req.Body)
		if err != nil {
			return nil, retry.AsTerminal(fmt.Errorf("failed to marshal request: %w", err))
		}
		body = bytes.NewReader(raw)
	} else if req.Form != nil {
		body = strings.NewReader(req.Form.Encode())
	}
	method := req.Method
	if method == "" {
		method = http.MethodPost
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, retry.AsTerminal(fmt.Errorf("failed to create request: %w", err))
	}
	switch {
	case req.Body != nil:
		httpReq.Header.Set("Content-Type", "application/json")
	case req.Form != nil:
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range req.Header {
		httpReq.Header.Set(k, v)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return &Response{
		Status: resp.StatusCode,
		Body:   string(raw),
		Header: resp.Header,
		URL:    resp.Request.URL.String(),
	}, nil
}

// DoJSON sends req, classifies the response with CheckResponse and decodes a
// successful body into out when out is non-nil.
func DoJSON(ctx context.Context, client *http.Client, req Request, out any) (*Response, error) {
	resp, err := Do(ctx, client, req)
	if err != nil {
		return nil, err
	}
	if err := CheckResponse(resp.Status, resp.Body); err != nil {
		return resp, err
	}
	if out != nil {
		if err := json.Unmarshal([]byte(resp.Body), out); err != nil {
			return resp, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp, nil
}
