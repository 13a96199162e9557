package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPOptions configures HTTPTransport.
type HTTPOptions struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	UserAgent  string
}

// StatusError is a non-2xx gateway response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.Status, e.Body)
}

// HTTPTransport calls the chat gateway REST API:
//
//	POST   {base}/v1/channels/{destination}/messages       {"content": "..."} -> {"id": "..."}
//	DELETE {base}/v1/channels/{destination}/messages/{id}
type HTTPTransport struct {
	baseURL    string
	token      string
	httpClient *http.Client
	userAgent  string
}

// NewHTTPTransport builds a transport. Timeouts are applied per call by the caller's context.
func NewHTTPTransport(opts HTTPOptions) *HTTPTransport {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	userAgent := strings.TrimSpace(opts.UserAgent)
	if userAgent == "" {
		userAgent = "lfgkeeper"
	}
	return &HTTPTransport{
		baseURL:    strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		token:      strings.TrimSpace(opts.Token),
		httpClient: httpClient,
		userAgent:  userAgent,
	}
}

type postBody struct {
	Content string `json:"content"`
}

type postResponse struct {
	ID string `json:"id"`
}

func (t *HTTPTransport) Post(ctx context.Context, destination, content string) (string, error) {
	body, err := json.Marshal(postBody{Content: content})
	if err != nil {
		return "", err
	}

	resp, err := t.do(ctx, http.MethodPost, t.messagesURL(destination), body)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", statusError(resp)
	}

	var out postResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode gateway response: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("gateway response has no message id")
	}
	return out.ID, nil
}

func (t *HTTPTransport) Remove(ctx context.Context, destination, artifactID string) error {
	resp, err := t.do(ctx, http.MethodDelete, t.messagesURL(destination)+"/"+url.PathEscape(artifactID), nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}
	return nil
}

func (t *HTTPTransport) messagesURL(destination string) string {
	return t.baseURL + "/v1/channels/" + url.PathEscape(destination) + "/messages"
}

func (t *HTTPTransport) do(ctx context.Context, method, target string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}
	req.Header.Set("User-Agent", t.userAgent)
	return t.httpClient.Do(req)
}

func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
}
