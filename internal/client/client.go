package client

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

	"github.com/andresuchdata/uploadprobe/internal/domain"
	"github.com/rs/zerolog/log"
)

// Client talks to the upload API. Every call except Upload and Fetch sends
// the bearer token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the timeout of the underlying http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// New creates a client for the API rooted at baseURL.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
		token:      token,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the API root the client was built with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Response is the raw outcome of an API call.
type Response struct {
	StatusCode int
	Body       []byte
}

// Presign requests a presigned upload target.
func (c *Client) Presign(ctx context.Context) (*domain.PresignResult, *Response, error) {
	const op = "presign"

	resp, err := c.call(ctx, op, http.MethodGet, "/upload/presign", nil)
	if err != nil {
		return nil, resp, err
	}

	var result domain.PresignResult
	if err := decodeData(op, resp.Body, &result); err != nil {
		return nil, resp, err
	}
	if result.UploadURL == "" {
		return nil, resp, malformed(op, "missing upload_url")
	}
	if result.FileID == "" {
		return nil, resp, malformed(op, "missing file_id")
	}

	return &result, resp, nil
}

// Upload streams body to a presigned URL. size must be the exact body length;
// presigned PUTs do not accept chunked transfer encoding.
func (c *Client) Upload(ctx context.Context, uploadURL string, body io.Reader, size int64) (*Response, error) {
	const op = "upload"

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, body)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.ContentLength = size
	if size == 0 {
		req.Body = http.NoBody
	}

	return c.send(op, req)
}

// Complete finalizes the upload identified by fileID.
func (c *Client) Complete(ctx context.Context, fileID string) (*domain.FileRecord, *Response, error) {
	const op = "complete"

	if fileID == "" {
		return nil, nil, fmt.Errorf("%s: empty file id", op)
	}

	resp, err := c.call(ctx, op, http.MethodGet, "/upload/"+url.PathEscape(fileID)+"/complete", nil)
	if err != nil {
		return nil, resp, err
	}

	var record domain.FileRecord
	if err := decodeData(op, resp.Body, &record); err != nil {
		return nil, resp, err
	}
	if record.ID == "" {
		return nil, resp, malformed(op, "missing id")
	}

	return &record, resp, nil
}

// DownloadRef fetches the download descriptor of a finalized record. The
// payload is returned untouched.
func (c *Client) DownloadRef(ctx context.Context, recordID string) (json.RawMessage, *Response, error) {
	const op = "download"

	if recordID == "" {
		return nil, nil, fmt.Errorf("%s: empty record id", op)
	}

	resp, err := c.call(ctx, op, http.MethodGet, "/file/"+url.PathEscape(recordID)+"/dl", nil)
	if err != nil {
		return nil, resp, err
	}

	env, err := decodeEnvelope(op, resp.Body)
	if err != nil {
		return nil, resp, err
	}
	if len(env.Data) == 0 {
		return nil, resp, malformed(op, "missing data")
	}

	return env.Data, resp, nil
}

// ListFiles returns every record known to the server.
func (c *Client) ListFiles(ctx context.Context) ([]domain.FileRecord, error) {
	const op = "list files"

	resp, err := c.call(ctx, op, http.MethodGet, "/files", nil)
	if err != nil {
		return nil, err
	}

	env, err := decodeEnvelope(op, resp.Body)
	if err != nil {
		return nil, err
	}

	records := []domain.FileRecord{}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return records, nil
	}
	if err := json.Unmarshal(env.Data, &records); err != nil {
		return nil, malformed(op, "decode data: %v", err)
	}
	return records, nil
}

// GetFile returns a single record.
func (c *Client) GetFile(ctx context.Context, id string) (*domain.FileRecord, error) {
	const op = "get file"

	resp, err := c.call(ctx, op, http.MethodGet, "/file/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}

	var record domain.FileRecord
	if err := decodeData(op, resp.Body, &record); err != nil {
		return nil, err
	}
	if record.ID == "" {
		return nil, malformed(op, "missing id")
	}
	return &record, nil
}

// RenameFile sets the display filename of a record.
func (c *Client) RenameFile(ctx context.Context, id, filename string) error {
	const op = "rename file"

	payload, err := json.Marshal(domain.RenameRequest{Filename: filename})
	if err != nil {
		return fmt.Errorf("%s: encode body: %w", op, err)
	}

	_, err = c.call(ctx, op, http.MethodPut, "/file/"+url.PathEscape(id), payload)
	return err
}

// DeleteFile removes a record and its object.
func (c *Client) DeleteFile(ctx context.Context, id string) error {
	_, err := c.call(ctx, "delete file", http.MethodDelete, "/file/"+url.PathEscape(id), nil)
	return err
}

// Fetch downloads rawURL into w without credentials, as presigned URLs carry
// their own authorization.
func (c *Client) Fetch(ctx context.Context, rawURL string, w io.Writer) (int64, error) {
	const op = "fetch"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("%s: build request: %w", op, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return 0, &StatusError{Op: op, StatusCode: resp.StatusCode, Body: body}
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("%s: read body: %w", op, err)
	}
	return n, nil
}

// call issues an authenticated request against the API root.
func (c *Client) call(ctx context.Context, op, method, path string, payload []byte) (*Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.send(op, req)
}

func (c *Client) send(op string, req *http.Request) (*Response, error) {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read body: %w", op, err)
	}

	log.Debug().
		Str("op", op).
		Str("method", req.Method).
		Str("url", redactQuery(req.URL)).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("api call")

	result := &Response{StatusCode: resp.StatusCode, Body: body}
	if resp.StatusCode != http.StatusOK {
		return result, &StatusError{Op: op, StatusCode: resp.StatusCode, Body: body}
	}
	return result, nil
}

func decodeEnvelope(op string, body []byte) (*domain.Envelope, error) {
	var env domain.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, malformed(op, "decode envelope: %v", err)
	}
	return &env, nil
}

func decodeData(op string, body []byte, dst interface{}) error {
	env, err := decodeEnvelope(op, body)
	if err != nil {
		return err
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return malformed(op, "missing data")
	}
	if err := json.Unmarshal(env.Data, dst); err != nil {
		return malformed(op, "decode data: %v", err)
	}
	return nil
}

// redactQuery drops presigned signatures from logged URLs.
func redactQuery(u *url.URL) string {
	if u.RawQuery == "" {
		return u.String()
	}
	clone := *u
	clone.RawQuery = "..."
	return clone.String()
}
