// Copyright 2025 Opsgrid Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package docintel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/opsgrid/docbase/monitor"
	"github.com/opsgrid/docbase/split"
)

const defaultRequestTimeout = 60 * time.Second

// HTTPClient implements Client against the parse service's REST protocol:
// a multipart upload that returns a job id, and a status endpoint polled
// until the job completes.
type HTTPClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *slog.Logger
}

var _ Client = (*HTTPClient)(nil)

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient) error

// WithAPIKey sets the bearer token sent with every request.
func WithAPIKey(key string) HTTPOption {
	return func(c *HTTPClient) error {
		c.apiKey = key
		return nil
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) HTTPOption {
	return func(c *HTTPClient) error {
		if hc == nil {
			return errors.New("nil http client")
		}
		c.http = hc
		return nil
	}
}

// WithLogger sets the logger used for request-level diagnostics.
func WithLogger(logger *slog.Logger) HTTPOption {
	return func(c *HTTPClient) error {
		if logger == nil {
			return errors.New("nil logger")
		}
		c.logger = logger.With("component", "docintel")
		return nil
	}
}

// NewHTTPClient creates a client for the parse service at baseURL.
func NewHTTPClient(baseURL string, opts ...HTTPOption) (*HTTPClient, error) {
	if baseURL == "" {
		return nil, errors.New("docintel: base URL required")
	}

	c := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultRequestTimeout},
		logger:  slog.Default().With("component", "docintel"),
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("applying option: %w", err)
		}
	}

	return c, nil
}

type submitResponse struct {
	Id string `json:"id"`
}

// Submit uploads the document and returns the remote job handle.
func (c *HTTPClient) Submit(ctx context.Context, sub Submission) (JobHandle, error) {
	if err := ValidateFormat(sub.FileName); err != nil {
		return "", monitor.AsPermanent(err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("file", sub.FileName)
	if err != nil {
		return "", fmt.Errorf("building multipart body: %w", err)
	}
	if _, err := io.Copy(part, sub.Body); err != nil {
		return "", fmt.Errorf("reading document body: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("closing multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/parse", &buf)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.authorize(req)

	var resp submitResponse
	if err := c.do(req, &resp); err != nil {
		return "", fmt.Errorf("submitting %q: %w", sub.FileName, err)
	}
	if resp.Id == "" {
		return "", monitor.AsTransient(errors.New("submit response missing job id"))
	}

	c.logger.Debug("document submitted", "file", sub.FileName, "handle", resp.Id)

	return JobHandle(resp.Id), nil
}

type pollResponse struct {
	Status  string     `json:"status"`
	Message string     `json:"message,omitempty"`
	Data    *parseData `json:"data,omitempty"`
}

type parseData struct {
	Title  string       `json:"title"`
	Blocks []parseBlock `json:"blocks"`
}

type parseBlock struct {
	Kind  string `json:"kind"`
	Text  string `json:"text"`
	Level int    `json:"level,omitempty"`
}

// Poll reports the remote job state for handle.
func (c *HTTPClient) Poll(ctx context.Context, handle JobHandle) (*PollResult, error) {
	if handle == "" {
		return nil, monitor.AsPermanent(ErrEmptyHandle)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/parse/"+string(handle), nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	c.authorize(req)

	var resp pollResponse
	if err := c.do(req, &resp); err != nil {
		return nil, fmt.Errorf("polling %s: %w", handle, err)
	}

	switch strings.ToLower(resp.Status) {
	case "pending", "queued", "init":
		return &PollResult{State: StatePending}, nil
	case "running", "processing":
		return &PollResult{State: StateRunning}, nil
	case "success", "succeeded":
		if resp.Data == nil {
			return nil, monitor.AsTransient(errors.New("succeeded poll missing result data"))
		}
		return &PollResult{State: StateSucceeded, Result: toParsedDocument(resp.Data)}, nil
	case "fail", "failed":
		return &PollResult{State: StateFailed, Message: resp.Message}, nil
	default:
		return nil, monitor.AsTransient(fmt.Errorf("unrecognized job status %q", resp.Status))
	}
}

func (c *HTTPClient) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// do executes the request and decodes a JSON response into out. Non-2xx
// responses are classified so the retry layer can distinguish throttling
// and server faults from caller mistakes.
func (c *HTTPClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return monitor.AsTransient(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return monitor.AsTransient(fmt.Errorf("reading response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return monitor.AsQuota(fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body)))
	case resp.StatusCode >= 500:
		return monitor.AsTransient(fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body)))
	case resp.StatusCode >= 400:
		return monitor.AsPermanent(fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body)))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return monitor.AsTransient(fmt.Errorf("decoding response: %w", err))
	}

	return nil
}

func toParsedDocument(data *parseData) *split.ParsedDocument {
	doc := &split.ParsedDocument{
		Title:  data.Title,
		Blocks: make([]split.Block, 0, len(data.Blocks)),
	}

	for _, b := range data.Blocks {
		doc.Blocks = append(doc.Blocks, split.Block{
			Kind:  blockKind(b.Kind),
			Text:  b.Text,
			Level: b.Level,
		})
	}

	return doc
}

func blockKind(kind string) split.BlockKind {
	switch strings.ToLower(kind) {
	case "heading", "title":
		return split.BlockHeading
	case "table":
		return split.BlockTable
	case "formula", "equation":
		return split.BlockFormula
	case "figure", "image":
		return split.BlockFigure
	default:
		return split.BlockParagraph
	}
}

func truncate(body []byte) string {
	const max = 256
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
