package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/pkg/errors"

	"github.com/you/intake/internal/domain"
)

// Result carries the structured fields pulled out of a document.
type Result struct {
	Fields map[string]any `json:"fields"`
}

// Failure is a typed extraction error. Retryable maps onto the
// orchestrator's transient/terminal retry decision.
type Failure struct {
	Retryable bool
	Message   string
}

func (f *Failure) Error() string { return f.Message }

// AsFailure unwraps a Failure from an error chain.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

type Extractor interface {
	Extract(ctx context.Context, job *domain.IngestionJob) (*Result, error)
}

// HTTPClient calls the document-extraction service. The caller bounds each
// call with a context deadline; a deadline hit comes back as a retryable
// Failure mentioning the timeout.
type HTTPClient struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	return &HTTPClient{baseURL: baseURL, apiKey: apiKey, httpc: &http.Client{}}
}

type extractRequest struct {
	StoragePath  string `json:"storagePath"`
	DocumentType string `json:"documentType"`
	FileName     string `json:"fileName"`
	ContentType  string `json:"contentType"`
}

func (c *HTTPClient) Extract(ctx context.Context, job *domain.IngestionJob) (*Result, error) {
	body, err := json.Marshal(extractRequest{
		StoragePath:  job.StoragePath,
		DocumentType: job.DocumentType,
		FileName:     job.FileName,
		ContentType:  job.ContentType,
	})
	if err != nil {
		return nil, errors.Wrap(err, "marshal extract request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/extract", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build extract request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &Failure{Retryable: true, Message: "extraction timeout"}
		}
		return nil, &Failure{Retryable: true, Message: "extraction service unreachable"}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var out Result
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, &Failure{Retryable: false, Message: "malformed extraction response"}
		}
		return &out, nil
	case resp.StatusCode == http.StatusUnprocessableEntity:
		msg := readFailureMessage(resp.Body)
		return nil, &Failure{Retryable: false, Message: msg}
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, &Failure{Retryable: true, Message: fmt.Sprintf("extraction service returned %d", resp.StatusCode)}
	default:
		return nil, &Failure{Retryable: false, Message: fmt.Sprintf("extraction service returned %d", resp.StatusCode)}
	}
}

func readFailureMessage(r io.Reader) string {
	var body struct {
		Message string `json:"message"`
	}
	if json.NewDecoder(io.LimitReader(r, 4096)).Decode(&body) == nil && body.Message != "" {
		return body.Message
	}
	return "document could not be extracted"
}
