package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"campus-assistant/internal/domain"
	"campus-assistant/internal/infra/sse"
)

// apiError is an error response of the assistant service.
type apiError struct {
	Status    int
	Message   string `json:"error"`
	Retryable bool   `json:"retryable"`
	WaitTime  int64  `json:"waitTime"`
}

func (e *apiError) Error() string {
	msg := fmt.Sprintf("%s (status %d)", e.Message, e.Status)
	if e.Retryable {
		msg += ", retry with `assistant-cli retry`"
	}
	return msg
}

// streamError is an error frame received after the stream started.
type streamError struct {
	chunk domain.ErrorChunk
}

func (e *streamError) Error() string {
	if e.chunk.IsRetryable() {
		return e.chunk.Message + " (retryable)"
	}
	return e.chunk.Message
}

type apiClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func newAPIClient(baseURL, token string, httpClient *http.Client) *apiClient {
	return &apiClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: httpClient,
	}
}

func (c *apiClient) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = strings.NewReader(string(raw))
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		apiErr := &apiError{Status: resp.StatusCode}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(raw, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(raw))
			if apiErr.Message == "" {
				apiErr.Message = http.StatusText(resp.StatusCode)
			}
		}
		return nil, apiErr
	}
	return resp, nil
}

// getJSON decodes a JSON response into out.
func (c *apiClient) getJSON(ctx context.Context, method, path string, out any) error {
	resp, err := c.do(ctx, method, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// stream posts to an event-stream endpoint and writes tokens to w as they
// arrive. Sources are listed after the reply.
func (c *apiClient) stream(ctx context.Context, path string, body any, w io.Writer) error {
	resp, err := c.do(ctx, http.MethodPost, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	reader := sse.NewReader(resp.Body)
	var sources []domain.Source
	for {
		chunk, err := reader.NextChunk()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		switch ch := chunk.(type) {
		case domain.ContentChunk:
			fmt.Fprint(w, ch.Text)
		case domain.SourcesChunk:
			sources = ch.Sources
		case domain.ErrorChunk:
			fmt.Fprintln(w)
			return &streamError{chunk: ch}
		case domain.DoneChunk:
			fmt.Fprintln(w)
			printSources(w, sources)
			return nil
		}
	}
	fmt.Fprintln(w)
	printSources(w, sources)
	return nil
}

func printSources(w io.Writer, sources []domain.Source) {
	if len(sources) == 0 {
		return
	}
	fmt.Fprintln(w, "\nSources:")
	for _, s := range sources {
		fmt.Fprintf(w, "  - %s [%s] /%s\n", s.Title, s.Category, s.Slug)
	}
}
