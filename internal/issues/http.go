package issues

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Sentinel errors for tracker calls.
var (
	ErrUnauthorized  = errors.New("issue tracker rejected credentials")
	ErrRateLimited   = errors.New("issue tracker rate limit exceeded")
	ErrEmptyResponse = errors.New("empty response from issue tracker")
)

// StatusError is returned for any other non-2xx tracker response.
type StatusError struct {
	Tracker string
	Status  int
	Body    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API error: %d - %s", e.Tracker, e.Status, e.Body)
}

const (
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 512
)

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// doJSON sends a request built by the caller and decodes a 2xx JSON body into out.
func doJSON(ctx context.Context, client *http.Client, tracker, method, url string, header http.Header, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshaling %s request: %w", tracker, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("creating %s request: %w", tracker, err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", tracker, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading %s response: %w", tracker, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s: %w", tracker, ErrUnauthorized)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%s: %w", tracker, ErrRateLimited)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		msg := string(data)
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return &StatusError{Tracker: tracker, Status: resp.StatusCode, Body: msg}
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return fmt.Errorf("%s: %w", tracker, ErrEmptyResponse)
	}
	if err := json.Unmarshal(data, out); err != nil {
		snippet := string(data)
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return fmt.Errorf("parsing %s response %q: %w", tracker, snippet, err)
	}
	return nil
}

// parseTime accepts RFC3339 and Jira's "2006-01-02T15:04:05.000-0700".
// Unparseable values yield the zero time.
func parseTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.000-0700", "2006-01-02T15:04:05-0700"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
