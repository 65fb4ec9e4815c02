package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// postJSON sends in as a JSON body and decodes a 2xx response into out.
// Transport failures after ctx is done become ErrTimeout, undecodable bodies
// become ErrInvalidResponse, and non-2xx statuses go through classifyStatus.
func postJSON(ctx context.Context, client *http.Client, name, url string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshaling %s request: %w", name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating %s request: %w", name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return fmt.Errorf("%s request: %w", name, err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading %s response: %w", name, err)
	}
	if err := classifyStatus(name, resp.StatusCode, respBytes); err != nil {
		return err
	}

	if err := json.Unmarshal(respBytes, out); err != nil {
		return fmt.Errorf("%w: decoding %s response: %v", ErrInvalidResponse, name, err)
	}
	return nil
}
