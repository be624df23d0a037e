package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const maxResponseBytes = 4 * 1024 * 1024

// doJSON sends body as JSON and decodes a success response into out.
// Transport failures become *ConnectivityError and error statuses become
// *StatusError. Caller cancellation is returned unwrapped.
func doJSON(ctx context.Context, client *http.Client, provider, method, url string, header http.Header, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", provider, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("create %s request: %w", provider, err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return &ConnectivityError{Provider: provider, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return &ConnectivityError{Provider: provider, Err: fmt.Errorf("read response: %w", err)}
	}
	if len(respBody) > maxResponseBytes {
		return fmt.Errorf("%s response exceeded limit (%d bytes)", provider, maxResponseBytes)
	}

	if resp.StatusCode >= 400 {
		return &StatusError{
			Provider:   provider,
			StatusCode: resp.StatusCode,
			Message:    statusMessage(provider, resp.StatusCode, errorDetail(respBody)),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode %s response: %w", provider, err)
	}
	return nil
}

// errorDetail pulls the message out of the error envelopes used by Ollama
// ({"error": "..."}) and OpenAI ({"error": {"message": "..."}}).
func errorDetail(body []byte) string {
	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Error) == 0 {
		return ""
	}

	var plain string
	if err := json.Unmarshal(envelope.Error, &plain); err == nil {
		return strings.TrimSpace(plain)
	}

	var nested struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(envelope.Error, &nested); err == nil {
		return strings.TrimSpace(nested.Message)
	}
	return ""
}
