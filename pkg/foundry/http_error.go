package foundry

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/palantir/palantir-compute-module-crop-yield/pkg/pipeline/redact"
)

// conjureErrorEnvelope is the standard error body returned by Foundry APIs.
type conjureErrorEnvelope struct {
	ErrorCode       string `json:"errorCode"`
	ErrorName       string `json:"errorName"`
	ErrorInstanceID string `json:"errorInstanceId"`
}

// HTTPError is a sanitized summary of a non-2xx Foundry API response.
//
// Raw response bodies are never stored; they can carry tokens or row data.
type HTTPError struct {
	Op              string
	StatusCode      int
	Status          string
	ErrorName       string
	ErrorCode       string
	ErrorInstanceID string

	// Snippet is a redacted, truncated hint for non-Conjure responses.
	Snippet string
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "foundry http error"
	}
	parts := []string{fmt.Sprintf("foundry api error: op=%s status=%s", e.Op, e.Status)}
	if e.ErrorName != "" {
		parts = append(parts, "errorName="+e.ErrorName)
	}
	if e.ErrorCode != "" {
		parts = append(parts, "errorCode="+e.ErrorCode)
	}
	if e.ErrorInstanceID != "" {
		parts = append(parts, "instance="+e.ErrorInstanceID)
	}
	if e.Snippet != "" {
		parts = append(parts, "body="+e.Snippet)
	}
	return strings.Join(parts, " ")
}

// IsNotFound reports whether err is a Foundry 404.
func IsNotFound(err error) bool {
	var he *HTTPError
	return errors.As(err, &he) && he.StatusCode == http.StatusNotFound
}

// IsRetryable reports whether err is a throttling or server-side Foundry failure.
func IsRetryable(err error) bool {
	var he *HTTPError
	if !errors.As(err, &he) {
		return false
	}
	return he.StatusCode == http.StatusTooManyRequests || he.StatusCode/100 == 5
}

func newHTTPError(op string, resp *http.Response, body []byte) error {
	h := &HTTPError{Op: op}
	if resp != nil {
		h.StatusCode = resp.StatusCode
		h.Status = resp.Status
	}

	var env conjureErrorEnvelope
	if len(body) > 0 && json.Unmarshal(body, &env) == nil {
		h.ErrorName = strings.TrimSpace(env.ErrorName)
		h.ErrorCode = strings.TrimSpace(env.ErrorCode)
		h.ErrorInstanceID = strings.TrimSpace(env.ErrorInstanceID)
		if h.ErrorName != "" || h.ErrorCode != "" || h.ErrorInstanceID != "" {
			return h
		}
	}
	h.Snippet = redactAndTruncate(body)
	return h
}

func redactAndTruncate(body []byte) string {
	const maxLen = 256
	if len(body) == 0 {
		return ""
	}
	b := body
	if len(b) > maxLen {
		b = b[:maxLen]
	}
	s := redact.Secrets(string(b))
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return ""
	}
	if len(body) > maxLen {
		return s + "..."
	}
	return s
}
