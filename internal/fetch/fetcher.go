// Package fetch performs the GET probe and classifies its outcome, per
// SPEC_FULL.md §4.4: a context-timeout http.Client with an explicit
// User-Agent, a per-probe cookie jar, and the truncated-HTML-is-success
// heuristic.
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"
)

// Result is the outcome of one probe.
type Result struct {
	Success    bool
	ReturnCode int // -1 for connection/timeout/read errors
	Mime       string
	Exception  string
	Body       []byte // bounded prefix, retained for the verdict sink
}

// Fetcher issues the GET requests the scheduler dispatches.
type Fetcher struct {
	UserAgent string
	Timeout   time.Duration
	MaxRead   int64

	// transport is overridable in tests; defaults to http.DefaultTransport.
	transport http.RoundTripper
}

// New builds a Fetcher with the given User-Agent, per-fetch timeout, and
// maximum bytes of body to retain.
func New(userAgent string, timeout time.Duration, maxRead int64) *Fetcher {
	return &Fetcher{UserAgent: userAgent, Timeout: timeout, MaxRead: maxRead}
}

// isSuccessStatus treats 401/403 as success: the URL identifies something,
// credential presence is out of scope (SPEC_FULL.md §4.4).
func isSuccessStatus(code int) bool {
	return code == http.StatusOK || code == http.StatusUnauthorized || code == http.StatusForbidden
}

// Fetch probes targetURL and classifies the outcome.
func (f *Fetcher) Fetch(ctx context.Context, targetURL string) Result {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return Result{ReturnCode: -1, Exception: fmt.Sprintf("cookie jar: %v", err)}
	}

	client := &http.Client{
		Jar:       jar,
		Timeout:   f.Timeout,
		Transport: f.transport,
	}

	fetchCtx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, targetURL, nil)
	if err != nil {
		return Result{ReturnCode: -1, Exception: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("User-Agent", f.UserAgent)
	req.Header.Set("Accept", "*/*")

	resp, err := client.Do(req)
	if err != nil {
		if fetchCtx.Err() != nil {
			return Result{ReturnCode: -1, Exception: "timeout"}
		}
		return Result{ReturnCode: -1, Exception: err.Error()}
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	limited := io.LimitReader(resp.Body, f.MaxRead)
	body, readErr := io.ReadAll(limited)

	if readErr != nil {
		if isTruncatedCompleteHTML(contentType, body) {
			return Result{Success: true, ReturnCode: resp.StatusCode, Mime: contentType, Body: body}
		}
		return Result{ReturnCode: -1, Exception: readErr.Error(), Body: body}
	}

	if isSuccessStatus(resp.StatusCode) {
		return Result{Success: true, ReturnCode: resp.StatusCode, Mime: contentType, Body: body}
	}
	return Result{Success: false, ReturnCode: resp.StatusCode, Mime: contentType, Body: body}
}

// isTruncatedCompleteHTML implements the truncated-read exception of
// SPEC_FULL.md §4.4: an html response that ends (case-insensitively, allowing
// trailing whitespace) with "</html>" is treated as a complete document even
// though the read itself errored, because some servers hold the connection
// open after delivering a full document.
func isTruncatedCompleteHTML(contentType string, partial []byte) bool {
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "text/html") {
		return false
	}
	trimmed := bytes.TrimRight(partial, " \t\r\n")
	return len(trimmed) >= len("</html>") && strings.EqualFold(string(trimmed[len(trimmed)-len("</html>"):]), "</html>")
}
