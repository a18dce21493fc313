package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newFetcher(ts *httptest.Server, timeout time.Duration, maxRead int64) *Fetcher {
	return &Fetcher{
		UserAgent: "link-checker-test",
		Timeout:   timeout,
		MaxRead:   maxRead,
		transport: ts.Client().Transport,
	}
}

func TestFetch200IsSuccess(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "link-checker-test" {
			t.Errorf("missing User-Agent header")
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><body>ok</body></html>"))
	}))
	defer ts.Close()

	f := newFetcher(ts, 5*time.Second, 1<<20)
	res := f.Fetch(context.Background(), ts.URL)
	if !res.Success || res.ReturnCode != 200 {
		t.Fatalf("expected success/200, got %+v", res)
	}
}

func TestFetch401And403AreSuccess(t *testing.T) {
	for _, code := range []int{401, 403} {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		}))
		f := newFetcher(ts, 5*time.Second, 1<<20)
		res := f.Fetch(context.Background(), ts.URL)
		ts.Close()
		if !res.Success || res.ReturnCode != code {
			t.Fatalf("code %d: expected success, got %+v", code, res)
		}
	}
}

func TestFetch500IsFailureWithReturnCode(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	f := newFetcher(ts, 5*time.Second, 1<<20)
	res := f.Fetch(context.Background(), ts.URL)
	if res.Success || res.ReturnCode != 500 {
		t.Fatalf("expected failure/500, got %+v", res)
	}
}

func TestFetchTimeoutYieldsMinusOneTimeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	f := newFetcher(ts, 10*time.Millisecond, 1<<20)
	res := f.Fetch(context.Background(), ts.URL)
	if res.Success || res.ReturnCode != -1 || res.Exception != "timeout" {
		t.Fatalf("expected timeout classification, got %+v", res)
	}
}

func TestFetchConnectionErrorYieldsMinusOneWithException(t *testing.T) {
	f := newFetcher(httptest.NewServer(http.NotFoundHandler()), 2*time.Second, 1<<20)
	res := f.Fetch(context.Background(), "http://127.0.0.1:1/unreachable")
	if res.Success || res.ReturnCode != -1 || res.Exception == "" {
		t.Fatalf("expected connection-error classification, got %+v", res)
	}
}

func TestFetchTruncatedHTMLEndingInCloseTagIsSuccess(t *testing.T) {
	body := "<html><body>hello world</body></HTML>  \n"
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Content-Length", "999999")
		flusher, _ := w.(http.Flusher)
		w.Write([]byte(body))
		if flusher != nil {
			flusher.Flush()
		}
	}))
	defer ts.Close()

	f := newFetcher(ts, 5*time.Second, 1<<20)
	res := f.Fetch(context.Background(), ts.URL)
	if !res.Success {
		t.Fatalf("expected truncated-but-complete HTML to be reclassified success, got %+v", res)
	}
}

func TestIsTruncatedCompleteHTMLRequiresHTMLContentType(t *testing.T) {
	if isTruncatedCompleteHTML("application/json", []byte("{}</html>")) {
		t.Fatal("non-HTML content type must not be reclassified")
	}
	if !isTruncatedCompleteHTML("text/html", []byte("<html></HTML>\r\n")) {
		t.Fatal("trailing whitespace and case should still match")
	}
	if isTruncatedCompleteHTML("text/html", []byte("<html><body>incomplete")) {
		t.Fatal("body not ending in a close tag must not be reclassified")
	}
}

func TestFetchBodyCappedAtMaxRead(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("a", 1000)))
	}))
	defer ts.Close()

	f := newFetcher(ts, 5*time.Second, 10)
	res := f.Fetch(context.Background(), ts.URL)
	if len(res.Body) > 10 {
		t.Fatalf("expected body capped at 10 bytes, got %d", len(res.Body))
	}
}
