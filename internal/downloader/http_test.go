package downloader

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(config HTTPConfig) *Client {
	return newClientWithTransport(&http.Transport{}, config.withDefaults(), fastRetry)
}

func TestConsistentTransportDoesNotMutateOriginalRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	transport := &consistentTransport{base: http.DefaultTransport, userAgent: "TestAgent/1.0"}
	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	if err != nil {
		t.Fatalf("creating request: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := transport.RoundTrip(req)
			if err != nil {
				t.Errorf("RoundTrip: %v", err)
				return
			}
			resp.Body.Close()
		}()
	}
	wg.Wait()

	if got := req.Header.Get("User-Agent"); got != "" {
		t.Fatalf("RoundTrip mutated original request User-Agent to %q", got)
	}
	if got := req.Header.Get("Accept"); got != "" {
		t.Fatalf("RoundTrip mutated original request Accept to %q", got)
	}
}

func TestConsistentTransportHeaders(t *testing.T) {
	tests := []struct {
		name   string
		preset string
		want   string
	}{
		{name: "default agent", want: defaultUserAgent},
		{name: "preserves caller agent", preset: "CustomAgent/2.0", want: "CustomAgent/2.0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var receivedUA, receivedAccept string
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				receivedUA = r.Header.Get("User-Agent")
				receivedAccept = r.Header.Get("Accept")
			}))
			defer server.Close()

			transport := &consistentTransport{base: http.DefaultTransport, userAgent: defaultUserAgent}
			req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
			if tt.preset != "" {
				req.Header.Set("User-Agent", tt.preset)
			}
			resp, err := transport.RoundTrip(req)
			if err != nil {
				t.Fatalf("RoundTrip: %v", err)
			}
			resp.Body.Close()

			if receivedUA != tt.want {
				t.Fatalf("expected User-Agent %q, got %q", tt.want, receivedUA)
			}
			if receivedAccept != "*/*" {
				t.Fatalf("expected Accept */*, got %q", receivedAccept)
			}
		})
	}
}

func TestClientFetchTextRetriesTransientFailures(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, "#EXTM3U\n")
	}))
	defer server.Close()

	client := newTestClient(HTTPConfig{})
	text, finalURL, err := client.FetchText(context.Background(), server.URL+"/index.m3u8")
	if err != nil {
		t.Fatalf("FetchText: %v", err)
	}
	if text != "#EXTM3U\n" {
		t.Fatalf("unexpected body %q", text)
	}
	if finalURL != server.URL+"/index.m3u8" {
		t.Fatalf("unexpected final url %q", finalURL)
	}
	if c := atomic.LoadInt32(&attempts); c != 3 {
		t.Fatalf("expected 3 attempts, got %d", c)
	}
}

func TestClientFetchTextReportsFinalURL(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/start.m3u8", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/cdn/v1/index.m3u8", http.StatusFound)
	})
	mux.HandleFunc("/cdn/v1/index.m3u8", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "#EXTM3U\n")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	_, finalURL, err := newTestClient(HTTPConfig{}).FetchText(context.Background(), server.URL+"/start.m3u8")
	if err != nil {
		t.Fatalf("FetchText: %v", err)
	}
	if finalURL != server.URL+"/cdn/v1/index.m3u8" {
		t.Fatalf("expected redirected url, got %q", finalURL)
	}
}

func TestClientNonSuccessStatus(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(HTTPConfig{})
	_, err := client.FetchKey(context.Background(), server.URL+"/key.bin")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 StatusError, got %v", err)
	}
	if c := atomic.LoadInt32(&attempts); c != 1 {
		t.Fatalf("4xx must not be retried, got %d attempts", c)
	}
}

func TestClientSegmentRequestsAreSingleAttempt(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	if _, err := newTestClient(HTTPConfig{}).FetchSegment(context.Background(), server.URL+"/0.ts"); err == nil {
		t.Fatal("expected error")
	}
	if c := atomic.LoadInt32(&attempts); c != 1 {
		t.Fatalf("expected exactly 1 attempt, got %d", c)
	}
}

func TestClientSegmentTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := newTestClient(HTTPConfig{SegmentTimeout: 20 * time.Millisecond})
	_, err := client.FetchSegment(context.Background(), server.URL+"/slow.ts")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
