package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hazz-dev/beacon/internal/check"
)

func newTestServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPProber_2xxPasses(t *testing.T) {
	for _, status := range []int{200, 201, 204, 299} {
		srv := newTestServer(t, status)
		p := newHTTPProber(srv.URL, srv.Client())

		msg, err := p.Probe(context.Background())
		if err != nil {
			t.Errorf("status %d: expected pass, got error %v", status, err)
		}
		if msg != "" {
			t.Errorf("status %d: expected empty message, got %q", status, msg)
		}
	}
}

func TestHTTPProber_Non2xxFails(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{304, "304 Not Modified"},
		{404, "404 Not Found"},
		{500, "500 Internal Server Error"},
	}
	for _, tt := range tests {
		srv := newTestServer(t, tt.status)
		p := newHTTPProber(srv.URL, srv.Client())

		_, err := p.Probe(context.Background())
		if err == nil {
			t.Fatalf("status %d: expected failure", tt.status)
		}
		if err.Error() != tt.want {
			t.Errorf("status %d: message = %q, want %q", tt.status, err.Error(), tt.want)
		}
	}
}

func TestHTTPProber_TransportErrorFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close() // nothing is listening anymore

	p := newHTTPProber(url, &http.Client{})
	_, err := p.Probe(context.Background())
	if err == nil {
		t.Fatal("expected transport error")
	}
}

func TestHTTPProber_ContextCancellation(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	p := newHTTPProber(srv.URL, srv.Client())
	_, err := p.Probe(ctx)
	if err == nil {
		t.Fatal("expected error after context deadline")
	}
}

func TestFactory_UnknownKind(t *testing.T) {
	f := NewFactory("")
	_, err := f.New(&check.Check{Kind: "tcp", Target: "example.com:80", Interval: time.Minute})
	if err == nil || !strings.Contains(err.Error(), "unknown check kind") {
		t.Fatalf("expected unknown kind error, got %v", err)
	}
}

func TestFactory_HTTPKind(t *testing.T) {
	f := NewFactory("")
	p, err := f.New(&check.Check{Kind: check.KindHTTP, Target: "https://example.com", Interval: time.Minute})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := p.(*httpProber); !ok {
		t.Fatalf("expected *httpProber, got %T", p)
	}
}
