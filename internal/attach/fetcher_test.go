package attach

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	logx "aksiyonbot/pkg/logx"
)

func newShareServer(t *testing.T, imageBody []byte, imageType string) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var hits atomic.Int64
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("/share", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprintf(w, `<html><head><meta property="og:image" content="%s/img.png"/></head></html>`, srv.URL)
	})
	mux.HandleFunc("/img.png", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", imageType)
		_, _ = w.Write(imageBody)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	})
	return srv, &hits
}

func TestFetchTwoHop(t *testing.T) {
	t.Parallel()
	want := []byte("png-bytes")
	srv, _ := newShareServer(t, want, "image/png")

	f := NewFetcher(5*time.Second, "", logx.Nop())
	got := f.Fetch(context.Background(), srv.URL+"/share")
	if string(got) != string(want) {
		t.Fatalf("Fetch = %q, want %q", got, want)
	}
}

func TestFetchSendsUserAgent(t *testing.T) {
	t.Parallel()
	var gotUA atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA.Store(r.Header.Get("User-Agent"))
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)

	f := NewFetcher(5*time.Second, "", logx.Nop())
	_ = f.Fetch(context.Background(), srv.URL+"/share")
	if ua, _ := gotUA.Load().(string); ua != "Mozilla/5.0" {
		t.Fatalf("User-Agent = %q", ua)
	}
}

func TestFetchRejectsNonImage(t *testing.T) {
	t.Parallel()
	srv, _ := newShareServer(t, []byte("<html>not found</html>"), "text/html")

	f := NewFetcher(5*time.Second, "", logx.Nop())
	if got := f.Fetch(context.Background(), srv.URL+"/share"); got != nil {
		t.Fatalf("non-image content type must yield nil, got %d bytes", len(got))
	}
}

func TestFetchNoOGImage(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body>gone</body></html>")
	}))
	t.Cleanup(srv.Close)

	f := NewFetcher(5*time.Second, "", logx.Nop())
	if got := f.Fetch(context.Background(), srv.URL+"/share"); got != nil {
		t.Fatalf("page without og:image must yield nil")
	}
}

func TestFetchCachesHitsAndMisses(t *testing.T) {
	t.Parallel()
	srv, hits := newShareServer(t, []byte("img"), "image/png")
	f := NewFetcher(5*time.Second, "", logx.Nop())
	ctx := context.Background()

	_ = f.Fetch(ctx, srv.URL+"/share")
	after := hits.Load() // page + image
	_ = f.Fetch(ctx, srv.URL+"/share")
	if hits.Load() != after {
		t.Fatalf("second Fetch hit the network: %d -> %d", after, hits.Load())
	}

	// Misses are cached too.
	miss := srv.URL + "/nope"
	_ = f.Fetch(ctx, miss)
	afterMiss := hits.Load()
	_ = f.Fetch(ctx, miss)
	if hits.Load() != afterMiss {
		t.Fatalf("second miss Fetch hit the network")
	}

	// Reset drops both.
	f.Reset()
	_ = f.Fetch(ctx, srv.URL+"/share")
	if hits.Load() == afterMiss {
		t.Fatalf("Reset did not clear the cache")
	}
}

func TestFetchEmptyURL(t *testing.T) {
	t.Parallel()
	f := NewFetcher(time.Second, "", logx.Nop())
	if got := f.Fetch(context.Background(), "  "); got != nil {
		t.Fatalf("empty url must yield nil")
	}
}
