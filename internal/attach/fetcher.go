package attach

import (
	"context"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	logx "aksiyonbot/pkg/logx"
)

// The share page embeds its canonical image URL in an og:image meta tag.
var ogImagePattern = regexp.MustCompile(`property="og:image"\s+content="([^"]+)"`)

const (
	defaultHopTimeout = 10 * time.Second
	defaultUserAgent  = "Mozilla/5.0"

	// Share pages are small; cap reads defensively anyway.
	maxPageBytes  = 2 << 20  // 2 MiB
	maxImageBytes = 16 << 20 // 16 MiB
)

// Fetcher downloads screenshot bytes via the two-hop chain: GET the share
// page, scrape the embedded image URL, GET the image. Failures yield nil,
// never an error; the caller treats nil as "image unavailable".
//
// Fetch results (including misses) are cached per operator session so a
// link-check pass followed by the actual send hits the network once.
type Fetcher struct {
	client    *http.Client
	userAgent string
	log       logx.Logger

	mu    sync.Mutex
	cache map[string]fetchResult
}

type fetchResult struct {
	data []byte
	ok   bool
}

func NewFetcher(hopTimeout time.Duration, userAgent string, log logx.Logger) *Fetcher {
	if hopTimeout <= 0 {
		hopTimeout = defaultHopTimeout
	}
	if strings.TrimSpace(userAgent) == "" {
		userAgent = defaultUserAgent
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Fetcher{
		client:    &http.Client{Timeout: hopTimeout},
		userAgent: userAgent,
		log:       log,
		cache:     map[string]fetchResult{},
	}
}

// Fetch returns the image bytes for a share-page URL, or nil when the
// page or image could not be retrieved.
func (f *Fetcher) Fetch(ctx context.Context, url string) []byte {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil
	}

	f.mu.Lock()
	if r, ok := f.cache[url]; ok {
		f.mu.Unlock()
		if !r.ok {
			return nil
		}
		return r.data
	}
	f.mu.Unlock()

	data := f.fetch(ctx, url)

	f.mu.Lock()
	f.cache[url] = fetchResult{data: data, ok: data != nil}
	f.mu.Unlock()
	return data
}

// Reset drops the session cache.
func (f *Fetcher) Reset() {
	f.mu.Lock()
	f.cache = map[string]fetchResult{}
	f.mu.Unlock()
}

func (f *Fetcher) fetch(ctx context.Context, url string) []byte {
	page, _ := f.get(ctx, url, maxPageBytes)
	if page == nil {
		f.log.Debug("share page fetch failed", logx.String("url", url))
		return nil
	}

	m := ogImagePattern.FindSubmatch(page)
	if m == nil {
		f.log.Debug("share page has no og:image marker", logx.String("url", url))
		return nil
	}
	imageURL := string(m[1])

	img, contentType := f.get(ctx, imageURL, maxImageBytes)
	if img == nil || !strings.HasPrefix(contentType, "image/") {
		f.log.Debug("image fetch failed",
			logx.String("url", imageURL), logx.String("content_type", contentType))
		return nil
	}
	return img
}

// get performs one GET hop. Non-2xx, transport errors and oversized
// bodies all come back as nil.
func (f *Fetcher) get(ctx context.Context, url string, maxBytes int64) ([]byte, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, ""
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, ""
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, resp.Header.Get("Content-Type")
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes))
	if err != nil {
		return nil, resp.Header.Get("Content-Type")
	}
	return b, resp.Header.Get("Content-Type")
}
