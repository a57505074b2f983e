package httpclient

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// cachedResponse is a snapshot of an *http.Response whose body has
// already been drained, so it can be replayed on a cache hit without
// holding the original body reader open.
type cachedResponse struct {
	statusCode int
	header     http.Header
	body       []byte
}

// ResponseCache caches GET responses in memory, honoring the
// Cache-Control response header (max-age, no-store, private treated as
// cacheable since this is a single-user process-local cache).
type ResponseCache struct {
	store      *gocache.Cache
	defaultTTL time.Duration
}

// NewResponseCache creates a cache with the given default TTL and
// cleanup interval.
func NewResponseCache(defaultTTL, cleanupInterval time.Duration) *ResponseCache {
	return &ResponseCache{store: gocache.New(defaultTTL, cleanupInterval), defaultTTL: defaultTTL}
}

// Get returns a cached response for req, if present and unexpired.
func (c *ResponseCache) Get(req *http.Request) (*http.Response, bool) {
	key, err := cacheKey(req)
	if err != nil {
		return nil, false
	}

	raw, found := c.store.Get(key)
	if !found {
		return nil, false
	}

	cached := raw.(*cachedResponse)
	resp := &http.Response{
		StatusCode: cached.statusCode,
		Header:     cached.header.Clone(),
		Body:       io.NopCloser(bytes.NewReader(cached.body)),
	}
	return resp, true
}

// Store caches resp for req if its Cache-Control headers allow it,
// draining and replacing resp.Body so the caller can still read it.
func (c *ResponseCache) Store(req *http.Request, resp *http.Response) {
	directives := parseCacheControl(resp.Header.Get("Cache-Control"))
	if directives.noStore {
		return
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return
	}
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))

	ttl := c.defaultTTL
	if directives.maxAge >= 0 {
		ttl = time.Duration(directives.maxAge) * time.Second
	}
	if ttl <= 0 {
		return
	}

	key, err := cacheKey(req)
	if err != nil {
		return
	}

	c.store.Set(key, &cachedResponse{
		statusCode: resp.StatusCode,
		header:     resp.Header.Clone(),
		body:       body,
	}, ttl)
}

type cacheControlDirectives struct {
	noStore bool
	maxAge  int
}

func parseCacheControl(header string) cacheControlDirectives {
	d := cacheControlDirectives{maxAge: -1}
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(strings.ToLower(part))
		switch {
		case part == "no-store":
			d.noStore = true
		case strings.HasPrefix(part, "max-age="):
			if v, err := strconv.Atoi(strings.TrimPrefix(part, "max-age=")); err == nil {
				d.maxAge = v
			}
		}
	}
	return d
}

func cacheKey(req *http.Request) (string, error) {
	h := sha256.New()
	h.Write([]byte(req.Method))
	h.Write([]byte(req.URL.String()))
	if req.Body != nil {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return "", err
		}
		req.Body = io.NopCloser(bytes.NewReader(body))
		h.Write(body)
	}
	for _, key := range []string{"Authorization"} {
		h.Write([]byte(req.Header.Get(key)))
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
