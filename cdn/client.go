package cdn

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"k8s.io/klog/v2"

	"github.com/steed-rs/ngdp/metrics"
)

// Client talks to one region's CDN mirror set for a single product: it
// knows the path prefix and the current ranked server list, and builds
// config/data/index URLs on request.
type Client struct {
	HTTPClient *http.Client

	mu      sync.RWMutex
	servers []string // ranked fastest-first
	cdnPath string
}

// NewClient constructs a Client from a Ribbit CDNS entry's server list and
// path, unranked until Rank is called.
func NewClient(servers []string, cdnPath string) *Client {
	return &Client{
		HTTPClient: http.DefaultClient,
		servers:    append([]string(nil), servers...),
		cdnPath:    cdnPath,
	}
}

// Rank measures each server's latency fetching a small probe range and
// sorts the mirror list fastest-first. A server that errors is moved to
// the back rather than dropped, since mirrors can be transiently
// unreachable and still worth falling back to.
func (c *Client) Rank(ctx context.Context, probeURL string, probeBytes int64) {
	type timed struct {
		server  string
		elapsed time.Duration
		ok      bool
	}
	c.mu.RLock()
	servers := append([]string(nil), c.servers...)
	c.mu.RUnlock()

	results := make([]timed, len(servers))
	var wg sync.WaitGroup
	for i, s := range servers {
		wg.Add(1)
		go func(i int, server string) {
			defer wg.Done()
			url := fmt.Sprintf("http://%s/%s", server, probeURL)
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				results[i] = timed{server: server}
				return
			}
			req.Header.Set("Range", fmt.Sprintf("bytes=0-%d", probeBytes-1))
			start := time.Now()
			resp, err := c.HTTPClient.Do(req)
			elapsed := time.Since(start)
			if err != nil {
				results[i] = timed{server: server, elapsed: elapsed}
				return
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			results[i] = timed{server: server, elapsed: elapsed, ok: resp.StatusCode < 400}
		}(i, s)
	}
	wg.Wait()

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].ok != results[j].ok {
			return results[i].ok
		}
		return results[i].elapsed < results[j].elapsed
	})

	ranked := make([]string, len(results))
	for i, r := range results {
		ranked[i] = r.server
		klog.V(3).Infof("cdn: ranked %s at %s (ok=%v)", r.server, r.elapsed, r.ok)
	}

	c.mu.Lock()
	c.servers = ranked
	c.mu.Unlock()
}

func (c *Client) mirrors() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.servers...)
}

func hashPrefix(key string) (string, string) {
	if len(key) < 4 {
		return key, key
	}
	return key[0:2], key[2:4]
}

// ConfigPath builds the relative path for a config object identified by
// its hex key.
func (c *Client) ConfigPath(key string) string {
	a, b := hashPrefix(key)
	return fmt.Sprintf("%s/config/%s/%s/%s", c.cdnPath, a, b, key)
}

// DataPath builds the relative path for an archive data object.
func (c *Client) DataPath(key string) string {
	a, b := hashPrefix(key)
	return fmt.Sprintf("%s/data/%s/%s/%s", c.cdnPath, a, b, key)
}

// IndexPath builds the relative path for an archive's .index sidecar.
func (c *Client) IndexPath(key string) string {
	return c.DataPath(key) + ".index"
}

// Fetch performs a whole-object GET for relPath, trying mirrors in ranked
// order until one succeeds.
func (c *Client) Fetch(ctx context.Context, relPath string) ([]byte, error) {
	start := time.Now()
	var lastErr error
	for _, server := range c.mirrors() {
		url := fmt.Sprintf("http://%s/%s", server, relPath)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			lastErr = fmt.Errorf("cdn: %s: unexpected status %s", url, resp.Status)
			continue
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		metrics.BytesFetched.WithLabelValues("whole").Add(float64(len(body)))
		metrics.FetchDuration.WithLabelValues("whole").Observe(time.Since(start).Seconds())
		return body, nil
	}
	return nil, fmt.Errorf("cdn: all mirrors failed for %s: %w", relPath, lastErr)
}

// FetchRange performs a single ranged GET, trying mirrors in order.
func (c *Client) FetchRange(ctx context.Context, relPath string, start, end int64) ([]byte, error) {
	fetchStart := time.Now()
	var lastErr error
	for _, server := range c.mirrors() {
		url := fmt.Sprintf("http://%s/%s", server, relPath)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))
		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode != http.StatusPartialContent {
			resp.Body.Close()
			lastErr = fmt.Errorf("cdn: %s: unexpected status %s", url, resp.Status)
			continue
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		metrics.BytesFetched.WithLabelValues("ranged").Add(float64(len(body)))
		metrics.FetchDuration.WithLabelValues("ranged").Observe(time.Since(fetchStart).Seconds())
		return body, nil
	}
	return nil, fmt.Errorf("cdn: all mirrors failed for ranged %s: %w", relPath, lastErr)
}

// FetchConcurrent performs a chunked, concurrent ranged fetch of an object
// known to be size bytes long, trying mirrors in order until one serves
// the whole object.
func (c *Client) FetchConcurrent(ctx context.Context, relPath string, size int64, concurrency int, chunkSize int64) ([]byte, error) {
	var lastErr error
	for _, server := range c.mirrors() {
		url := fmt.Sprintf("http://%s/%s", server, relPath)
		rf := newRangedFetch(ctx, c.HTTPClient, url, size, concurrency, chunkSize)
		data, err := rf.Fetch()
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("cdn: all mirrors failed for concurrent %s: %w", relPath, lastErr)
}
