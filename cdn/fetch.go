// Package cdn implements the client's HTTP collaborator: mirror selection,
// latency-based server ranking, and whole-file or ranged concurrent
// fetches against a CDN path layout of config/<xx>/<xx>/<key>,
// data/<xx>/<xx>/<key>, and data/<xx>/<xx>/<key>.index.
package cdn

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"k8s.io/klog/v2"
)

const (
	defaultChunkSize   = 4 * 1024 * 1024
	defaultConcurrency = 10
	maxRetries         = 5
	maxInMemoryChunks  = 20
	baseBackoff        = 1 * time.Second
)

// rangedFetch performs a concurrent, chunked, range-requested GET against
// url (already known to be rangeable and sized), returning the reassembled
// bytes in order.
type rangedFetch struct {
	client      *http.Client
	url         string
	size        int64
	chunkSize   int64
	concurrency int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	jobs    chan fetchJob
	results chan fetchResult
	errs    chan error
}

type fetchJob struct {
	index      int
	start, end int64
}

type fetchResult struct {
	index int
	data  []byte
	err   error
}

func newRangedFetch(ctx context.Context, client *http.Client, url string, size int64, concurrency int, chunkSize int64) *rangedFetch {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	cctx, cancel := context.WithCancel(ctx)
	return &rangedFetch{
		client:      client,
		url:         url,
		size:        size,
		chunkSize:   chunkSize,
		concurrency: concurrency,
		ctx:         cctx,
		cancel:      cancel,
		jobs:        make(chan fetchJob),
		results:     make(chan fetchResult, maxInMemoryChunks),
		errs:        make(chan error, 1),
	}
}

// Fetch runs the ranged download to completion, returning the full body.
// For archives in the tens-to-hundreds of MB this client deals with,
// buffering the whole result is simpler than streaming and keeps the
// caller's BLTE/idx/shmem code synchronous.
func (f *rangedFetch) Fetch() ([]byte, error) {
	klog.V(2).Infof("cdn: ranged fetch %s (%s, %d workers, %s chunks)",
		f.url, humanize.Bytes(uint64(f.size)), f.concurrency, humanize.Bytes(uint64(f.chunkSize)))

	f.wg.Add(1)
	go f.generateJobs()

	var workerWg sync.WaitGroup
	for i := 0; i < f.concurrency; i++ {
		workerWg.Add(1)
		go f.worker(&workerWg)
	}
	go func() {
		workerWg.Wait()
		close(f.results)
	}()

	totalChunks := int((f.size + f.chunkSize - 1) / f.chunkSize)
	buffer := make(map[int][]byte)
	out := make([]byte, f.size)
	received := 0
	for received < totalChunks {
		select {
		case res, ok := <-f.results:
			if !ok {
				return nil, fmt.Errorf("cdn: results channel closed early")
			}
			if res.err != nil {
				f.cancel()
				return nil, res.err
			}
			buffer[res.index] = res.data
			received++
		case <-f.ctx.Done():
			return nil, f.ctx.Err()
		}
	}
	f.wg.Wait()

	for i := 0; i < totalChunks; i++ {
		start := int64(i) * f.chunkSize
		copy(out[start:], buffer[i])
	}
	return out, nil
}

func (f *rangedFetch) generateJobs() {
	defer f.wg.Done()
	defer close(f.jobs)
	for offset := int64(0); offset < f.size; offset += f.chunkSize {
		end := offset + f.chunkSize - 1
		if end >= f.size {
			end = f.size - 1
		}
		select {
		case f.jobs <- fetchJob{index: int(offset / f.chunkSize), start: offset, end: end}:
		case <-f.ctx.Done():
			return
		}
	}
}

func (f *rangedFetch) worker(wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case <-f.ctx.Done():
			return
		case job, ok := <-f.jobs:
			if !ok {
				return
			}
			data, err := f.fetchRange(job.start, job.end)
			select {
			case f.results <- fetchResult{index: job.index, data: data, err: err}:
			case <-f.ctx.Done():
				return
			}
		}
	}
}

func (f *rangedFetch) fetchRange(start, end int64) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			delay := baseBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-time.After(delay):
			case <-f.ctx.Done():
				return nil, f.ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(f.ctx, http.MethodGet, f.url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))

		resp, err := f.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}
		if resp.StatusCode != http.StatusPartialContent {
			resp.Body.Close()
			lastErr = fmt.Errorf("unexpected status: %s", resp.Status)
			continue
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read body: %w", err)
			continue
		}
		return body, nil
	}
	return nil, fmt.Errorf("cdn: range %d-%d failed after %d retries: %w", start, end, maxRetries, lastErr)
}
