// Package planner decides, per archive, whether to fetch the whole file
// or only the byte ranges a build actually needs: a running estimate of
// achieved bandwidth and per-request overhead feeds a simple cost model,
// since the right answer flips depending on how much of a large archive
// is actually wanted and how fast the active mirror is.
package planner

import (
	"sync"
	"time"

	"github.com/steed-rs/ngdp/metrics"
)

// Want is one requested byte range inside an archive.
type Want struct {
	Offset int64
	Size   int64
}

// Plan is the decision for one archive: fetch it whole, or fetch exactly
// these (possibly coalesced) ranges.
type Plan struct {
	Whole  bool
	Ranges []Want
}

// Estimator tracks a running average of achieved bandwidth (bytes/sec) and
// fixed per-request overhead (latency before the first byte), updated
// after every fetch so the plan adapts to the active network and mirror.
type Estimator struct {
	mu sync.Mutex

	bandwidthBps    float64
	requestOverhead time.Duration
	samples         int
}

// NewEstimator returns an estimator seeded with conservative defaults
// (slow bandwidth, high overhead). Until the first Observe, Plan always
// chooses a whole-archive fetch.
func NewEstimator() *Estimator {
	return &Estimator{
		bandwidthBps:    2 * 1024 * 1024, // 2 MB/s
		requestOverhead: 150 * time.Millisecond,
	}
}

// Observe folds in one completed fetch's measured throughput and latency
// using an exponential moving average, weighting newer samples more
// heavily once enough history has accumulated to trust them.
func (e *Estimator) Observe(bytesTransferred int64, elapsed time.Duration, overhead time.Duration) {
	if elapsed <= 0 {
		return
	}
	bps := float64(bytesTransferred) / elapsed.Seconds()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.samples++
	alpha := 1.0 / float64(min(e.samples, 8))
	e.bandwidthBps = e.bandwidthBps*(1-alpha) + bps*alpha
	e.requestOverhead = time.Duration(float64(e.requestOverhead)*(1-alpha) + float64(overhead)*alpha)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// snapshot returns the current estimates under lock.
func (e *Estimator) snapshot() (bandwidthBps float64, overhead time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bandwidthBps, e.requestOverhead
}

// Plan decides whether to fetch an archive of archiveSize bytes whole, or
// to issue one ranged request per coalesced want, given the wants needed
// out of it. Adjacent/overlapping wants within coalesceGap bytes of each
// other are merged into a single range first, since one request for two
// nearby small files beats two separate round trips.
func (e *Estimator) Plan(archiveSize int64, wants []Want, coalesceGap int64) Plan {
	e.mu.Lock()
	noSamples := e.samples == 0
	e.mu.Unlock()
	if noSamples {
		metrics.PlanDecisions.WithLabelValues("whole").Inc()
		return Plan{Whole: true}
	}

	coalesced := coalesce(wants, coalesceGap)

	bandwidth, overhead := e.snapshot()
	if bandwidth <= 0 {
		bandwidth = 1
	}

	var wantedBytes int64
	for _, w := range coalesced {
		wantedBytes += w.Size
	}

	wholeCost := overhead.Seconds() + float64(archiveSize)/bandwidth
	rangedCost := float64(len(coalesced))*overhead.Seconds() + float64(wantedBytes)/bandwidth

	if wholeCost <= rangedCost {
		metrics.PlanDecisions.WithLabelValues("whole").Inc()
		return Plan{Whole: true}
	}
	metrics.PlanDecisions.WithLabelValues("ranged").Inc()
	return Plan{Ranges: coalesced}
}

// coalesce merges wants that are within gap bytes of each other (by
// offset order) into single contiguous ranges.
func coalesce(wants []Want, gap int64) []Want {
	if len(wants) == 0 {
		return nil
	}
	sorted := append([]Want(nil), wants...)
	insertionSort(sorted)

	out := []Want{sorted[0]}
	for _, w := range sorted[1:] {
		last := &out[len(out)-1]
		lastEnd := last.Offset + last.Size
		if w.Offset <= lastEnd+gap {
			newEnd := w.Offset + w.Size
			if newEnd > lastEnd {
				last.Size = newEnd - last.Offset
			}
			continue
		}
		out = append(out, w)
	}
	return out
}

func insertionSort(w []Want) {
	for i := 1; i < len(w); i++ {
		for j := i; j > 0 && w[j-1].Offset > w[j].Offset; j-- {
			w[j-1], w[j] = w[j], w[j-1]
		}
	}
}
