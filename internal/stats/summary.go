// Package stats aggregates many command Results into a run summary.
//
// Durations go into a t-digest so quantiles stay cheap no matter how many
// commands a single invocation fans out to.
package stats

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/influxdata/tdigest"

	"github.com/yoanbernabeu/nbexec/internal/process"
)

// compression trades accuracy for memory; 100 keeps ~100 centroids.
const compression = 100

// Aggregator collects Results. It is safe for concurrent use.
type Aggregator struct {
	mu        sync.Mutex
	digest    *tdigest.TDigest
	total     int
	succeeded int
	canceled  int
	bytes     int64
	min       time.Duration
	max       time.Duration
	sum       time.Duration
	exitCodes map[int]int
}

// Summary is a point-in-time view of an Aggregator.
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
	Canceled  int
	Bytes     int64
	Min       time.Duration
	Max       time.Duration
	Mean      time.Duration
	P50       time.Duration
	P90       time.Duration
	P99       time.Duration
	ExitCodes map[int]int
}

// NewAggregator returns an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		digest:    tdigest.NewWithCompression(compression),
		exitCodes: make(map[int]int),
	}
}

// Add records one Result.
func (a *Aggregator) Add(res process.Result) {
	d := res.Duration()

	a.mu.Lock()
	defer a.mu.Unlock()

	a.digest.Add(float64(d.Nanoseconds()), 1)
	if a.total == 0 || d < a.min {
		a.min = d
	}
	if d > a.max {
		a.max = d
	}
	a.total++
	a.sum += d
	a.bytes += int64(len(res.Output))
	a.exitCodes[res.ExitCode]++

	switch {
	case res.Canceled:
		a.canceled++
	case res.Succeeded:
		a.succeeded++
	}
}

// Summary returns the current aggregate.
func (a *Aggregator) Summary() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Summary{
		Total:     a.total,
		Succeeded: a.succeeded,
		Canceled:  a.canceled,
		Failed:    a.total - a.succeeded - a.canceled,
		Bytes:     a.bytes,
		Min:       a.min,
		Max:       a.max,
		ExitCodes: make(map[int]int, len(a.exitCodes)),
	}
	for code, n := range a.exitCodes {
		s.ExitCodes[code] = n
	}
	if a.total == 0 {
		return s
	}

	s.Mean = a.sum / time.Duration(a.total)
	s.P50 = a.quantile(0.50)
	s.P90 = a.quantile(0.90)
	s.P99 = a.quantile(0.99)
	return s
}

// quantile clamps digest estimates to the observed range.
func (a *Aggregator) quantile(q float64) time.Duration {
	d := time.Duration(a.digest.Quantile(q))
	if d < a.min {
		return a.min
	}
	if d > a.max {
		return a.max
	}
	return d
}

// Format renders the summary as plain text lines.
func (s Summary) Format() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Runs:      %d (%d succeeded, %d failed, %d canceled)\n",
		s.Total, s.Succeeded, s.Failed, s.Canceled)
	if s.Total == 0 {
		return b.String()
	}

	fmt.Fprintf(&b, "Output:    %d bytes\n", s.Bytes)
	fmt.Fprintf(&b, "Duration:  min %s  mean %s  max %s\n",
		round(s.Min), round(s.Mean), round(s.Max))
	fmt.Fprintf(&b, "Quantiles: p50 %s  p90 %s  p99 %s\n",
		round(s.P50), round(s.P90), round(s.P99))

	codes := make([]int, 0, len(s.ExitCodes))
	for code := range s.ExitCodes {
		codes = append(codes, code)
	}
	sort.Ints(codes)

	parts := make([]string, 0, len(codes))
	for _, code := range codes {
		parts = append(parts, fmt.Sprintf("%d=%d", code, s.ExitCodes[code]))
	}
	fmt.Fprintf(&b, "Exit codes: %s\n", strings.Join(parts, " "))

	return b.String()
}

func round(d time.Duration) time.Duration {
	return d.Round(time.Millisecond)
}
