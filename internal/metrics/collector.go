package metrics

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"
	"time"
)

const (
	KindTimeout = "Timeout (Slow)"
	KindRefused = "Conn Refused (Fast)"
	KindReset   = "Conn Reset (Fast)"
	KindEOF     = "EOF / Empty"
	KindDNS     = "DNS Error"
	KindStatus  = "Bad Status"
	KindBody    = "Bad Body"
	KindUnknown = "Unknown"
)

type Collector struct {
	mu sync.Mutex

	// Latency Tracking (Successes only)
	latencies []time.Duration

	// Error Tracking
	errorCounts map[string]int
	totalErrors int

	// Network Saturation Heuristic
	timeoutErrors int

	// Candidates dropped before probing, by reason
	rejections map[string]int

	prom *promSet
}

func New() *Collector {
	return &Collector{
		errorCounts: make(map[string]int),
		rejections:  make(map[string]int),
		prom:        newPromSet(),
	}
}

func (c *Collector) RecordSuccess(duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.latencies = append(c.latencies, duration)
	c.prom.probeDuration.Observe(duration.Seconds())
	c.prom.probes.WithLabelValues("live").Inc()
}

func (c *Collector) RecordFailure(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalErrors++

	kind := Classify(err)
	if kind == KindTimeout {
		c.timeoutErrors++
	}
	c.errorCounts[kind]++
	c.prom.probes.WithLabelValues("dead").Inc()
	c.prom.failures.WithLabelValues(kind).Inc()
}

// RecordRejection counts a candidate the filter dropped.
func (c *Collector) RecordRejection(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rejections[reason]++
	c.prom.rejections.WithLabelValues(reason).Inc()
}

// RecordScan stores the stage totals of a finished scan.
func (c *Collector) RecordScan(total, normalized, filtered, live int, elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.prom.candidates.WithLabelValues("input").Set(float64(total))
	c.prom.candidates.WithLabelValues("normalized").Set(float64(normalized))
	c.prom.candidates.WithLabelValues("filtered").Set(float64(filtered))
	c.prom.candidates.WithLabelValues("live").Set(float64(live))
	c.prom.scanDuration.Set(elapsed.Seconds())
	c.prom.lastScan.SetToCurrentTime()
}

// Classify buckets a probe error by its message.
func Classify(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "deadline exceeded") || strings.Contains(msg, "timeout"):
		return KindTimeout
	case strings.Contains(msg, "refused"):
		return KindRefused
	case strings.Contains(msg, "reset"):
		return KindReset
	case strings.Contains(msg, "EOF"):
		return KindEOF
	case strings.Contains(msg, "no such host"):
		return KindDNS
	case strings.Contains(msg, "status"):
		return KindStatus
	case strings.Contains(msg, "ip info"):
		return KindBody
	}
	return KindUnknown
}

// Snapshot is a copy of the counters for callers that do not print.
type Snapshot struct {
	Successes   int
	Failures    int
	Timeouts    int
	ErrorCounts map[string]int
	Rejections  map[string]int
}

func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		Successes:   len(c.latencies),
		Failures:    c.totalErrors,
		Timeouts:    c.timeoutErrors,
		ErrorCounts: make(map[string]int, len(c.errorCounts)),
		Rejections:  make(map[string]int, len(c.rejections)),
	}
	for k, v := range c.errorCounts {
		s.ErrorCounts[k] = v
	}
	for k, v := range c.rejections {
		s.Rejections[k] = v
	}
	return s
}

func (c *Collector) PrintReport(out io.Writer, currentTimeout time.Duration, currentBatch int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(out, "\n📊 \033[1mSCAN METRICS REPORT\033[0m")
	fmt.Fprintln(out, "────────────────────────────────────────")

	// 1. Filter
	if len(c.rejections) > 0 {
		fmt.Fprintln(w, "\033[1;36m[ FILTERED OUT ]\033[0m")
		for _, reason := range sortedKeys(c.rejections) {
			fmt.Fprintf(w, "  %s:\t%d\n", reason, c.rejections[reason])
		}
		fmt.Fprintln(w, "")
	}

	// 2. Latency / Config Tuning
	if len(c.latencies) > 0 {
		sorted := append([]time.Duration(nil), c.latencies...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		p50 := sorted[len(sorted)/2]
		p90 := sorted[int(float64(len(sorted))*0.9)]

		fmt.Fprintln(w, "\033[1;36m[ LATENCY (Live Proxies) ]\033[0m")
		fmt.Fprintf(w, "  Avg Duration:\t%v\n", average(sorted))
		fmt.Fprintf(w, "  p50 (Median):\t%v\n", p50)
		fmt.Fprintf(w, "  p90 (Slowest 10%%):\t%v\n", p90)

		recTimeout := p90 + (500 * time.Millisecond)
		fmt.Fprintf(w, "  💡 Recommendation:\tSet 'probe_timeout' to ~%s (Current: %s)\n", recTimeout.Round(time.Second), currentTimeout)
		fmt.Fprintln(w, "")
	}

	// 3. Network Saturation (The Limit Check)
	fmt.Fprintln(w, "\033[1;36m[ NETWORK HEALTH / ERRORS ]\033[0m")
	fmt.Fprintf(w, "  Total Failures:\t%d\n", c.totalErrors)

	if c.totalErrors > 0 {
		timeoutPct := float64(c.timeoutErrors) / float64(c.totalErrors) * 100
		fmt.Fprintf(w, "  Timeouts (Potential Congestion):\t%d (%.1f%%)\n", c.timeoutErrors, timeoutPct)

		for _, k := range sortedKeys(c.errorCounts) {
			if k != KindTimeout {
				fmt.Fprintf(w, "  %s:\t%d\n", k, c.errorCounts[k])
			}
		}

		fmt.Fprintln(w, "  --------------------------------")
		if timeoutPct > 70 {
			fmt.Fprintln(w, "  ⚠️  \033[1;31mHIGH SATURATION DETECTED\033[0m")
			fmt.Fprintln(w, "  >70% of failures are Timeouts. This suggests your network bandwidth")
			fmt.Fprintln(w, "  or NAT table is choked, or packets are being dropped silently.")
			fmt.Fprintf(w, "  💡 Recommendation: \033[1mDECREASE batch_size\033[0m (Current: %d)\n", currentBatch)
		} else {
			fmt.Fprintln(w, "  ✅ Network seems stable (Failures are mostly active rejections).")
		}
	}

	w.Flush()
	fmt.Fprintln(out, "")
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func average(d []time.Duration) time.Duration {
	if len(d) == 0 {
		return 0
	}
	var sum time.Duration
	for _, v := range d {
		sum += v
	}
	return time.Duration(int64(sum) / int64(len(d)))
}
