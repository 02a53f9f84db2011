// Package bench provides benchmarking primitives for the tinyml bench command.
package bench

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// ---------------------------------------------------------------------------
// Run result and stats
// ---------------------------------------------------------------------------

// RunResult holds the timing and prediction for a single inference run.
type RunResult struct {
	Index    int
	Cold     bool // true for the first run, which includes lazy initialization
	Duration time.Duration
	Label    string
}

// Stats holds aggregate timing statistics across all runs.
type Stats struct {
	Min  time.Duration
	Max  time.Duration
	Mean time.Duration
	P50  time.Duration
	P95  time.Duration
}

// ComputeStats calculates min, max, mean and nearest-rank percentiles over a
// slice of durations. An empty slice yields zero Stats.
func ComputeStats(durations []time.Duration) Stats {
	if len(durations) == 0 {
		return Stats{}
	}

	sorted := slices.Clone(durations)
	slices.Sort(sorted)

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}

	return Stats{
		Min:  sorted[0],
		Max:  sorted[len(sorted)-1],
		Mean: sum / time.Duration(len(sorted)),
		P50:  percentile(sorted, 50),
		P95:  percentile(sorted, 95),
	}
}

func percentile(sorted []time.Duration, p int) time.Duration {
	rank := (p*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}

// Throughput returns runs per second for the warm runs, or all runs when
// there is only one.
func Throughput(runs []RunResult) float64 {
	var total time.Duration
	n := 0
	for _, r := range runs {
		if r.Cold && len(runs) > 1 {
			continue
		}
		total += r.Duration
		n++
	}
	if total <= 0 {
		return 0
	}
	return float64(n) / total.Seconds()
}

// ---------------------------------------------------------------------------
// Measurement
// ---------------------------------------------------------------------------

// Measure calls fn n times and records how long each call took. fn returns
// the predicted label. The first error stops the run.
func Measure(ctx context.Context, n int, fn func(context.Context) (string, error)) ([]RunResult, error) {
	if n < 1 {
		return nil, fmt.Errorf("run count must be at least 1, got %d", n)
	}

	results := make([]RunResult, 0, n)
	for i := range n {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		start := time.Now()
		label, err := fn(ctx)
		if err != nil {
			return results, fmt.Errorf("run %d failed: %w", i+1, err)
		}

		results = append(results, RunResult{
			Index:    i,
			Cold:     i == 0,
			Duration: time.Since(start),
			Label:    label,
		})
	}

	return results, nil
}

// ---------------------------------------------------------------------------
// Latency threshold gate
// ---------------------------------------------------------------------------

// CheckLatencyThreshold returns an error if p50 > threshold.
// A threshold of 0 disables the gate.
func CheckLatencyThreshold(p50, threshold time.Duration) error {
	if threshold <= 0 {
		return nil
	}
	if p50 > threshold {
		return fmt.Errorf("median latency %s exceeds threshold %s", p50, threshold)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Output formatters
// ---------------------------------------------------------------------------

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

// FormatTable writes a human-readable ASCII table of bench results to w.
func FormatTable(runs []RunResult, stats Stats, w io.Writer) {
	sb := &strings.Builder{}
	fmt.Fprintf(sb, "%-5s  %-5s  %10s  %-18s\n", "Run", "Cold", "MS", "Label")
	fmt.Fprintln(sb, strings.Repeat("-", 44))
	for _, r := range runs {
		cold := ""
		if r.Cold {
			cold = "yes"
		}
		fmt.Fprintf(sb, "%-5d  %-5s  %10.3f  %-18s\n", r.Index+1, cold, ms(r.Duration), r.Label)
	}
	fmt.Fprintln(sb, strings.Repeat("-", 44))
	for _, row := range []struct {
		name string
		d    time.Duration
	}{
		{"min", stats.Min},
		{"p50", stats.P50},
		{"mean", stats.Mean},
		{"p95", stats.P95},
		{"max", stats.Max},
	} {
		fmt.Fprintf(sb, "%-5s  %-5s  %10.3f  (%s)\n", "", "", ms(row.d), row.name)
	}
	fmt.Fprintf(sb, "%.1f inferences/s (warm)\n", Throughput(runs))
	fmt.Fprint(w, sb.String())
}

// jsonReport is the top-level JSON structure emitted by FormatJSON.
type jsonReport struct {
	Runs       []jsonRun `json:"runs"`
	Stats      jsonStats `json:"stats"`
	Throughput float64   `json:"inferences_per_second"`
}

type jsonRun struct {
	Index      int     `json:"index"`
	Cold       bool    `json:"cold"`
	DurationMS float64 `json:"duration_ms"`
	Label      string  `json:"label"`
}

type jsonStats struct {
	MinMS  float64 `json:"min_ms"`
	P50MS  float64 `json:"p50_ms"`
	MeanMS float64 `json:"mean_ms"`
	P95MS  float64 `json:"p95_ms"`
	MaxMS  float64 `json:"max_ms"`
}

// FormatJSON writes a JSON report of bench results to w.
func FormatJSON(runs []RunResult, stats Stats, w io.Writer) {
	jr := jsonReport{
		Runs: make([]jsonRun, len(runs)),
		Stats: jsonStats{
			MinMS:  ms(stats.Min),
			P50MS:  ms(stats.P50),
			MeanMS: ms(stats.Mean),
			P95MS:  ms(stats.P95),
			MaxMS:  ms(stats.Max),
		},
		Throughput: Throughput(runs),
	}
	for i, r := range runs {
		jr.Runs[i] = jsonRun{
			Index:      r.Index,
			Cold:       r.Cold,
			DurationMS: ms(r.Duration),
			Label:      r.Label,
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(jr)
}
