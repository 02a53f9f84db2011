package bench_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/example/go-tinyml-audio/internal/bench"
)

// ---------------------------------------------------------------------------
// Aggregation
// ---------------------------------------------------------------------------

func TestStats_MinMaxMean(t *testing.T) {
	durations := []time.Duration{
		300 * time.Millisecond,
		100 * time.Millisecond,
		200 * time.Millisecond,
	}
	s := bench.ComputeStats(durations)

	if s.Min != 100*time.Millisecond {
		t.Errorf("want min=100ms, got %v", s.Min)
	}

	if s.Max != 300*time.Millisecond {
		t.Errorf("want max=300ms, got %v", s.Max)
	}

	if s.Mean != 200*time.Millisecond {
		t.Errorf("want mean=200ms, got %v", s.Mean)
	}

	if s.P50 != 200*time.Millisecond {
		t.Errorf("want p50=200ms, got %v", s.P50)
	}

	if durations[0] != 300*time.Millisecond {
		t.Error("ComputeStats must not reorder its input")
	}
}

func TestStats_Percentiles(t *testing.T) {
	durations := make([]time.Duration, 20)
	for i := range durations {
		durations[i] = time.Duration(i+1) * time.Millisecond
	}

	s := bench.ComputeStats(durations)

	if s.P50 != 10*time.Millisecond {
		t.Errorf("want p50=10ms, got %v", s.P50)
	}

	if s.P95 != 19*time.Millisecond {
		t.Errorf("want p95=19ms, got %v", s.P95)
	}
}

func TestStats_SingleRunAndEmpty(t *testing.T) {
	s := bench.ComputeStats([]time.Duration{150 * time.Millisecond})
	if s.Min != s.Max || s.Min != s.Mean || s.P50 != s.P95 {
		t.Errorf("single run: all stats should be equal, got %+v", s)
	}

	if got := bench.ComputeStats(nil); got != (bench.Stats{}) {
		t.Errorf("empty input: got %+v; want zero", got)
	}
}

func TestThroughput_SkipsColdRun(t *testing.T) {
	runs := []bench.RunResult{
		{Index: 0, Cold: true, Duration: time.Second},
		{Index: 1, Duration: 100 * time.Millisecond},
		{Index: 2, Duration: 100 * time.Millisecond},
	}

	if got := bench.Throughput(runs); got < 9.99 || got > 10.01 {
		t.Errorf("want 10 inferences/s, got %.3f", got)
	}

	if got := bench.Throughput(runs[:1]); got < 0.99 || got > 1.01 {
		t.Errorf("single cold run: want 1/s, got %.3f", got)
	}

	if got := bench.Throughput(nil); got != 0 {
		t.Errorf("no runs: want 0, got %.3f", got)
	}
}

// ---------------------------------------------------------------------------
// Measure
// ---------------------------------------------------------------------------

func TestMeasure_RecordsEveryRun(t *testing.T) {
	calls := 0
	results, err := bench.Measure(context.Background(), 3, func(context.Context) (string, error) {
		calls++
		return "siren", nil
	})
	if err != nil {
		t.Fatalf("Measure: %v", err)
	}

	if calls != 3 || len(results) != 3 {
		t.Fatalf("calls=%d results=%d; want 3 each", calls, len(results))
	}

	if !results[0].Cold || results[1].Cold {
		t.Error("only the first run should be cold")
	}

	if results[2].Index != 2 || results[2].Label != "siren" {
		t.Errorf("unexpected result: %+v", results[2])
	}
}

func TestMeasure_StopsOnError(t *testing.T) {
	boom := errors.New("inference failed")
	calls := 0

	results, err := bench.Measure(context.Background(), 5, func(context.Context) (string, error) {
		calls++
		if calls == 2 {
			return "", boom
		}
		return "x", nil
	})
	if !errors.Is(err, boom) || !strings.Contains(err.Error(), "run 2") {
		t.Fatalf("err = %v; want run 2 failure", err)
	}

	if len(results) != 1 {
		t.Errorf("want 1 completed result, got %d", len(results))
	}
}

func TestMeasure_RejectsZeroRuns(t *testing.T) {
	if _, err := bench.Measure(context.Background(), 0, nil); err == nil {
		t.Fatal("want error for zero runs")
	}
}

func TestMeasure_HonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := bench.Measure(ctx, 3, func(context.Context) (string, error) {
		t.Fatal("fn must not run after cancellation")
		return "", nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v; want context.Canceled", err)
	}
}

// ---------------------------------------------------------------------------
// Latency threshold gate
// ---------------------------------------------------------------------------

func TestLatencyThreshold(t *testing.T) {
	tests := []struct {
		name      string
		p50       time.Duration
		threshold time.Duration
		wantErr   bool
	}{
		{"exceeds", 15 * time.Millisecond, 10 * time.Millisecond, true},
		{"below", 5 * time.Millisecond, 10 * time.Millisecond, false},
		{"exact", 10 * time.Millisecond, 10 * time.Millisecond, false},
		{"disabled", time.Hour, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := bench.CheckLatencyThreshold(tt.p50, tt.threshold)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CheckLatencyThreshold(%v, %v) = %v; wantErr %v", tt.p50, tt.threshold, err, tt.wantErr)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Output formatting
// ---------------------------------------------------------------------------

func sampleRuns() ([]bench.RunResult, bench.Stats) {
	runs := []bench.RunResult{
		{Index: 0, Cold: true, Duration: 8 * time.Millisecond, Label: "dog_bark"},
		{Index: 1, Cold: false, Duration: 2500 * time.Microsecond, Label: "dog_bark"},
	}
	stats := bench.ComputeStats([]time.Duration{runs[0].Duration, runs[1].Duration})

	return runs, stats
}

func TestFormatTable_ContainsHeaders(t *testing.T) {
	runs, stats := sampleRuns()

	var buf strings.Builder
	bench.FormatTable(runs, stats, &buf)
	out := buf.String()

	for _, want := range []string{"run", "cold", "ms", "label", "dog_bark", "p95", "2.500", "inferences/s"} {
		if !strings.Contains(strings.ToLower(out), want) {
			t.Errorf("table output missing %q:\n%s", want, out)
		}
	}
}

func TestFormatJSON_IsValidJSON(t *testing.T) {
	runs, stats := sampleRuns()

	var buf bytes.Buffer
	bench.FormatJSON(runs, stats, &buf)

	var report struct {
		Runs []struct {
			Index      int     `json:"index"`
			Cold       bool    `json:"cold"`
			DurationMS float64 `json:"duration_ms"`
			Label      string  `json:"label"`
		} `json:"runs"`
		Stats struct {
			MinMS float64 `json:"min_ms"`
			MaxMS float64 `json:"max_ms"`
		} `json:"stats"`
		Throughput float64 `json:"inferences_per_second"`
	}
	if err := json.Unmarshal(buf.Bytes(), &report); err != nil {
		t.Fatalf("FormatJSON output is not valid JSON: %v\n%s", err, buf.String())
	}

	if len(report.Runs) != 2 || !report.Runs[0].Cold || report.Runs[1].DurationMS != 2.5 {
		t.Errorf("unexpected runs: %+v", report.Runs)
	}

	if report.Stats.MinMS != 2.5 || report.Stats.MaxMS != 8 {
		t.Errorf("unexpected stats: %+v", report.Stats)
	}

	if report.Throughput < 399 || report.Throughput > 401 {
		t.Errorf("throughput = %v; want 400", report.Throughput)
	}
}
