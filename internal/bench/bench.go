// Package bench provides benchmarking primitives for the bytepiece bench command.
package bench

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"
)

// Encoder is anything that turns text into token IDs.
type Encoder interface {
	Encode(ctx context.Context, text string) ([]int, error)
}

// DefaultSizes are the input prefix lengths, in characters, measured when
// none are given.
var DefaultSizes = []int{100, 1000, 10000, 100000}

// ---------------------------------------------------------------------------
// Run result and stats
// ---------------------------------------------------------------------------

// RunResult holds the timing of a single Encode call.
type RunResult struct {
	Index      int
	Cold       bool // true for the first run
	Duration   time.Duration
	Bytes      int
	Tokens     int
	Throughput float64 // MB/s
}

// Stats holds aggregate timing statistics across all runs.
type Stats struct {
	Min  time.Duration
	Max  time.Duration
	Mean time.Duration
}

// ComputeStats calculates min, max and mean over a slice of durations.
// An empty slice yields zero Stats.
func ComputeStats(durations []time.Duration) Stats {
	if len(durations) == 0 {
		return Stats{}
	}
	mn, mx := durations[0], durations[0]
	var sum time.Duration
	for _, d := range durations {
		if d < mn {
			mn = d
		}
		if d > mx {
			mx = d
		}
		sum += d
	}
	return Stats{
		Min:  mn,
		Max:  mx,
		Mean: sum / time.Duration(len(durations)),
	}
}

// Series is every run of one encoder over one input size.
type Series struct {
	Encoder string
	Chars   int
	Runs    []RunResult
	Stats   Stats
}

// MeanThroughput is the input size divided by the mean run time, in MB/s.
func (s Series) MeanThroughput() float64 {
	if len(s.Runs) == 0 {
		return 0
	}

	return Throughput(s.Runs[0].Bytes, s.Stats.Mean)
}

// ---------------------------------------------------------------------------
// Measuring
// ---------------------------------------------------------------------------

// Throughput returns n bytes over d in MB/s (10^6 bytes). Returns 0 if d is
// zero to avoid division by zero.
func Throughput(n int, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}

	return float64(n) / 1e6 / d.Seconds()
}

// Prefix returns the first n characters of text, or all of it when shorter.
func Prefix(text string, n int) string {
	if n <= 0 {
		return ""
	}

	i := 0
	for pos := range text {
		if i == n {
			return text[:pos]
		}
		i++
	}

	return text
}

// Run encodes text runs times and records each call.
func Run(ctx context.Context, enc Encoder, text string, runs int) ([]RunResult, error) {
	results := make([]RunResult, 0, runs)

	for i := range runs {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		start := time.Now()
		ids, err := enc.Encode(ctx, text)
		elapsed := time.Since(start)

		if err != nil {
			return results, fmt.Errorf("run %d: %w", i+1, err)
		}

		results = append(results, RunResult{
			Index:      i,
			Cold:       i == 0,
			Duration:   elapsed,
			Bytes:      len(text),
			Tokens:     len(ids),
			Throughput: Throughput(len(text), elapsed),
		})
	}

	return results, nil
}

// RunSizes benchmarks enc on each prefix size of text. Sizes longer than
// text are clamped, and duplicate effective sizes are measured once.
func RunSizes(ctx context.Context, name string, enc Encoder, text string, sizes []int, runs int) ([]Series, error) {
	total := utf8.RuneCountInString(text)
	seen := make(map[int]bool, len(sizes))

	var out []Series

	for _, n := range sizes {
		n = min(n, total)
		if seen[n] {
			continue
		}
		seen[n] = true

		results, err := Run(ctx, enc, Prefix(text, n), runs)
		if err != nil {
			return out, fmt.Errorf("%s at %d chars: %w", name, n, err)
		}

		durations := make([]time.Duration, len(results))
		for i, r := range results {
			durations[i] = r.Duration
		}

		out = append(out, Series{
			Encoder: name,
			Chars:   n,
			Runs:    results,
			Stats:   ComputeStats(durations),
		})
	}

	return out, nil
}

// ---------------------------------------------------------------------------
// Throughput floor gate
// ---------------------------------------------------------------------------

// CheckThroughputFloor returns an error if meanMBps < floor.
// A floor of 0 disables the gate.
func CheckThroughputFloor(meanMBps, floor float64) error {
	if floor <= 0 {
		return nil
	}
	if meanMBps < floor {
		return fmt.Errorf("mean throughput %.3f MB/s below floor %.3f MB/s", meanMBps, floor)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Output formatters
// ---------------------------------------------------------------------------

// FormatTable writes a human-readable ASCII table of bench results to w.
func FormatTable(series []Series, w io.Writer) {
	sb := &strings.Builder{}

	fmt.Fprintf(sb, "%-14s  %8s  %5s  %10s  %10s  %10s  %8s  %10s\n",
		"Encoder", "Chars", "Runs", "Min(ms)", "Mean(ms)", "Max(ms)", "Tokens", "MB/s")
	fmt.Fprintln(sb, strings.Repeat("-", 90))

	for _, s := range series {
		tokens := 0
		if len(s.Runs) > 0 {
			tokens = s.Runs[0].Tokens
		}

		fmt.Fprintf(sb, "%-14s  %8d  %5d  %10.3f  %10.3f  %10.3f  %8d  %10.3f\n",
			s.Encoder,
			s.Chars,
			len(s.Runs),
			ms(s.Stats.Min),
			ms(s.Stats.Mean),
			ms(s.Stats.Max),
			tokens,
			s.MeanThroughput(),
		)
	}

	fmt.Fprint(w, sb.String())
}

func ms(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }

// jsonReport is the top-level JSON structure emitted by FormatJSON.
type jsonReport struct {
	Series []jsonSeries `json:"series"`
}

type jsonSeries struct {
	Encoder string    `json:"encoder"`
	Chars   int       `json:"chars"`
	Runs    []jsonRun `json:"runs"`
	Stats   jsonStats `json:"stats"`
}

type jsonRun struct {
	Index      int     `json:"index"`
	Cold       bool    `json:"cold"`
	DurationMS float64 `json:"duration_ms"`
	Bytes      int     `json:"bytes"`
	Tokens     int     `json:"tokens"`
	MBps       float64 `json:"mb_per_s"`
}

type jsonStats struct {
	MinMS    float64 `json:"min_ms"`
	MeanMS   float64 `json:"mean_ms"`
	MaxMS    float64 `json:"max_ms"`
	MeanMBps float64 `json:"mean_mb_per_s"`
}

// FormatJSON writes a JSON report of bench results to w.
func FormatJSON(series []Series, w io.Writer) {
	jr := jsonReport{Series: make([]jsonSeries, len(series))}

	for i, s := range series {
		js := jsonSeries{
			Encoder: s.Encoder,
			Chars:   s.Chars,
			Runs:    make([]jsonRun, len(s.Runs)),
			Stats: jsonStats{
				MinMS:    ms(s.Stats.Min),
				MeanMS:   ms(s.Stats.Mean),
				MaxMS:    ms(s.Stats.Max),
				MeanMBps: s.MeanThroughput(),
			},
		}
		for j, r := range s.Runs {
			js.Runs[j] = jsonRun{
				Index:      r.Index,
				Cold:       r.Cold,
				DurationMS: ms(r.Duration),
				Bytes:      r.Bytes,
				Tokens:     r.Tokens,
				MBps:       r.Throughput,
			}
		}
		jr.Series[i] = js
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(jr)
}
