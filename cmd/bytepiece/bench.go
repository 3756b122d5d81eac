package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/example/go-bytepiece/internal/bench"
	"github.com/example/go-bytepiece/internal/config"
	"github.com/example/go-bytepiece/internal/tokenizer"
	"github.com/spf13/cobra"
)

// sampleParagraph is repeated to build the corpus when --input is not set.
const sampleParagraph = "今天天气不错，我们一起去公园散步吧。\n" +
	"The quick brown fox jumps over the lazy dog; 0123456789.\n" +
	"Ünïcödé text, emoji 🙂 and tabs\tmixed in.\n\n"

func newBenchCmd() *cobra.Command {
	var (
		input         string
		sizes         []int
		runs          int
		format        string
		minThroughput float64
		cpuProfile    string
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Benchmark encode throughput, optionally against a SentencePiece baseline",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if runs < 1 {
				return fmt.Errorf("--runs must be at least 1")
			}
			if format != "table" && format != "json" {
				return fmt.Errorf("--format must be 'table' or 'json'")
			}
			for _, n := range sizes {
				if n < 1 {
					return fmt.Errorf("--sizes entries must be positive, got %d", n)
				}
			}

			text, err := benchCorpus(input, sizes)
			if err != nil {
				return err
			}

			stop, err := bench.StartCPUProfile(cpuProfile)
			if err != nil {
				return err
			}

			series, err := runBench(cmd.Context(), cfg, text, sizes, runs)
			if stopErr := stop(); stopErr != nil && err == nil {
				err = stopErr
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch format {
			case "json":
				bench.FormatJSON(series, out)
			default:
				bench.FormatTable(series, out)
			}

			return bench.CheckThroughputFloor(meanThroughput(series, "bytepiece"), minThroughput)
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "UTF-8 text file to benchmark on (default: built-in sample)")
	cmd.Flags().IntSliceVar(&sizes, "sizes", bench.DefaultSizes, "Input prefix lengths in characters")
	cmd.Flags().IntVar(&runs, "runs", 5, "Number of runs per size")
	cmd.Flags().StringVar(&format, "format", "table", "Output format: table|json")
	cmd.Flags().Float64Var(&minThroughput, "min-throughput", 0, "Exit non-zero if mean bytepiece MB/s is below this value (0 = disabled)")
	cmd.Flags().StringVar(&cpuProfile, "cpuprofile", "", "Write a CPU profile of the benchmark to this file")

	return cmd
}

func benchCorpus(path string, sizes []int) (string, error) {
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read bench input: %w", err)
		}
		if !utf8.Valid(b) {
			return "", fmt.Errorf("bench input %s is not valid UTF-8", path)
		}
		return string(b), nil
	}

	want := 0
	for _, n := range sizes {
		want = max(want, n)
	}

	per := utf8.RuneCountInString(sampleParagraph)

	return strings.Repeat(sampleParagraph, want/per+1), nil
}

func runBench(ctx context.Context, cfg config.Config, text string, sizes []int, runs int) ([]bench.Series, error) {
	tok, err := openTokenizer(cfg)
	if err != nil {
		return nil, err
	}

	series, err := bench.RunSizes(ctx, "bytepiece", tok.Bound(encodeOptions(cfg)), text, sizes, runs)
	if err != nil {
		return nil, err
	}

	if cfg.Paths.BaselineModelPath == "" {
		return series, nil
	}

	sp, err := tokenizer.NewSentencePiece(cfg.Paths.BaselineModelPath)
	if err != nil {
		return nil, fmt.Errorf("load baseline: %w", err)
	}

	slog.Debug("benchmarking baseline", "path", cfg.Paths.BaselineModelPath)

	base, err := bench.RunSizes(ctx, "sentencepiece", sp, text, sizes, runs)
	if err != nil {
		return nil, err
	}

	return append(series, base...), nil
}

// meanThroughput averages MeanThroughput over the series of one encoder.
func meanThroughput(series []bench.Series, encoder string) float64 {
	var (
		sum float64
		n   int
	)

	for _, s := range series {
		if s.Encoder != encoder {
			continue
		}
		sum += s.MeanThroughput()
		n++
	}

	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
