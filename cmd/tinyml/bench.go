package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/pprof"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/go-tinyml-audio/internal/bench"
	"github.com/example/go-tinyml-audio/internal/classify"
	"github.com/example/go-tinyml-audio/internal/quant"
)

func newBenchCmd() *cobra.Command {
	var (
		featuresPath string
		inputFormat  string
		runs         int
		format       string
		threshold    time.Duration
		cpuProfile   string
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Benchmark inference latency",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if runs < 1 {
				return errors.New("--runs must be at least 1")
			}
			if format != "table" && format != "json" {
				return errors.New("--format must be 'table' or 'json'")
			}

			svc, err := classify.NewService(cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			classifyOnce, err := benchInput(svc, featuresPath, inputFormat, cmd)
			if err != nil {
				return err
			}

			if cpuProfile != "" {
				f, err := os.Create(cpuProfile)
				if err != nil {
					return fmt.Errorf("create cpu profile: %w", err)
				}
				defer f.Close()

				if err := pprof.StartCPUProfile(f); err != nil {
					return fmt.Errorf("start cpu profile: %w", err)
				}
				defer pprof.StopCPUProfile()
			}

			results, err := bench.Measure(cmdContext(cmd), runs, classifyOnce)
			if err != nil {
				return err
			}

			durations := make([]time.Duration, len(results))
			for i, r := range results {
				durations[i] = r.Duration
			}
			stats := bench.ComputeStats(durations)

			switch format {
			case "json":
				bench.FormatJSON(results, stats, cmd.OutOrStdout())
			default:
				bench.FormatTable(results, stats, cmd.OutOrStdout())
			}

			return bench.CheckLatencyThreshold(stats.P50, threshold)
		},
	}

	cmd.Flags().StringVar(&featuresPath, "features", "", "Feature file to classify on every run (default: neutral input)")
	cmd.Flags().StringVar(&inputFormat, "input-format", "int8", "Feature file encoding: int8|float32")
	cmd.Flags().IntVar(&runs, "runs", 20, "Number of inference runs")
	cmd.Flags().StringVar(&format, "format", "table", "Output format: table|json")
	cmd.Flags().DurationVar(&threshold, "latency-threshold", 0, "Exit non-zero if median latency exceeds this value (0 = disabled)")
	cmd.Flags().StringVar(&cpuProfile, "cpuprofile", "", "Write a CPU profile of the measured runs to this file")

	return cmd
}

// benchInput returns the per-run closure for the chosen input.
func benchInput(svc *classify.Service, path, format string, cmd *cobra.Command) (func(context.Context) (string, error), error) {
	if path == "" {
		mcfg := svc.Config()
		neutral := quant.Fill(mcfg.InputLen, mcfg.InputQuant.Neutral())

		return func(ctx context.Context) (string, error) {
			res, err := svc.Classify(ctx, neutral)
			return res.Label, err
		}, nil
	}

	in, err := readFeatures(path, format, cmd.InOrStdin())
	if err != nil {
		return nil, err
	}

	if in.float32s != nil {
		return func(ctx context.Context) (string, error) {
			res, err := svc.ClassifyFloat(ctx, in.float32s)
			return res.Label, err
		}, nil
	}

	return func(ctx context.Context) (string, error) {
		res, err := svc.Classify(ctx, in.int8s)
		return res.Label, err
	}, nil
}
