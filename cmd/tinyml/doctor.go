package main

import (
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/go-tinyml-audio/internal/classify"
	"github.com/example/go-tinyml-audio/internal/config"
	"github.com/example/go-tinyml-audio/internal/doctor"
	"github.com/example/go-tinyml-audio/internal/model"
	"github.com/example/go-tinyml-audio/internal/onnx"
	"github.com/example/go-tinyml-audio/internal/opset"
	"github.com/example/go-tinyml-audio/internal/quant"
)

func newDoctorCmd() *cobra.Command {
	var skipSmoke bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run local runtime and model checks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()

			dcfg := doctor.Config{
				RuntimeVersion: func() (string, error) {
					return probeRuntime(cfg)
				},
				APIVersion:   cfg.Runtime.ORTAPIVersion,
				ManifestPath: cfg.Paths.ManifestPath,
				Model:        model.Default(),
				Operations:   opset.Default(),
				HeapLimit:    cfg.Runtime.HeapLimit,
			}

			// Skip gracefully when no manifest is present (model not yet exported).
			if _, statErr := os.Stat(cfg.Paths.ManifestPath); os.IsNotExist(statErr) {
				_, _ = fmt.Fprintf(out, "%s model: no manifest at %s\n", doctor.PassMark, cfg.Paths.ManifestPath)
				dcfg.ManifestPath = ""
			}

			if !skipSmoke {
				dcfg.Smoke = func() error {
					return smokeTest(cmd, cfg)
				}
			}

			result := doctor.Run(dcfg, out)

			if result.Failed() {
				for _, f := range result.Failures() {
					// #nosec G705 -- Writes plain diagnostic text to stderr for CLI output, not HTML rendering.
					fmt.Fprintf(cmd.ErrOrStderr(), "FAIL: %s\n", f)
				}

				return errors.New("doctor checks failed")
			}

			_, _ = fmt.Fprintln(out, "doctor checks passed")

			return nil
		},
	}

	cmd.Flags().BoolVar(&skipSmoke, "skip-smoke", false, "Skip the neutral-input inference check")

	return cmd
}

// probeRuntime reports the located ORT library and its version.
func probeRuntime(cfg config.Config) (string, error) {
	info, err := onnx.DetectRuntime(onnx.RuntimeOptions{
		LibraryPath: cfg.Runtime.ORTLibraryPath,
		Version:     cfg.Runtime.ORTVersion,
	})
	if err != nil {
		return "", err
	}
	return info.Version, nil
}

// smokeTest classifies the neutral input once and checks the output is usable.
func smokeTest(cmd *cobra.Command, cfg config.Config) error {
	svc, err := classify.NewService(cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	mcfg := svc.Config()

	res, err := svc.Classify(cmdContext(cmd), quant.Fill(mcfg.InputLen, mcfg.InputQuant.Neutral()))
	if err != nil {
		return err
	}

	return checkProbabilities(res.Probabilities)
}

// probabilitySumTolerance bounds |sum-1| for a softmax output.
const probabilitySumTolerance = 1e-2

// checkProbabilities rejects outputs that are empty, not finite, outside
// [0, 1] or that do not sum to 1.
func checkProbabilities(probs []float32) error {
	if len(probs) == 0 {
		return errors.New("model produced no outputs")
	}
	var sum float64
	for i, p := range probs {
		v := float64(p)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("output %d is %v", i, p)
		}
		if v < 0 || v > 1 {
			return fmt.Errorf("output %d is %v, outside [0, 1]", i, p)
		}
		sum += v
	}
	if math.Abs(sum-1) > probabilitySumTolerance {
		return fmt.Errorf("outputs sum to %.4f, want 1", sum)
	}
	return nil
}
