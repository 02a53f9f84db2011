package main

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/example/go-tinyml-audio/internal/classify"
	"github.com/example/go-tinyml-audio/internal/model"
	"github.com/example/go-tinyml-audio/internal/quant"
)

// features is one classifier input read from disk, in either encoding.
type features struct {
	int8s    []int8
	float32s []float32
}

func newClassifyCmd() *cobra.Command {
	var (
		featuresPath string
		format       string
		neutral      bool
		top          int
		asJSON       bool
	)

	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Classify one log-mel feature vector",
		Long: "Classify reads a 128x62 log-mel spectrogram, either as raw int8 values already\n" +
			"quantized with the model input parameters or as little-endian float32 values,\n" +
			"and prints the predicted sound class.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			mcfg := model.Default()

			var in features
			switch {
			case neutral && featuresPath != "":
				return errors.New("--neutral and --features are mutually exclusive")
			case neutral:
				in.int8s = quant.Fill(mcfg.InputLen, mcfg.InputQuant.Neutral())
			case featuresPath != "":
				in, err = readFeatures(featuresPath, format, cmd.InOrStdin())
				if err != nil {
					return err
				}
			default:
				return errors.New("--features or --neutral is required")
			}

			svc, err := classify.NewService(cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			var res classify.Result
			if in.float32s != nil {
				res, err = svc.ClassifyFloat(cmdContext(cmd), in.float32s)
			} else {
				res, err = svc.Classify(cmdContext(cmd), in.int8s)
			}
			if err != nil {
				return err
			}

			if asJSON {
				return writeResultJSON(cmd.OutOrStdout(), res, top)
			}
			return writeResultText(cmd.OutOrStdout(), res, top)
		},
	}

	cmd.Flags().StringVar(&featuresPath, "features", "", "Feature file to classify, or - for stdin")
	cmd.Flags().StringVar(&format, "format", "int8", "Feature file encoding: int8|float32")
	cmd.Flags().BoolVar(&neutral, "neutral", false, "Classify the neutral (all zero point) input instead of a file")
	cmd.Flags().IntVar(&top, "top", 3, "Number of ranked classes to print (0 = all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")

	return cmd
}

// readFeatures loads raw int8 bytes or little-endian float32 values from
// path. A path of - reads from stdin.
func readFeatures(path, format string, stdin io.Reader) (features, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return features{}, fmt.Errorf("read features: %w", err)
	}

	switch strings.ToLower(format) {
	case "int8":
		out := make([]int8, len(data))
		for i, b := range data {
			out[i] = int8(b)
		}
		return features{int8s: out}, nil
	case "float32":
		if len(data)%4 != 0 {
			return features{}, fmt.Errorf("float32 feature file has %d bytes, not a multiple of 4", len(data))
		}
		out := make([]float32, len(data)/4)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
		}
		return features{float32s: out}, nil
	default:
		return features{}, fmt.Errorf("--format must be 'int8' or 'float32', got %q", format)
	}
}

func writeResultText(w io.Writer, res classify.Result, top int) error {
	if _, err := fmt.Fprintf(w, "%s (class %d, %.1f%%)\n", res.Label, res.Index, 100*res.Confidence); err != nil {
		return err
	}
	for i, s := range res.Top(top) {
		if _, err := fmt.Fprintf(w, "%2d. %-18s %6.2f%%\n", i+1, s.Label, 100*s.Probability); err != nil {
			return err
		}
	}
	return nil
}

func writeResultJSON(w io.Writer, res classify.Result, top int) error {
	res.Ranked = res.Top(top)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
