// Package classify turns runner output into labelled predictions.
package classify

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/example/go-tinyml-audio/internal/config"
	"github.com/example/go-tinyml-audio/internal/model"
	"github.com/example/go-tinyml-audio/internal/onnx"
	"github.com/example/go-tinyml-audio/internal/runner"
)

// Inferencer is the subset of *runner.Runner the service drives.
type Inferencer interface {
	Init(ctx context.Context) error
	Run(ctx context.Context, input []int8, output []float32) error
	State() runner.State
}

// Score is the probability assigned to one class.
type Score struct {
	Label       string  `json:"label"`
	Index       int     `json:"index"`
	Probability float32 `json:"probability"`
}

// Result is one classification. Ranked is sorted by descending probability,
// ties keep class order.
type Result struct {
	Label         string    `json:"label"`
	Index         int       `json:"index"`
	Confidence    float32   `json:"confidence"`
	Probabilities []float32 `json:"probabilities"`
	Ranked        []Score   `json:"ranked"`
}

// Top returns at most k entries of Ranked. k <= 0 returns all of them.
func (r Result) Top(k int) []Score {
	if k <= 0 || k >= len(r.Ranked) {
		return r.Ranked
	}
	return r.Ranked[:k]
}

// Service maps runner outputs onto class labels.
type Service struct {
	runner Inferencer
	cfg    model.Config
	labels []string
	close  func()
}

// NewService loads the manifest named by cfg, verifies the model file and
// builds an ONNX Runtime backed runner for it. The runner initializes on
// first use.
func NewService(cfg config.Config) (*Service, error) {
	m, err := model.LoadManifest(cfg.Paths.ManifestPath)
	if err != nil {
		return nil, err
	}

	mcfg := model.Default()
	if err := m.Check(mcfg); err != nil {
		return nil, fmt.Errorf("model manifest %s: %w", cfg.Paths.ManifestPath, err)
	}

	blob, err := m.ReadBlob()
	if err != nil {
		return nil, err
	}

	info, err := onnx.DetectRuntime(onnx.RuntimeOptions{
		LibraryPath: cfg.Runtime.ORTLibraryPath,
		Version:     cfg.Runtime.ORTVersion,
	})
	if err != nil {
		return nil, err
	}

	eng, err := onnx.NewEngine(onnx.EngineConfig{
		LibraryPath: info.LibraryPath,
		APIVersion:  cfg.Runtime.ORTAPIVersion,
		Manifest:    m,
	})
	if err != nil {
		return nil, err
	}

	r := runner.New(mcfg, eng, blob,
		runner.WithAllocator(runner.HeapAllocator{Limit: cfg.Runtime.HeapLimit}),
		runner.WithLogger(slog.Default().With("model", m.Name)),
	)

	svc := NewServiceWithRunner(r, mcfg, m.ClassLabels())
	svc.close = eng.Close

	return svc, nil
}

// NewServiceWithRunner wraps an existing runner. A labels slice of the wrong
// length is replaced by generic class names.
func NewServiceWithRunner(r Inferencer, cfg model.Config, labels []string) *Service {
	if len(labels) != cfg.OutputLen {
		labels = make([]string, cfg.OutputLen)
		for i := range labels {
			labels[i] = fmt.Sprintf("class_%d", i)
		}
	} else {
		labels = append([]string(nil), labels...)
	}

	return &Service{runner: r, cfg: cfg, labels: labels}
}

// Init initializes the underlying runner ahead of the first request.
func (s *Service) Init(ctx context.Context) error {
	return s.runner.Init(ctx)
}

// State reports the runner's initialization state.
func (s *Service) State() runner.State {
	return s.runner.State()
}

// Config returns the model configuration the service was built with.
func (s *Service) Config() model.Config {
	return s.cfg
}

// Labels returns a copy of the class labels in output order.
func (s *Service) Labels() []string {
	return append([]string(nil), s.labels...)
}

// Classify runs one quantized feature vector through the model.
func (s *Service) Classify(ctx context.Context, features []int8) (Result, error) {
	probs := make([]float32, s.cfg.OutputLen)
	if err := s.runner.Run(ctx, features, probs); err != nil {
		return Result{}, err
	}

	return s.result(probs), nil
}

// ClassifyFloat quantizes a float log-mel spectrogram with the input
// parameters and classifies it.
func (s *Service) ClassifyFloat(ctx context.Context, logMel []float32) (Result, error) {
	if len(logMel) != s.cfg.InputLen {
		return Result{}, fmt.Errorf("%w: have %d features, want %d", runner.ErrInvalidInput, len(logMel), s.cfg.InputLen)
	}

	features := make([]int8, len(logMel))
	if err := s.cfg.InputQuant.QuantizeInto(features, logMel); err != nil {
		return Result{}, fmt.Errorf("%w: %w", runner.ErrInvalidInput, err)
	}

	return s.Classify(ctx, features)
}

// Close releases the inference engine. It is safe to call more than once.
func (s *Service) Close() {
	if s.close != nil {
		s.close()
		s.close = nil
	}
}

func (s *Service) result(probs []float32) Result {
	ranked := make([]Score, len(probs))
	for i, p := range probs {
		ranked[i] = Score{Label: s.labels[i], Index: i, Probability: p}
	}

	slices.SortStableFunc(ranked, func(a, b Score) int {
		switch {
		case a.Probability > b.Probability:
			return -1
		case a.Probability < b.Probability:
			return 1
		default:
			return 0
		}
	})

	best := ranked[0]

	return Result{
		Label:         best.Label,
		Index:         best.Index,
		Confidence:    best.Probability,
		Probabilities: probs,
		Ranked:        ranked,
	}
}
