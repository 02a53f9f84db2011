//go:build !(js && wasm) && !windows

package onnx

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/example/go-tinyml-audio/internal/model"
	"github.com/example/go-tinyml-audio/internal/quant"
	"github.com/example/go-tinyml-audio/internal/runner"
	"github.com/example/go-tinyml-audio/internal/testutil"
)

func TestEngineNeutralInputThroughRunner(t *testing.T) {
	lib := testutil.RequireONNXRuntime(t)
	m := testutil.RequireModel(t)

	blob, err := m.ReadBlob()
	if err != nil {
		t.Fatalf("ReadBlob: %v", err)
	}

	eng, err := NewEngine(EngineConfig{LibraryPath: lib, Manifest: m})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer eng.Close()

	cfg := model.Default()
	r := runner.New(cfg, eng, blob, runner.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	input := quant.Fill(cfg.InputLen, cfg.InputQuant.Neutral())
	first := make([]float32, cfg.OutputLen)

	if err := r.Run(context.Background(), input, first); err != nil {
		t.Fatalf("Run: %v", err)
	}

	testutil.AssertProbabilities(t, first, cfg.OutputLen, 1e-2)

	again := make([]float32, cfg.OutputLen)
	if err := r.Run(context.Background(), input, again); err != nil {
		t.Fatalf("second Run: %v", err)
	}

	for i := range first {
		if math.Float32bits(first[i]) != math.Float32bits(again[i]) {
			t.Fatalf("out[%d] changed between runs: %v vs %v", i, first[i], again[i])
		}
	}
}

func TestEngineRejectsCorruptBlob(t *testing.T) {
	lib := testutil.RequireONNXRuntime(t)
	m := testutil.RequireModel(t)

	eng, err := NewEngine(EngineConfig{LibraryPath: lib, Manifest: m})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer eng.Close()

	r := runner.New(model.Default(), eng, []byte("definitely not onnx"),
		runner.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	err = r.Init(context.Background())
	if err == nil || err.Error() == "" {
		t.Fatalf("Init error = %v; want load diagnostic", err)
	}

	if r.State() != runner.StateFailed {
		t.Fatalf("State() = %s; want failed", r.State())
	}
}
