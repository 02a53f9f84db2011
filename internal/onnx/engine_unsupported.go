//go:build (js && wasm) || windows

package onnx

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/example/go-tinyml-audio/internal/opset"
)

var errUnavailable = errors.New("native onnx engine is unavailable on this platform")

// Engine is unavailable on windows and js/wasm builds. The type is kept so
// the package API stays build-compatible.
type Engine struct {
	cfg EngineConfig
}

// NewEngine always returns an error on this platform.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	return nil, fmt.Errorf("%w (model %q)", errUnavailable, cfg.Manifest.Name)
}

func (e *Engine) ConfigureIO(int, int) {}

func (e *Engine) RegisterOperation(opset.Kind) error { return errUnavailable }

func (e *Engine) BindArena([]byte) {}

func (e *Engine) Load(context.Context, []byte) error { return errUnavailable }

func (e *Engine) Predict(context.Context, []int8) error { return errUnavailable }

func (e *Engine) Output(int) float32 { return float32(math.NaN()) }

// Close is a no-op on this platform.
func (e *Engine) Close() {}
