//go:build !(js && wasm) && !windows

package onnx

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"

	ort "github.com/shota3506/onnxruntime-purego/onnxruntime"

	"github.com/example/go-tinyml-audio/internal/opset"
)

// Engine runs a quantize/dequantize ONNX export of the classifier through
// ONNX Runtime. It satisfies runner.Engine.
//
// The graph takes float features and quantizes them internally, so Predict
// dequantizes the int8 input with the manifest's input parameters before
// handing it over. The graph ends in a float softmax; outputs are returned
// as produced.
type Engine struct {
	cfg      EngineConfig
	required []opset.Kind

	inputLen  int
	outputLen int
	ops       opset.Set
	arena     []byte

	runtime *ort.Runtime
	env     *ort.Env
	session *ort.Session

	staged  []float32
	outputs []float32
}

// NewEngine validates cfg. Native resources are created by Load.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	required, err := cfg.Manifest.RequiredOps()
	if err != nil {
		return nil, err
	}

	return &Engine{cfg: cfg, required: required}, nil
}

func (e *Engine) ConfigureIO(inputLen, outputLen int) {
	e.inputLen = inputLen
	e.outputLen = outputLen
}

// RegisterOperation records kind. ONNX Runtime ships every kernel, so the
// registry only gates which operators the loaded graph may declare.
func (e *Engine) RegisterOperation(kind opset.Kind) error {
	if !opset.Known(kind) {
		return fmt.Errorf("unsupported operation kind %q", kind)
	}
	e.ops.Add(kind)
	return nil
}

func (e *Engine) BindArena(arena []byte) {
	e.arena = arena
}

// Load checks the registry and arena against the manifest and creates an
// ORT session for the model bytes.
func (e *Engine) Load(_ context.Context, blob []byte) error {
	if len(blob) == 0 {
		return errors.New("model blob is empty")
	}
	if e.inputLen < 1 || e.outputLen < 1 {
		return errors.New("input/output sizes are not configured")
	}

	if missing := e.ops.Missing(e.required); len(missing) > 0 {
		return fmt.Errorf("missing operation(s): %s", opset.Join(missing))
	}

	in, _ := e.cfg.Manifest.Input.Elements()
	if in != e.inputLen {
		return fmt.Errorf("graph input %q has %d elements, configured %d", e.cfg.Manifest.Input.Name, in, e.inputLen)
	}
	out, _ := e.cfg.Manifest.Output.Elements()
	if out < e.outputLen {
		return fmt.Errorf("graph output %q has %d elements, configured %d", e.cfg.Manifest.Output.Name, out, e.outputLen)
	}

	if len(e.arena) < e.inputLen {
		return fmt.Errorf("arena of %d bytes cannot stage %d inputs", len(e.arena), e.inputLen)
	}
	if need := e.cfg.Manifest.ArenaBytes; len(e.arena) < need {
		return fmt.Errorf("arena too small: have %d bytes, model needs %d", len(e.arena), need)
	}

	if err := e.ensureRuntime(); err != nil {
		return err
	}

	path, cleanup, err := writeTempModel(blob)
	if err != nil {
		return err
	}
	defer cleanup()

	e.closeSession()

	session, err := e.runtime.NewSession(e.env, path, nil)
	if err != nil {
		return fmt.Errorf("ort session for %q: %w", e.cfg.Manifest.Name, err)
	}

	e.session = session
	e.staged = make([]float32, e.inputLen)
	e.outputs = make([]float32, 0, e.outputLen)

	return nil
}

// Predict runs the graph on input and keeps the first outputLen values.
func (e *Engine) Predict(ctx context.Context, input []int8) error {
	e.outputs = e.outputs[:0]

	if e.session == nil {
		return errors.New("model is not loaded")
	}
	if len(input) != e.inputLen {
		return fmt.Errorf("input has %d values, graph expects %d", len(input), e.inputLen)
	}

	staging := e.arena[:e.inputLen]
	for i, q := range input {
		staging[i] = byte(q)
	}

	params := e.cfg.Manifest.Input.Quant
	for i, b := range staging {
		e.staged[i] = params.Dequantize(int8(b))
	}

	value, err := ort.NewTensorValue(e.runtime, e.staged, e.cfg.Manifest.Input.Shape)
	if err != nil {
		return fmt.Errorf("input %q: %w", e.cfg.Manifest.Input.Name, err)
	}
	defer value.Close()

	results, err := e.session.Run(ctx, map[string]*ort.Value{e.cfg.Manifest.Input.Name: value})
	if err != nil {
		return fmt.Errorf("run %q: %w", e.cfg.Manifest.Name, err)
	}
	defer closeORTValues(results)

	out, ok := results[e.cfg.Manifest.Output.Name]
	if !ok {
		return fmt.Errorf("graph produced no output %q", e.cfg.Manifest.Output.Name)
	}

	elemType, err := out.GetTensorElementType()
	if err != nil {
		return fmt.Errorf("get element type: %w", err)
	}
	if elemType != ort.ONNXTensorElementDataTypeFloat {
		return fmt.Errorf("output %q has element type %d, want float", e.cfg.Manifest.Output.Name, elemType)
	}

	data, _, err := ort.GetTensorData[float32](out)
	if err != nil {
		return fmt.Errorf("output %q: %w", e.cfg.Manifest.Output.Name, err)
	}
	if len(data) < e.outputLen {
		return fmt.Errorf("output %q has %d values, want %d", e.cfg.Manifest.Output.Name, len(data), e.outputLen)
	}

	e.outputs = append(e.outputs, data[:e.outputLen]...)

	return nil
}

// Output returns value i of the last successful prediction, NaN if absent.
func (e *Engine) Output(i int) float32 {
	if i < 0 || i >= len(e.outputs) {
		return float32(math.NaN())
	}
	return e.outputs[i]
}

// Close releases all ORT resources. Safe to call multiple times.
func (e *Engine) Close() {
	e.closeSession()

	if e.env != nil {
		e.env.Close()
		e.env = nil
	}

	if e.runtime != nil {
		_ = e.runtime.Close()
		e.runtime = nil
	}
}

func (e *Engine) ensureRuntime() error {
	if e.runtime != nil {
		return nil
	}

	runtime, err := ort.NewRuntime(e.cfg.LibraryPath, e.cfg.APIVersion)
	if err != nil {
		return fmt.Errorf("ort runtime (lib=%q api=%d): %w", e.cfg.LibraryPath, e.cfg.APIVersion, err)
	}

	env, err := runtime.NewEnv("tinyml-"+e.cfg.Manifest.Name, ort.LoggingLevelWarning)
	if err != nil {
		_ = runtime.Close()
		return fmt.Errorf("ort env for %q: %w", e.cfg.Manifest.Name, err)
	}

	e.runtime = runtime
	e.env = env

	return nil
}

func (e *Engine) closeSession() {
	if e.session != nil {
		e.session.Close()
		e.session = nil
	}
}

// writeTempModel stores blob in a temporary file, since the binding only
// creates sessions from a path.
func writeTempModel(blob []byte) (string, func(), error) {
	f, err := os.CreateTemp("", "tinyml-*.onnx")
	if err != nil {
		return "", nil, fmt.Errorf("create temp model file: %w", err)
	}

	cleanup := func() { _ = os.Remove(f.Name()) }

	if _, err := f.Write(blob); err != nil {
		_ = f.Close()
		cleanup()
		return "", nil, fmt.Errorf("write model bytes: %w", err)
	}

	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("close temp model file: %w", err)
	}

	return f.Name(), cleanup, nil
}

func closeORTValues(vals map[string]*ort.Value) {
	for _, v := range vals {
		if v != nil {
			v.Close()
		}
	}
}
