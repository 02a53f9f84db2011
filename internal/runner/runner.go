// Package runner drives a quantized audio classifier through an external
// inference engine: one-time setup of arena, operation registry and model,
// then repeated predictions that read back dequantized probabilities.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/example/go-tinyml-audio/internal/model"
	"github.com/example/go-tinyml-audio/internal/opset"
)

var (
	// ErrAllocation is returned when the arena cannot be allocated.
	ErrAllocation = errors.New("arena allocation failed")
	// ErrModelLoad is returned when the engine rejects the model, arena or
	// operation set.
	ErrModelLoad = errors.New("model load failed")
	// ErrInvalidInput is returned for absent or mis-sized buffers. The
	// engine is not called.
	ErrInvalidInput = errors.New("invalid input")
	// ErrPrediction is returned when the engine fails during inference.
	// The output buffer must not be relied on.
	ErrPrediction = errors.New("inference failed")
)

// State is the runner lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

const inputSampleLen = 32

type options struct {
	alloc  Allocator
	ops    []opset.Kind
	logger *slog.Logger
}

// Option configures a Runner.
type Option func(*options)

// WithAllocator sets the arena allocator.
func WithAllocator(a Allocator) Option {
	return func(o *options) { o.alloc = a }
}

// WithOperations replaces the registered operation kinds.
func WithOperations(kinds []opset.Kind) Option {
	return func(o *options) { o.ops = append([]opset.Kind(nil), kinds...) }
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Runner owns one engine instance, its arena and the initialization state.
// All methods are safe for concurrent use; calls are serialized.
type Runner struct {
	mu sync.Mutex

	cfg   model.Config
	eng   Engine
	blob  []byte
	alloc Allocator
	ops   []opset.Kind
	log   *slog.Logger

	state State
	arena []byte
}

// New returns an uninitialized runner for the compiled model blob.
func New(cfg model.Config, eng Engine, blob []byte, optFns ...Option) *Runner {
	opts := options{
		alloc:  HeapAllocator{Limit: DefaultHeapLimit},
		ops:    opset.Default(),
		logger: slog.Default(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Runner{
		cfg:   cfg,
		eng:   eng,
		blob:  blob,
		alloc: opts.alloc,
		ops:   opts.ops,
		log:   opts.logger,
	}
}

// State returns the current lifecycle state.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.state
}

// Config returns the model configuration the runner was built with.
func (r *Runner) Config() model.Config {
	return r.cfg
}

// Operations returns the operation kinds registered during initialization.
func (r *Runner) Operations() []opset.Kind {
	return append([]opset.Kind(nil), r.ops...)
}

// ArenaSize returns the size of the bound arena, zero before a successful
// allocation.
func (r *Runner) ArenaSize() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.arena)
}

// Init configures the engine, registers the operation set, allocates and
// binds the arena and loads the model. Once it has succeeded further calls
// return nil without touching the engine. A failed Init may be retried.
func (r *Runner) Init(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.initLocked(ctx)
}

func (r *Runner) initLocked(ctx context.Context) error {
	if r.state == StateReady {
		return nil
	}

	if err := r.cfg.Validate(); err != nil {
		return r.fail(ctx, fmt.Errorf("%w: model config: %w", ErrModelLoad, err))
	}

	if err := opset.NewSet(r.ops).Validate(r.cfg.MaxOps); err != nil {
		return r.fail(ctx, fmt.Errorf("%w: %w", ErrModelLoad, err))
	}

	r.eng.ConfigureIO(r.cfg.InputLen, r.cfg.OutputLen)

	for _, kind := range r.ops {
		if err := r.eng.RegisterOperation(kind); err != nil {
			return r.fail(ctx, fmt.Errorf("%w: register %s: %w", ErrModelLoad, kind, err))
		}
	}

	r.arena = r.alloc.Alloc(r.cfg.ArenaSize)
	if r.arena == nil {
		return r.fail(ctx, fmt.Errorf("%w: %d bytes", ErrAllocation, r.cfg.ArenaSize))
	}
	r.eng.BindArena(r.arena)

	if err := r.eng.Load(ctx, r.blob); err != nil {
		return r.fail(ctx, fmt.Errorf("%w: %w", ErrModelLoad, err))
	}

	r.state = StateReady
	r.log.InfoContext(ctx, "model initialized",
		slog.Int("arena_bytes", len(r.arena)),
		slog.Int("operations", len(r.ops)),
		slog.Int("inputs", r.cfg.InputLen),
		slog.Int("outputs", r.cfg.OutputLen),
	)

	return nil
}

func (r *Runner) fail(ctx context.Context, err error) error {
	r.state = StateFailed
	r.log.ErrorContext(ctx, "model initialization failed", slog.String("error", err.Error()))

	return err
}

// Run classifies one quantized feature buffer. input must hold exactly
// InputLen values and output exactly OutputLen; on success output is
// overwritten with the dequantized probabilities in class order. The runner
// initializes itself first if needed.
func (r *Runner) Run(ctx context.Context, input []int8, output []float32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateReady {
		if err := r.initLocked(ctx); err != nil {
			return err
		}
	}

	if input == nil {
		r.log.ErrorContext(ctx, "input buffer is nil")
		return fmt.Errorf("%w: input buffer is nil", ErrInvalidInput)
	}
	if len(input) != r.cfg.InputLen {
		r.log.ErrorContext(ctx, "input length mismatch", slog.Int("got", len(input)), slog.Int("want", r.cfg.InputLen))
		return fmt.Errorf("%w: input has %d values, want %d", ErrInvalidInput, len(input), r.cfg.InputLen)
	}
	if len(output) != r.cfg.OutputLen {
		r.log.ErrorContext(ctx, "output length mismatch", slog.Int("got", len(output)), slog.Int("want", r.cfg.OutputLen))
		return fmt.Errorf("%w: output has %d slots, want %d", ErrInvalidInput, len(output), r.cfg.OutputLen)
	}

	if r.log.Enabled(ctx, slog.LevelDebug) {
		n := min(inputSampleLen, len(input))
		r.log.DebugContext(ctx, "input sample", slog.Any("values", append([]int8(nil), input[:n]...)))
	}

	if err := r.eng.Predict(ctx, input); err != nil {
		r.log.ErrorContext(ctx, "inference failed", slog.String("error", err.Error()))
		return fmt.Errorf("%w: %w", ErrPrediction, err)
	}

	for i := range output {
		output[i] = r.eng.Output(i)
	}

	r.log.DebugContext(ctx, "model outputs", slog.Any("probabilities", append([]float32(nil), output...)))

	return nil
}
