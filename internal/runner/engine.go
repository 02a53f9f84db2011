package runner

import (
	"context"

	"github.com/example/go-tinyml-audio/internal/opset"
)

// Engine is the inference engine the runner drives. Implementations own the
// kernels, the graph interpreter and the memory planner; the runner only
// configures them and moves data in and out.
//
// Errors returned by Load and Predict carry the engine's diagnostic text.
type Engine interface {
	// ConfigureIO sets the flat input and output element counts.
	ConfigureIO(inputLen, outputLen int)
	// RegisterOperation makes a kernel available to the loaded graph.
	RegisterOperation(kind opset.Kind) error
	// BindArena hands the engine its working memory.
	BindArena(arena []byte)
	// Load prepares the compiled model for execution.
	Load(ctx context.Context, model []byte) error
	// Predict executes the graph on one quantized input.
	Predict(ctx context.Context, input []int8) error
	// Output returns the dequantized output value at index i of the last
	// successful prediction.
	Output(i int) float32
}

// Allocator serves the arena. Alloc returns nil when n bytes are not available.
type Allocator interface {
	Alloc(n int) []byte
}

// DefaultHeapLimit is the capacity of the external RAM tier the arena is
// carved from.
const DefaultHeapLimit = 4 << 20

// HeapAllocator allocates from the Go heap up to Limit bytes per request.
// A zero Limit means no limit.
type HeapAllocator struct {
	Limit int
}

// Alloc returns a zeroed buffer of n bytes, or nil if n is not positive or
// exceeds the limit.
func (a HeapAllocator) Alloc(n int) []byte {
	if n <= 0 || (a.Limit > 0 && n > a.Limit) {
		return nil
	}
	return make([]byte, n)
}

// AllocatorFunc adapts a function to Allocator.
type AllocatorFunc func(n int) []byte

func (f AllocatorFunc) Alloc(n int) []byte { return f(n) }
