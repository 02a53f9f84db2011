// Package opset declares the tensor operation kinds a compiled classifier
// graph may invoke and validates registries built from them.
package opset

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is a tensor operation tag, spelled like the TFLite builtin operator.
type Kind string

const (
	Conv2D          Kind = "CONV_2D"
	DepthwiseConv2D Kind = "DEPTHWISE_CONV_2D"
	Reshape         Kind = "RESHAPE"
	Transpose       Kind = "TRANSPOSE"
	Concatenation   Kind = "CONCATENATION"
	AveragePool2D   Kind = "AVERAGE_POOL_2D"
	Add             Kind = "ADD"
	Relu            Kind = "RELU"
	Quantize        Kind = "QUANTIZE"
	Dequantize      Kind = "DEQUANTIZE"
	FullyConnected  Kind = "FULLY_CONNECTED"
	Softmax         Kind = "SOFTMAX"
	StridedSlice    Kind = "STRIDED_SLICE"
	Shape           Kind = "SHAPE"
	MaxPool2D       Kind = "MAX_POOL_2D"
	Mean            Kind = "MEAN"
	Pack            Kind = "PACK"
)

// known lists every supported kind in registration order.
var known = []Kind{
	Conv2D,
	DepthwiseConv2D,
	Reshape,
	Transpose,
	Concatenation,
	AveragePool2D,
	Add,
	Relu,
	Quantize,
	Dequantize,
	FullyConnected,
	Softmax,
	StridedSlice,
	Shape,
	MaxPool2D,
	Mean,
	Pack,
}

// Default returns the operation kinds required by the audio classifier graph,
// in the order they are registered.
func Default() []Kind {
	return append([]Kind(nil), known...)
}

// Known reports whether k is a supported kind.
func Known(k Kind) bool {
	for _, c := range known {
		if c == k {
			return true
		}
	}
	return false
}

// Parse converts a case-insensitive tag into a Kind.
func Parse(raw string) (Kind, error) {
	k := Kind(strings.ToUpper(strings.TrimSpace(raw)))
	if k == "" {
		return "", errors.New("empty operation kind")
	}
	if !Known(k) {
		return "", fmt.Errorf("unknown operation kind %q", raw)
	}
	return k, nil
}

// ParseAll parses a list of tags, stopping at the first invalid one.
func ParseAll(raw []string) ([]Kind, error) {
	out := make([]Kind, 0, len(raw))
	for _, r := range raw {
		k, err := Parse(r)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, nil
}

// Set is an ordered registry of operation kinds.
type Set struct {
	kinds []Kind
	index map[Kind]struct{}
}

// NewSet builds a set from kinds as given. Duplicates are kept so that
// Validate can report them.
func NewSet(kinds []Kind) *Set {
	s := &Set{index: make(map[Kind]struct{}, len(kinds))}
	s.kinds = append(s.kinds, kinds...)
	for _, k := range kinds {
		s.index[k] = struct{}{}
	}
	return s
}

// Add registers k. Adding a kind twice is a no-op; it reports whether k was new.
func (s *Set) Add(k Kind) bool {
	if s.index == nil {
		s.index = make(map[Kind]struct{})
	}
	if _, ok := s.index[k]; ok {
		return false
	}
	s.index[k] = struct{}{}
	s.kinds = append(s.kinds, k)
	return true
}

// Len returns the number of registrations, duplicates included.
func (s *Set) Len() int {
	return len(s.kinds)
}

// Contains reports whether k is registered.
func (s *Set) Contains(k Kind) bool {
	_, ok := s.index[k]
	return ok
}

// Kinds returns the registered kinds in order.
func (s *Set) Kinds() []Kind {
	return append([]Kind(nil), s.kinds...)
}

// Strings returns the registered kinds as plain strings.
func (s *Set) Strings() []string {
	out := make([]string, len(s.kinds))
	for i, k := range s.kinds {
		out[i] = string(k)
	}
	return out
}

// Validate checks the set against an operation budget. Empty, unknown and
// duplicate kinds are rejected, as is a set larger than budget.
func (s *Set) Validate(budget int) error {
	if len(s.kinds) == 0 {
		return errors.New("operation set is empty")
	}
	if budget > 0 && len(s.kinds) > budget {
		return fmt.Errorf("operation set has %d kinds, budget is %d", len(s.kinds), budget)
	}
	seen := make(map[Kind]struct{}, len(s.kinds))
	for i, k := range s.kinds {
		if !Known(k) {
			return fmt.Errorf("operation[%d]: unknown kind %q", i, k)
		}
		if _, dup := seen[k]; dup {
			return fmt.Errorf("operation[%d]: duplicate kind %q", i, k)
		}
		seen[k] = struct{}{}
	}
	return nil
}

// Missing returns the kinds in required that are not registered, in the
// order they appear in required.
func (s *Set) Missing(required []Kind) []Kind {
	var out []Kind
	for _, k := range required {
		if !s.Contains(k) {
			out = append(out, k)
		}
	}
	return out
}

// Join renders kinds as a comma separated list.
func Join(kinds []Kind) string {
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = string(k)
	}
	return strings.Join(parts, ",")
}
