package onnx

import (
	"fmt"
	"strings"

	"github.com/example/go-tinyml-audio/internal/model"
)

// DefaultAPIVersion is the ONNX Runtime C API version requested when none is configured.
const DefaultAPIVersion = 23

// EngineConfig holds the ORT library settings and the artifact description.
type EngineConfig struct {
	LibraryPath string
	APIVersion  uint32
	Manifest    model.Manifest
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.APIVersion == 0 {
		c.APIVersion = DefaultAPIVersion
	}
	return c
}

func (c EngineConfig) validate() error {
	if c.LibraryPath == "" {
		return fmt.Errorf("onnx runtime library path is required for model %q", c.Manifest.Name)
	}
	for _, t := range []model.TensorInfo{c.Manifest.Input, c.Manifest.Output} {
		if !isFloatDType(t.DType) {
			return fmt.Errorf("tensor %q has dtype %q; only float graph I/O is supported", t.Name, t.DType)
		}
		if _, err := t.Elements(); err != nil {
			return fmt.Errorf("tensor %q: %w", t.Name, err)
		}
	}
	if _, err := c.Manifest.RequiredOps(); err != nil {
		return err
	}
	return nil
}

func isFloatDType(raw string) bool {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.TrimPrefix(normalized, "tensor(")
	normalized = strings.TrimSuffix(normalized, ")")
	switch normalized {
	case "float", "float32":
		return true
	default:
		return false
	}
}
