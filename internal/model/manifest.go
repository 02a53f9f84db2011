package model

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/example/go-tinyml-audio/internal/opset"
	"github.com/example/go-tinyml-audio/internal/quant"
)

const quantTolerance = 1e-6

var shaHexPattern = regexp.MustCompile(`^[a-f0-9]{64}$`)

// TensorInfo describes one graph input or output.
type TensorInfo struct {
	Name  string       `json:"name"`
	DType string       `json:"dtype"`
	Shape []int64      `json:"shape"`
	Quant quant.Params `json:"quant"`
}

// Elements returns the number of values the tensor holds.
func (t TensorInfo) Elements() (int, error) {
	return elementCount(t.Shape)
}

// Manifest describes a compiled model artifact and what it needs from the
// engine that runs it.
type Manifest struct {
	Name       string     `json:"name"`
	Filename   string     `json:"filename"`
	SHA256     string     `json:"sha256,omitempty"`
	Input      TensorInfo `json:"input"`
	Output     TensorInfo `json:"output"`
	Operators  []string   `json:"operators"`
	ArenaBytes int        `json:"arena_bytes,omitempty"`
	Labels     []string   `json:"labels,omitempty"`

	// Path is Filename resolved against the manifest directory.
	Path string `json:"-"`
}

// LoadManifest reads and decodes a manifest file.
func LoadManifest(path string) (Manifest, error) {
	if path == "" {
		return Manifest{}, errors.New("manifest path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read model manifest: %w", err)
	}

	m, err := ParseManifest(data)
	if err != nil {
		return Manifest{}, err
	}

	modelPath := m.Filename
	if !filepath.IsAbs(modelPath) {
		modelPath = filepath.Join(filepath.Dir(path), modelPath)
	}
	m.Path = filepath.Clean(modelPath)

	slog.Info(
		"loaded model manifest",
		"name", m.Name,
		"path", m.Path,
		"input", m.Input.Name,
		"output", m.Output.Name,
		"operators", len(m.Operators),
	)

	return m, nil
}

// ParseManifest decodes manifest JSON and checks required fields.
func ParseManifest(data []byte) (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("decode model manifest: %w", err)
	}

	if m.Filename == "" {
		return Manifest{}, errors.New("model manifest has empty filename")
	}
	if m.Input.Name == "" || m.Output.Name == "" {
		return Manifest{}, errors.New("model manifest must name its input and output tensors")
	}
	if len(m.Operators) == 0 {
		return Manifest{}, errors.New("model manifest declares no operators")
	}
	if m.SHA256 != "" {
		m.SHA256 = strings.ToLower(m.SHA256)
		if !shaHexPattern.MatchString(m.SHA256) {
			return Manifest{}, fmt.Errorf("model manifest sha256 %q is not a hex digest", m.SHA256)
		}
	}
	if m.ArenaBytes < 0 {
		return Manifest{}, fmt.Errorf("model manifest arena_bytes %d is negative", m.ArenaBytes)
	}

	return m, nil
}

// RequiredOps returns the declared operators as kinds.
func (m Manifest) RequiredOps() ([]opset.Kind, error) {
	kinds, err := opset.ParseAll(m.Operators)
	if err != nil {
		return nil, fmt.Errorf("model manifest operators: %w", err)
	}
	return kinds, nil
}

// Check verifies that the manifest describes the artifact cfg was built for.
func (m Manifest) Check(cfg Config) error {
	in, err := m.Input.Elements()
	if err != nil {
		return fmt.Errorf("input %q: %w", m.Input.Name, err)
	}
	if in != cfg.InputLen {
		return fmt.Errorf("input %q has %d elements, want %d", m.Input.Name, in, cfg.InputLen)
	}

	out, err := m.Output.Elements()
	if err != nil {
		return fmt.Errorf("output %q: %w", m.Output.Name, err)
	}
	if out != cfg.OutputLen {
		return fmt.Errorf("output %q has %d elements, want %d", m.Output.Name, out, cfg.OutputLen)
	}

	if !m.Input.Quant.Equal(cfg.InputQuant, quantTolerance) {
		return fmt.Errorf("input quantization %+v does not match %+v", m.Input.Quant, cfg.InputQuant)
	}
	if !m.Output.Quant.Equal(cfg.OutputQuant, quantTolerance) {
		return fmt.Errorf("output quantization %+v does not match %+v", m.Output.Quant, cfg.OutputQuant)
	}

	if len(m.Labels) > 0 && len(m.Labels) != cfg.OutputLen {
		return fmt.Errorf("manifest has %d labels, want %d", len(m.Labels), cfg.OutputLen)
	}

	if _, err := m.RequiredOps(); err != nil {
		return err
	}
	if len(m.Operators) > cfg.MaxOps {
		return fmt.Errorf("manifest declares %d operators, budget is %d", len(m.Operators), cfg.MaxOps)
	}

	if m.ArenaBytes > cfg.ArenaSize {
		return fmt.Errorf("model needs %d arena bytes, configured arena is %d", m.ArenaBytes, cfg.ArenaSize)
	}

	return nil
}

// ClassLabels returns the manifest labels, or DefaultLabels when none are declared.
func (m Manifest) ClassLabels() []string {
	if len(m.Labels) > 0 {
		return append([]string(nil), m.Labels...)
	}
	return Labels()
}

// ReadBlob reads the model file and verifies its checksum when one is pinned.
func (m Manifest) ReadBlob() ([]byte, error) {
	path := m.Path
	if path == "" {
		path = m.Filename
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model %q: %w", m.Name, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("model file %s is empty", path)
	}

	if m.SHA256 != "" {
		actual := blobSHA256(data)
		if actual != m.SHA256 {
			return nil, fmt.Errorf("model %s checksum mismatch: got %s, want %s", path, actual, m.SHA256)
		}
	}

	return data, nil
}

func blobSHA256(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func elementCount(shape []int64) (int, error) {
	if len(shape) == 0 {
		return 0, errors.New("shape is empty")
	}
	count := int64(1)
	for i, dim := range shape {
		if dim < 1 {
			return 0, fmt.Errorf("shape[%d]=%d is not positive", i, dim)
		}
		if count > math.MaxInt64/dim {
			return 0, fmt.Errorf("shape %v overflows element count", shape)
		}
		count *= dim
	}
	if count > int64(math.MaxInt) {
		return 0, fmt.Errorf("shape %v exceeds platform int capacity", shape)
	}
	return int(count), nil
}
