// Package doctor provides environment preflight checks for tinyml.
package doctor

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/example/go-tinyml-audio/internal/model"
	"github.com/example/go-tinyml-audio/internal/opset"
)

// PassMark and FailMark are the prefix symbols printed for each check result.
const (
	PassMark = "✓"
	FailMark = "✗"
)

// VersionFunc returns a version string or an error if the component is unavailable.
type VersionFunc func() (string, error)

// Config holds injectable dependencies for each doctor check.
type Config struct {
	// RuntimeVersion locates the ONNX Runtime library and reports its version.
	RuntimeVersion VersionFunc
	// SkipRuntime skips the ONNX Runtime checks.
	SkipRuntime bool
	// APIVersion is the ORT C API version the engine will request. ORT 1.N
	// serves API versions up to N.
	APIVersion uint32

	// ManifestPath is the model manifest to verify. Empty skips model checks.
	ManifestPath string
	Model        model.Config
	// Operations is the set the runner registers before loading.
	Operations []opset.Kind
	// HeapLimit is the arena allocation cap. Zero means unlimited.
	HeapLimit int

	// Smoke, when set, runs one inference on neutral input.
	Smoke func() error
}

// Result collects the outcome of all checks.
type Result struct {
	failures []string
}

// Failed returns true if any check failed.
func (r *Result) Failed() bool { return len(r.failures) > 0 }

// Failures returns the list of failure messages.
func (r *Result) Failures() []string { return append([]string(nil), r.failures...) }

// AddFailure appends an external failure message to the result.
func (r *Result) AddFailure(msg string) { r.failures = append(r.failures, msg) }

func (r *Result) fail(msg string) { r.failures = append(r.failures, msg) }

// Run executes all configured checks and writes human-readable output to w.
// Each check line is prefixed with PassMark or FailMark.
func Run(cfg Config, w io.Writer) Result {
	var res Result

	// ---- ONNX Runtime -----------------------------------------------------
	if cfg.SkipRuntime {
		fmt.Fprintf(w, "%s onnx runtime: skipped\n", PassMark)
	} else {
		ver, err := cfg.RuntimeVersion()
		if err != nil {
			res.fail(fmt.Sprintf("onnx runtime: %v", err))
			fmt.Fprintf(w, "%s onnx runtime: not found (%v)\n", FailMark, err)
		} else if verErr := checkRuntimeVersion(ver, cfg.APIVersion); verErr != nil {
			res.fail(fmt.Sprintf("onnx runtime: %v", verErr))
			fmt.Fprintf(w, "%s onnx runtime %s: %v\n", FailMark, ver, verErr)
		} else {
			fmt.Fprintf(w, "%s onnx runtime: %s\n", PassMark, ver)
		}
	}

	// ---- operation registry -----------------------------------------------
	ops := opset.NewSet(cfg.Operations)
	if err := ops.Validate(cfg.Model.MaxOps); err != nil {
		res.fail(fmt.Sprintf("operation registry: %v", err))
		fmt.Fprintf(w, "%s operation registry: %v\n", FailMark, err)
	} else {
		fmt.Fprintf(w, "%s operation registry: %d of %d slots\n", PassMark, ops.Len(), cfg.Model.MaxOps)
	}

	// ---- arena budget -----------------------------------------------------
	if cfg.HeapLimit > 0 && cfg.Model.ArenaSize > cfg.HeapLimit {
		res.fail(fmt.Sprintf("arena: %d bytes exceeds heap limit %d", cfg.Model.ArenaSize, cfg.HeapLimit))
		fmt.Fprintf(w, "%s arena: %d bytes exceeds heap limit %d\n", FailMark, cfg.Model.ArenaSize, cfg.HeapLimit)
	} else {
		fmt.Fprintf(w, "%s arena: %d bytes\n", PassMark, cfg.Model.ArenaSize)
	}

	// ---- model ------------------------------------------------------------
	if cfg.ManifestPath == "" {
		fmt.Fprintf(w, "%s model: skipped (no manifest configured)\n", PassMark)
		return res
	}

	if !checkModel(cfg, ops, w, &res) {
		return res
	}

	// ---- smoke inference --------------------------------------------------
	switch {
	case cfg.Smoke == nil:
		fmt.Fprintf(w, "%s smoke inference: skipped\n", PassMark)
	case res.Failed():
		fmt.Fprintf(w, "%s smoke inference: skipped (earlier checks failed)\n", FailMark)
	default:
		if err := cfg.Smoke(); err != nil {
			res.fail(fmt.Sprintf("smoke inference: %v", err))
			fmt.Fprintf(w, "%s smoke inference: %v\n", FailMark, err)
		} else {
			fmt.Fprintf(w, "%s smoke inference: ok\n", PassMark)
		}
	}

	return res
}

// checkModel reports on the manifest and model file. It returns false when
// later checks cannot run.
func checkModel(cfg Config, ops *opset.Set, w io.Writer, res *Result) bool {
	m, err := model.LoadManifest(cfg.ManifestPath)
	if err != nil {
		res.fail(fmt.Sprintf("model manifest: %v", err))
		fmt.Fprintf(w, "%s model manifest %s: %v\n", FailMark, cfg.ManifestPath, err)
		return false
	}
	fmt.Fprintf(w, "%s model manifest: %s (%s)\n", PassMark, cfg.ManifestPath, m.Name)

	if err := m.Check(cfg.Model); err != nil {
		res.fail(fmt.Sprintf("model shape: %v", err))
		fmt.Fprintf(w, "%s model shape: %v\n", FailMark, err)
	} else {
		fmt.Fprintf(w, "%s model shape: %d inputs, %d outputs\n", PassMark, cfg.Model.InputLen, cfg.Model.OutputLen)
	}

	if required, err := m.RequiredOps(); err == nil {
		if missing := ops.Missing(required); len(missing) > 0 {
			res.fail(fmt.Sprintf("model operators: missing operation(s): %s", opset.Join(missing)))
			fmt.Fprintf(w, "%s model operators: missing operation(s): %s\n", FailMark, opset.Join(missing))
		} else {
			fmt.Fprintf(w, "%s model operators: %s\n", PassMark, opset.Join(required))
		}
	}

	blob, err := m.ReadBlob()
	if err != nil {
		res.fail(fmt.Sprintf("model file: %v", err))
		fmt.Fprintf(w, "%s model file: %v\n", FailMark, err)
		return false
	}

	if m.SHA256 != "" {
		fmt.Fprintf(w, "%s model file: %s (%d bytes, checksum ok)\n", PassMark, m.Path, len(blob))
	} else {
		fmt.Fprintf(w, "%s model file: %s (%d bytes, no checksum pinned)\n", PassMark, m.Path, len(blob))
	}

	return true
}

// checkRuntimeVersion returns an error if ver is an ORT 1.x release too old
// to serve apiVersion. Unknown versions pass.
func checkRuntimeVersion(ver string, apiVersion uint32) error {
	if ver == "" || ver == "unknown" {
		return nil
	}

	major, minor, err := parseMajorMinor(ver)
	if err != nil {
		return fmt.Errorf("cannot parse %q: %w", ver, err)
	}
	if major != 1 {
		return fmt.Errorf("requires ONNX Runtime 1.x, got %d", major)
	}
	if apiVersion > 0 && minor < int(apiVersion) {
		return fmt.Errorf("API version %d requires ONNX Runtime >=1.%d, got 1.%d", apiVersion, apiVersion, minor)
	}
	return nil
}

func parseMajorMinor(ver string) (major, minor int, err error) {
	parts := strings.SplitN(ver, ".", 3)
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("unexpected version format %q", ver)
	}
	major, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("bad major in %q: %w", ver, err)
	}
	minor, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("bad minor in %q: %w", ver, err)
	}
	return major, minor, nil
}
