// Package testutil provides shared skip helpers for integration tests.
//
// Each helper calls t.Skip with a clear human-readable reason when the named
// prerequisite is absent, so integration tests remain runnable in partial
// environments without failing noisily.
//
// Typical usage:
//
//	func TestMyIntegration(t *testing.T) {
//	    lib := testutil.RequireONNXRuntime(t)
//	    m := testutil.RequireModel(t)
//	    ...
//	}
package testutil

import (
	"os"
	"testing"

	"github.com/example/go-tinyml-audio/internal/model"
)

// ManifestEnv names the model manifest used by integration tests.
const ManifestEnv = "TINYML_TEST_MANIFEST"

// RequireONNXRuntime skips the test if no ONNX Runtime shared library can be
// located and returns its path otherwise. It checks (in order): the
// TINYML_ORT_LIB env var, the ORT_LIBRARY_PATH env var, then common system
// library paths.
func RequireONNXRuntime(tb testing.TB) string {
	tb.Helper()

	for _, env := range []string{"TINYML_ORT_LIB", "ORT_LIBRARY_PATH"} {
		if p := os.Getenv(env); p != "" {
			// #nosec G703 -- Integration tests intentionally accept explicit env-provided local library paths.
			if _, err := os.Stat(p); err == nil {
				return p
			}

			tb.Skipf("ONNX Runtime library not found at %s=%q", env, p)

			return ""
		}
	}

	candidates := []string{
		"/usr/lib/libonnxruntime.so",
		"/usr/local/lib/libonnxruntime.so",
		"/usr/lib/x86_64-linux-gnu/libonnxruntime.so",
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	tb.Skip("ONNX Runtime shared library not found; set TINYML_ORT_LIB or ORT_LIBRARY_PATH")

	return ""
}

// RequireModel skips the test unless TINYML_TEST_MANIFEST points at a
// readable manifest whose model file exists and matches the default config.
func RequireModel(tb testing.TB) model.Manifest {
	tb.Helper()

	path := os.Getenv(ManifestEnv)
	if path == "" {
		tb.Skipf("no model manifest; set %s", ManifestEnv)

		return model.Manifest{}
	}

	m, err := model.LoadManifest(path)
	if err != nil {
		tb.Skipf("model manifest not usable: %v", err)

		return model.Manifest{}
	}

	if err := m.Check(model.Default()); err != nil {
		tb.Skipf("model manifest does not match the classifier config: %v", err)

		return model.Manifest{}
	}

	if _, err := os.Stat(m.Path); err != nil {
		tb.Skipf("model file not available: %v", err)
	}

	return m
}

// WriteFile writes data to path and fails the test on error.
func WriteFile(tb testing.TB, path string, data []byte) {
	tb.Helper()

	if err := os.WriteFile(path, data, 0o644); err != nil {
		tb.Fatalf("write %s: %v", path, err)
	}
}
