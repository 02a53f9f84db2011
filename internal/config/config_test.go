package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
)

// fakeBinder wraps a pflag.FlagSet to satisfy the flagBinder interface.
type fakeBinder struct {
	fs *pflag.FlagSet
}

func (f *fakeBinder) Flags() *pflag.FlagSet { return f.fs }

// newFlagBinder creates a FlagSet with all config flags registered at their defaults.
func newFlagBinder(defaults Config) *fakeBinder {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, defaults)

	return &fakeBinder{fs: fs}
}

func clearEnv(t *testing.T) {
	t.Helper()

	for _, k := range []string{"TINYML_ORT_LIB", "ORT_LIBRARY_PATH", "TINYML_LOG_LEVEL", "TINYML_SERVER_LISTEN_ADDR"} {
		t.Setenv(k, "")
	}
}

// --- DefaultConfig ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Paths.ManifestPath != "models/manifest.json" {
		t.Errorf("ManifestPath = %q; want %q", cfg.Paths.ManifestPath, "models/manifest.json")
	}

	if cfg.Runtime.ORTAPIVersion != 23 {
		t.Errorf("Runtime.ORTAPIVersion = %d; want 23", cfg.Runtime.ORTAPIVersion)
	}

	if cfg.Runtime.HeapLimit != 4<<20 {
		t.Errorf("Runtime.HeapLimit = %d; want %d", cfg.Runtime.HeapLimit, 4<<20)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("Server.ListenAddr = %q; want %q", cfg.Server.ListenAddr, ":8080")
	}

	if cfg.Server.ShutdownTimeout != 30 {
		t.Errorf("Server.ShutdownTimeout = %d; want 30", cfg.Server.ShutdownTimeout)
	}

	if cfg.Server.RequestTimeout != 10 {
		t.Errorf("Server.RequestTimeout = %d; want 10", cfg.Server.RequestTimeout)
	}

	if cfg.Server.MaxBodyBytes != 1<<20 {
		t.Errorf("Server.MaxBodyBytes = %d; want %d", cfg.Server.MaxBodyBytes, 1<<20)
	}

	if cfg.Server.Workers != 1 {
		t.Errorf("Server.Workers = %d; want 1", cfg.Server.Workers)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q; want %q", cfg.LogLevel, "info")
	}
}

// --- RegisterFlags ---

func TestRegisterFlags(t *testing.T) {
	defaults := DefaultConfig()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, defaults)

	checks := []struct {
		flag string
		want string
	}{
		{"paths-manifest-path", "models/manifest.json"},
		{"ort-lib", ""},
		{"runtime-ort-api-version", "23"},
		{"runtime-heap-limit", "4194304"},
		{"server-listen-addr", ":8080"},
		{"server-workers", "1"},
		{"log-level", "info"},
	}

	for _, c := range checks {
		f := fs.Lookup(c.flag)
		if f == nil {
			t.Errorf("flag %q not registered", c.flag)
			continue
		}

		if f.DefValue != c.want {
			t.Errorf("flag %q default = %q; want %q", c.flag, f.DefValue, c.want)
		}
	}
}

func TestFlagKeysCoverRegisteredFlags(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, DefaultConfig())

	fs.VisitAll(func(f *pflag.Flag) {
		if _, ok := flagKeys[f.Name]; !ok {
			t.Errorf("flag %q has no config key", f.Name)
		}
	})
}

// --- Load ---

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	defaults := DefaultConfig()

	cfg, err := Load(LoadOptions{
		Cmd:      newFlagBinder(defaults),
		Defaults: defaults,
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg != defaults {
		t.Errorf("Load() = %+v; want %+v", cfg, defaults)
	}
}

func TestLoad_FlagOverride(t *testing.T) {
	clearEnv(t)

	defaults := DefaultConfig()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, defaults)

	err := fs.Parse([]string{
		"--paths-manifest-path=/models/other.json",
		"--runtime-heap-limit=0",
		"--runtime-ort-api-version=20",
		"--server-max-body-bytes=2048",
		"--server-workers=3",
		"--log-level=debug",
	})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	cfg, err := Load(LoadOptions{
		Cmd:      &fakeBinder{fs: fs},
		Defaults: defaults,
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Paths.ManifestPath != "/models/other.json" {
		t.Errorf("ManifestPath = %q; want %q", cfg.Paths.ManifestPath, "/models/other.json")
	}

	if cfg.Runtime.HeapLimit != 0 {
		t.Errorf("Runtime.HeapLimit = %d; want 0", cfg.Runtime.HeapLimit)
	}

	if cfg.Runtime.ORTAPIVersion != 20 {
		t.Errorf("Runtime.ORTAPIVersion = %d; want 20", cfg.Runtime.ORTAPIVersion)
	}

	if cfg.Server.MaxBodyBytes != 2048 {
		t.Errorf("Server.MaxBodyBytes = %d; want 2048", cfg.Server.MaxBodyBytes)
	}

	if cfg.Server.Workers != 3 {
		t.Errorf("Server.Workers = %d; want 3", cfg.Server.Workers)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q; want %q", cfg.LogLevel, "debug")
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("TINYML_LOG_LEVEL", "warn")
	t.Setenv("TINYML_SERVER_LISTEN_ADDR", ":9999")

	cfg, err := Load(LoadOptions{
		Defaults: DefaultConfig(),
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q; want %q", cfg.LogLevel, "warn")
	}

	if cfg.Server.ListenAddr != ":9999" {
		t.Errorf("Server.ListenAddr = %q; want %q", cfg.Server.ListenAddr, ":9999")
	}
}

func TestLoad_ORTLibraryEnv(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"tinyml var", map[string]string{"TINYML_ORT_LIB": "/a.so"}, "/a.so"},
		{"generic var", map[string]string{"ORT_LIBRARY_PATH": "/b.so"}, "/b.so"},
		{"tinyml wins", map[string]string{"TINYML_ORT_LIB": "/a.so", "ORT_LIBRARY_PATH": "/b.so"}, "/a.so"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)

			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load(LoadOptions{Defaults: DefaultConfig()})
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}

			if cfg.Runtime.ORTLibraryPath != tt.want {
				t.Errorf("ORTLibraryPath = %q; want %q", cfg.Runtime.ORTLibraryPath, tt.want)
			}
		})
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "tinyml.yaml")

	content := `
log_level: error
paths:
  manifest_path: /srv/models/manifest.json
server:
  listen_addr: ":7777"
  request_timeout: 3
runtime:
  heap_limit: 131072
`

	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	defaults := DefaultConfig()

	cfg, err := Load(LoadOptions{
		Cmd:        newFlagBinder(defaults),
		ConfigFile: cfgFile,
		Defaults:   defaults,
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LogLevel != "error" {
		t.Errorf("LogLevel = %q; want %q", cfg.LogLevel, "error")
	}

	if cfg.Paths.ManifestPath != "/srv/models/manifest.json" {
		t.Errorf("ManifestPath = %q; want %q", cfg.Paths.ManifestPath, "/srv/models/manifest.json")
	}

	if cfg.Server.ListenAddr != ":7777" {
		t.Errorf("Server.ListenAddr = %q; want %q", cfg.Server.ListenAddr, ":7777")
	}

	if cfg.Server.RequestTimeout != 3 {
		t.Errorf("Server.RequestTimeout = %d; want 3", cfg.Server.RequestTimeout)
	}

	if cfg.Runtime.HeapLimit != 131072 {
		t.Errorf("Runtime.HeapLimit = %d; want 131072", cfg.Runtime.HeapLimit)
	}

	// Untouched keys keep their defaults.
	if cfg.Server.ShutdownTimeout != defaults.Server.ShutdownTimeout {
		t.Errorf("Server.ShutdownTimeout = %d; want %d", cfg.Server.ShutdownTimeout, defaults.Server.ShutdownTimeout)
	}
}

func TestLoad_FlagBeatsConfigFile(t *testing.T) {
	clearEnv(t)

	cfgFile := filepath.Join(t.TempDir(), "tinyml.yaml")
	if err := os.WriteFile(cfgFile, []byte("log_level: error\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	defaults := DefaultConfig()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, defaults)

	if err := fs.Parse([]string{"--log-level=debug"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	cfg, err := Load(LoadOptions{Cmd: &fakeBinder{fs: fs}, ConfigFile: cfgFile, Defaults: defaults})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q; want %q", cfg.LogLevel, "debug")
	}
}

func TestLoad_InvalidConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "bad.yaml")

	if err := os.WriteFile(cfgFile, []byte(":\t:bad yaml:::"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err := Load(LoadOptions{
		ConfigFile: cfgFile,
		Defaults:   DefaultConfig(),
	})
	if err == nil {
		t.Error("Load() = nil; want error for invalid config file")
	}
}

func TestLoad_MissingExplicitConfigFile(t *testing.T) {
	_, err := Load(LoadOptions{
		ConfigFile: "/nonexistent/path/tinyml.yaml",
		Defaults:   DefaultConfig(),
	})
	if err == nil {
		t.Error("Load() = nil; want error for missing explicit config file")
	}
}
