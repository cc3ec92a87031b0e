package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/avcapd/avcapd/internal/config"
)

// TestRun verifies basic command routing.
func TestRun(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
		errMsg  string
	}{
		{
			name:    "no arguments shows help",
			args:    []string{},
			wantErr: false,
		},
		{
			name:    "help command",
			args:    []string{"help"},
			wantErr: false,
		},
		{
			name:    "version command",
			args:    []string{"version"},
			wantErr: false,
		},
		{
			name:    "unknown command",
			args:    []string{"unknown-command"},
			wantErr: true,
			errMsg:  "unknown command",
		},
		{
			name:    "validate without args uses default path",
			args:    []string{"validate"},
			wantErr: true, // default config doesn't exist in test
		},
		{
			name:    "devices command",
			args:    []string{"devices"},
			wantErr: false,
		},
		{
			name:    "diagnose command",
			args:    []string{"diagnose"},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run(tt.args)

			if tt.wantErr {
				if err == nil {
					t.Error("run() expected error, got nil")
				} else if tt.errMsg != "" && !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("run() error = %q, want substring %q", err.Error(), tt.errMsg)
				}
			} else if err != nil {
				t.Errorf("run() unexpected error: %v", err)
			}
		})
	}
}

// TestRunHelp verifies help command output.
func TestRunHelp(t *testing.T) {
	if err := runHelp(); err != nil {
		t.Errorf("runHelp() unexpected error: %v", err)
	}
}

// TestRunVersion verifies version command output.
func TestRunVersion(t *testing.T) {
	Version = "test-version"
	GitCommit = "test-commit"
	BuildDate = "test-date"

	if err := runVersion(); err != nil {
		t.Errorf("runVersion() unexpected error: %v", err)
	}
}

// TestCommandAliases verifies command aliases work.
func TestCommandAliases(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"help long", []string{"help"}},
		{"help short", []string{"-h"}},
		{"help double dash", []string{"--help"}},
		{"version long", []string{"version"}},
		{"version short", []string{"-v"}},
		{"version double dash", []string{"--version"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := run(tt.args); err != nil {
				t.Errorf("run() unexpected error for %v: %v", tt.args, err)
			}
		})
	}
}

// TestParseConfigFlag verifies --config flag parsing, with and without
// an equals sign, and the default fallback when absent.
func TestParseConfigFlag(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{
			name: "no flag uses default",
			args: []string{},
			want: defaultConfigPath,
		},
		{
			name: "flag with equals",
			args: []string{"--config=/tmp/custom.yaml"},
			want: "/tmp/custom.yaml",
		},
		{
			name: "flag with space",
			args: []string{"--config", "/tmp/custom.yaml"},
			want: "/tmp/custom.yaml",
		},
		{
			name: "trailing flag without value keeps default",
			args: []string{"--config"},
			want: defaultConfigPath,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseConfigFlag(tt.args)
			if got != tt.want {
				t.Errorf("parseConfigFlag(%v) = %q, want %q", tt.args, got, tt.want)
			}
		})
	}
}

// TestSanitizeLockName verifies device paths become safe filenames.
func TestSanitizeLockName(t *testing.T) {
	tests := []struct {
		device string
		want   string
	}{
		{"/dev/video0", "_dev_video0"},
		{"hw:0,0", "hw_0_0"},
	}

	for _, tt := range tests {
		t.Run(tt.device, func(t *testing.T) {
			got := sanitizeLockName(tt.device)
			if got != tt.want {
				t.Errorf("sanitizeLockName(%q) = %q, want %q", tt.device, got, tt.want)
			}
		})
	}
}

// TestLoadConfiguration verifies the missing-file-falls-back-to-defaults
// path and the existing-file-is-parsed path.
func TestLoadConfiguration(t *testing.T) {
	t.Run("missing file returns defaults", func(t *testing.T) {
		cfg, err := loadConfiguration(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
		if err != nil {
			t.Fatalf("loadConfiguration() unexpected error: %v", err)
		}
		if cfg.Video.Device != config.DefaultConfig().Video.Device {
			t.Errorf("loadConfiguration() did not return defaults")
		}
	})

	t.Run("existing file is loaded", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		if err := config.DefaultConfig().Save(path); err != nil {
			t.Fatalf("Save() error: %v", err)
		}
		cfg, err := loadConfiguration(path)
		if err != nil {
			t.Fatalf("loadConfiguration() unexpected error: %v", err)
		}
		if cfg.Video.Width != config.DefaultConfig().Video.Width {
			t.Errorf("loadConfiguration() did not parse saved file correctly")
		}
	})
}

// TestBuildSinks verifies the plain-vs-segmented sink selection.
func TestBuildSinks(t *testing.T) {
	t.Run("plain sinks by default", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Output.Segmented = false
		h264, pcm := buildSinks(cfg)
		if h264 == nil || pcm == nil {
			t.Fatal("buildSinks() returned nil sink")
		}
	})

	t.Run("segmented sinks when configured", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Output.Segmented = true
		h264, pcm := buildSinks(cfg)
		if h264 == nil || pcm == nil {
			t.Fatal("buildSinks() returned nil sink")
		}
	})
}

// TestRunValidate verifies the validate command against a config round-tripped
// through Save, and against a deliberately invalid one.
func TestRunValidate(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "valid.yaml")
		if err := config.DefaultConfig().Save(path); err != nil {
			t.Fatalf("Save() error: %v", err)
		}
		if err := runValidate([]string{"--config", path}); err != nil {
			t.Errorf("runValidate() unexpected error: %v", err)
		}
	})

	t.Run("invalid config", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Video.Width = 0
		path := filepath.Join(t.TempDir(), "invalid.yaml")
		if err := cfg.Save(path); err != nil {
			t.Fatalf("Save() error: %v", err)
		}
		if err := runValidate([]string{"--config", path}); err == nil {
			t.Error("runValidate() expected error for invalid config, got nil")
		}
	})

	t.Run("nonexistent config", func(t *testing.T) {
		err := runValidate([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")})
		if err == nil {
			t.Error("runValidate() expected error for missing config")
		}
		if !strings.Contains(err.Error(), "failed to load config") {
			t.Errorf("runValidate() error = %q, want 'failed to load config'", err.Error())
		}
	})
}

// TestRunDevices verifies the devices command does not error even when
// no capture hardware is present.
func TestRunDevices(t *testing.T) {
	if err := runDevices([]string{}); err != nil {
		t.Errorf("runDevices() unexpected error: %v", err)
	}
	if err := runDevices([]string{"--write-rules"}); err != nil {
		t.Errorf("runDevices(--write-rules) unexpected error: %v", err)
	}
}

// TestRunDiagnose verifies the diagnose command runs end to end.
func TestRunDiagnose(t *testing.T) {
	if err := runDiagnose([]string{"--quick"}); err != nil {
		t.Errorf("runDiagnose() unexpected error: %v", err)
	}
}

// TestRunSetupRootCheck verifies setup refuses to run as non-root.
func TestRunSetupRootCheck(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("test must run as non-root")
	}
	err := runSetup([]string{})
	if err == nil {
		t.Error("runSetup() expected error for non-root user")
	}
	if !strings.Contains(err.Error(), "root privileges") {
		t.Errorf("runSetup() error = %q, want 'root privileges'", err.Error())
	}
}

// TestCreateAvcapdMenu verifies the menu is constructed (non-nil) and
// doesn't panic on build.
func TestCreateAvcapdMenu(t *testing.T) {
	m := createAvcapdMenu()
	if m == nil {
		t.Fatal("createAvcapdMenu() returned nil")
	}
}

// BenchmarkRun measures command routing performance.
func BenchmarkRun(b *testing.B) {
	args := []string{"help"}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = run(args)
	}
}
