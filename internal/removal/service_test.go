package removal

import (
	"context"
	"errors"
	"testing"
)

type recordingLibrary struct {
	preloadCfg Config
	removeCfg  Config
	input      []byte
	err        error
}

func (r *recordingLibrary) Preload(ctx context.Context, cfg Config) error {
	r.preloadCfg = cfg
	cfg.Progress("/models/isnet_fp16", 1, 2)
	return r.err
}

func (r *recordingLibrary) RemoveBackground(ctx context.Context, input []byte, cfg Config) ([]byte, error) {
	r.removeCfg = cfg
	r.input = input
	if r.err != nil {
		return nil, r.err
	}
	return []byte("out"), nil
}

func TestMergeOverridesKeyByKey(t *testing.T) {
	model := "isnet"
	debug := true
	gpu := DeviceGPU

	tests := []struct {
		name      string
		overrides *Overrides
		check     func(t *testing.T, cfg Config)
	}{
		{
			name:      "nil overrides keep defaults",
			overrides: nil,
			check: func(t *testing.T, cfg Config) {
				if cfg.Model != "isnet_fp16" || cfg.Device != DeviceCPU {
					t.Errorf("Expected defaults, got %+v", cfg)
				}
				if cfg.Output.Format != FormatPNG || cfg.Output.Quality != 0.9 {
					t.Errorf("Expected default output, got %+v", cfg.Output)
				}
			},
		},
		{
			name:      "model override leaves other keys",
			overrides: &Overrides{Model: &model},
			check: func(t *testing.T, cfg Config) {
				if cfg.Model != "isnet" {
					t.Errorf("Expected model isnet, got %s", cfg.Model)
				}
				if cfg.Device != DeviceCPU || cfg.Debug {
					t.Errorf("Expected untouched device/debug, got %+v", cfg)
				}
			},
		},
		{
			name:      "output override replaces whole block",
			overrides: &Overrides{Output: &OutputConfig{Format: FormatJPEG}},
			check: func(t *testing.T, cfg Config) {
				if cfg.Output.Format != FormatJPEG {
					t.Errorf("Expected jpeg, got %s", cfg.Output.Format)
				}
				if cfg.Output.Quality != 0 {
					t.Errorf("Expected quality replaced with zero value, got %v", cfg.Output.Quality)
				}
			},
		},
		{
			name:      "device and debug",
			overrides: &Overrides{Device: &gpu, Debug: &debug},
			check: func(t *testing.T, cfg Config) {
				if cfg.Device != DeviceGPU || !cfg.Debug {
					t.Errorf("Expected gpu with debug, got %+v", cfg)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Merge(DefaultConfig(), tt.overrides, nil)
			if cfg.Progress == nil {
				t.Fatal("Expected a non-nil progress callback")
			}
			tt.check(t, cfg)
		})
	}
}

func TestMergeProgressPrecedence(t *testing.T) {
	var got string
	explicit := func(string, int64, int64) { got = "explicit" }
	fromOverrides := func(string, int64, int64) { got = "overrides" }

	tests := []struct {
		name       string
		overrides  *Overrides
		onProgress ProgressFunc
		expected   string
	}{
		{"explicit wins", &Overrides{Progress: fromOverrides}, explicit, "explicit"},
		{"overrides second", &Overrides{Progress: fromOverrides}, nil, "overrides"},
		{"default no-op", &Overrides{}, nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got = ""
			cfg := Merge(DefaultConfig(), tt.overrides, tt.onProgress)
			cfg.Progress("k", 1, 1)
			if got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestServiceRemergesFromDefaults(t *testing.T) {
	lib := &recordingLibrary{}
	svc := NewService(lib, DefaultConfig())
	model := "u2net"

	if _, err := svc.RemoveImageBackground(context.Background(), []byte("in"), &Overrides{Model: &model}, nil); err != nil {
		t.Fatalf("RemoveImageBackground() error = %v", err)
	}
	if lib.removeCfg.Model != "u2net" {
		t.Errorf("Expected override model, got %s", lib.removeCfg.Model)
	}
	if string(lib.input) != "in" {
		t.Errorf("Expected input to be forwarded, got %q", lib.input)
	}

	if _, err := svc.RemoveImageBackground(context.Background(), []byte("in"), nil, nil); err != nil {
		t.Fatalf("RemoveImageBackground() error = %v", err)
	}
	if lib.removeCfg.Model != "isnet_fp16" {
		t.Errorf("Expected defaults on second call, got %s", lib.removeCfg.Model)
	}
	if svc.Defaults().Model != "isnet_fp16" {
		t.Errorf("Expected defaults to be unchanged, got %s", svc.Defaults().Model)
	}
}

func TestServicePreloadForwardsProgress(t *testing.T) {
	lib := &recordingLibrary{}
	svc := NewService(lib, DefaultConfig())

	var calls int
	err := svc.Preload(context.Background(), nil, func(key string, current, total int64) {
		calls++
		if key != "/models/isnet_fp16" || current != 1 || total != 2 {
			t.Errorf("Unexpected sample %s %d/%d", key, current, total)
		}
	})
	if err != nil {
		t.Fatalf("Preload() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 progress call, got %d", calls)
	}

	// repeated calls are fine
	if err := svc.Preload(context.Background(), nil, nil); err != nil {
		t.Fatalf("second Preload() error = %v", err)
	}
}

func TestServiceWrapsLibraryErrors(t *testing.T) {
	cause := errors.New("boom")
	svc := NewService(&recordingLibrary{err: cause}, DefaultConfig())

	if err := svc.Preload(context.Background(), nil, nil); !errors.Is(err, cause) {
		t.Errorf("Expected wrapped cause from Preload, got %v", err)
	}
	out, err := svc.RemoveImageBackground(context.Background(), nil, nil, nil)
	if !errors.Is(err, cause) {
		t.Errorf("Expected wrapped cause from RemoveImageBackground, got %v", err)
	}
	if out != nil {
		t.Errorf("Expected nil output on failure, got %q", out)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults are valid", func(c *Config) {}, false},
		{"missing model", func(c *Config) { c.Model = "" }, true},
		{"unknown device", func(c *Config) { c.Device = "tpu" }, true},
		{"quality above one", func(c *Config) { c.Output.Quality = 1.5 }, true},
		{"quality below zero", func(c *Config) { c.Output.Quality = -0.1 }, true},
		{"missing format", func(c *Config) { c.Output.Format = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
