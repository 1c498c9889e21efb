package removal

import (
	"fmt"
)

// Device selects where inference runs.
type Device string

const (
	DeviceCPU Device = "cpu"
	DeviceGPU Device = "gpu"
)

// Output formats understood by the removal library.
const (
	FormatPNG    = "image/png"
	FormatJPEG   = "image/jpeg"
	FormatWebP   = "image/webp"
	FormatRGBA8  = "image/x-rgba8"
	FormatAlpha8 = "image/x-alpha8"
)

// ProgressFunc receives asset download progress. It may be called from
// several goroutines and zero or more times per call.
type ProgressFunc func(key string, current, total int64)

// OutputConfig controls how the processed image is encoded.
type OutputConfig struct {
	Format  string  `yaml:"format" json:"format"`
	Quality float64 `yaml:"quality" json:"quality"`
}

// Config is the fully resolved configuration handed to the library.
type Config struct {
	Device   Device       `yaml:"device" json:"device"`
	Model    string       `yaml:"model" json:"model"`
	Output   OutputConfig `yaml:"output" json:"output"`
	Debug    bool         `yaml:"debug" json:"debug"`
	Progress ProgressFunc `yaml:"-" json:"-"`
}

// Overrides replace fields of the defaults one by one. A nil field keeps
// the default; Output is replaced as a whole.
type Overrides struct {
	Device   *Device
	Model    *string
	Output   *OutputConfig
	Debug    *bool
	Progress ProgressFunc
}

func noProgress(string, int64, int64) {}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Device: DeviceCPU,
		Model:  "isnet_fp16",
		Output: OutputConfig{
			Format:  FormatPNG,
			Quality: 0.9,
		},
		Debug:    false,
		Progress: noProgress,
	}
}

// Merge resolves overrides against base. The progress callback is taken
// from onProgress, then from the overrides, then from base, and falls back
// to a no-op.
func Merge(base Config, o *Overrides, onProgress ProgressFunc) Config {
	merged := base
	if o != nil {
		if o.Device != nil {
			merged.Device = *o.Device
		}
		if o.Model != nil {
			merged.Model = *o.Model
		}
		if o.Output != nil {
			merged.Output = *o.Output
		}
		if o.Debug != nil {
			merged.Debug = *o.Debug
		}
	}

	switch {
	case onProgress != nil:
		merged.Progress = onProgress
	case o != nil && o.Progress != nil:
		merged.Progress = o.Progress
	case merged.Progress == nil:
		merged.Progress = noProgress
	}
	return merged
}

// Validate reports whether c can be handed to a library.
func (c Config) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	switch c.Device {
	case DeviceCPU, DeviceGPU:
	default:
		return fmt.Errorf("unsupported device %q", c.Device)
	}
	if c.Output.Format == "" {
		return fmt.Errorf("output format is required")
	}
	if c.Output.Quality < 0 || c.Output.Quality > 1 {
		return fmt.Errorf("output quality %.2f out of range [0,1]", c.Output.Quality)
	}
	return nil
}
