// Package removal wraps a background removal library with configuration
// defaults and progress callback resolution.
package removal

import (
	"context"
	"fmt"
)

// Library is the background removal implementation the service forwards to.
type Library interface {
	Preload(ctx context.Context, cfg Config) error
	RemoveBackground(ctx context.Context, input []byte, cfg Config) ([]byte, error)
}

// Service holds no state between calls; every call merges overrides into
// the same fixed defaults.
type Service struct {
	lib      Library
	defaults Config
}

// NewService returns a service over lib using defaults as the base config.
func NewService(lib Library, defaults Config) *Service {
	if defaults.Progress == nil {
		defaults.Progress = noProgress
	}
	return &Service{
		lib:      lib,
		defaults: defaults,
	}
}

// Defaults returns a copy of the base configuration.
func (s *Service) Defaults() Config {
	return s.defaults
}

// Preload fetches the library's assets ahead of the first removal.
func (s *Service) Preload(ctx context.Context, overrides *Overrides, onProgress ProgressFunc) error {
	cfg := Merge(s.defaults, overrides, onProgress)
	if err := s.lib.Preload(ctx, cfg); err != nil {
		return fmt.Errorf("preload assets: %w", err)
	}
	return nil
}

// RemoveImageBackground returns the encoded foreground of data.
func (s *Service) RemoveImageBackground(ctx context.Context, data []byte, overrides *Overrides, onProgress ProgressFunc) ([]byte, error) {
	cfg := Merge(s.defaults, overrides, onProgress)
	out, err := s.lib.RemoveBackground(ctx, data, cfg)
	if err != nil {
		return nil, fmt.Errorf("remove background: %w", err)
	}
	return out, nil
}
