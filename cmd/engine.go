package cmd

import (
	"fmt"

	"github.com/lehigh-university-libraries/bgremover/internal/assets"
	"github.com/lehigh-university-libraries/bgremover/internal/command"
	"github.com/lehigh-university-libraries/bgremover/internal/config"
	"github.com/lehigh-university-libraries/bgremover/internal/gemini"
	"github.com/lehigh-university-libraries/bgremover/internal/matte"
	"github.com/lehigh-university-libraries/bgremover/internal/providers"
	"github.com/lehigh-university-libraries/bgremover/internal/rembg"
	"github.com/lehigh-university-libraries/bgremover/internal/rembgapi"
	"github.com/lehigh-university-libraries/bgremover/internal/removal"
)

func newSegmenter(cfg config.SegmenterConfig) (providers.Segmenter, error) {
	switch cfg.Provider {
	case config.ProviderMatte, "":
		return matte.New(), nil
	case config.ProviderRembg:
		return rembgapi.New(cfg.RembgURL), nil
	case config.ProviderGemini:
		return gemini.New(cfg.GeminiModel), nil
	case config.ProviderCommand:
		return command.New(cfg.Command)
	default:
		return nil, fmt.Errorf("unknown segmenter provider %q", cfg.Provider)
	}
}

// newService wires the configured segmenter and asset source into the
// removal service. The fetcher is nil when no asset base URL is set.
func newService(cfg config.Config) (*removal.Service, *assets.Fetcher, error) {
	segmenter, err := newSegmenter(cfg.Segmenter)
	if err != nil {
		return nil, nil, err
	}

	var (
		fetcher *assets.Fetcher
		engine  *rembg.Engine
	)
	if cfg.Assets.BaseURL != "" {
		fetcher = assets.NewFetcher(cfg.Assets.BaseURL, cfg.Assets.CacheDir, cfg.Assets.Concurrency)
		engine = rembg.New(segmenter, fetcher, cfg.Segmenter.MaxSide)
	} else {
		engine = rembg.New(segmenter, nil, cfg.Segmenter.MaxSide)
	}

	return removal.NewService(engine, cfg.Removal), fetcher, nil
}
