package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/mtorrado/hotline/internal/brain"
	"github.com/mtorrado/hotline/internal/config"
	"github.com/mtorrado/hotline/internal/history"
	"github.com/mtorrado/hotline/internal/httpapi"
	"github.com/mtorrado/hotline/internal/observability"
	"github.com/mtorrado/hotline/internal/pipeline"
)

type BuildResult struct {
	Config        config.Config
	API           *httpapi.Server
	Registry      *httpapi.Registry
	Pipeline      *pipeline.Pipeline
	Store         history.Store
	Metrics       *observability.Metrics
	VoiceProvider string

	// Cleanup should be called on shutdown to release external resources.
	Cleanup func() error
}

// Build wires the whole service from configuration: history store, reply
// engine, speech engines, turn pipeline and HTTP surface.
func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store, err := history.NewStore(ctx, cfg.DatabaseURL, cfg.MaxHistoryTurns)
	if err != nil {
		return nil, fmt.Errorf("history store init failed: %w", err)
	}

	replier, err := brain.NewAdapter(brain.Config{
		Mode:    cfg.BrainMode,
		APIKey:  cfg.GeminiAPIKey,
		Model:   cfg.GeminiModel,
		BaseURL: cfg.GeminiBaseURL,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("reply adapter init failed: %w", err)
	}

	voiceSetup, err := resolveVoiceProviders(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	turns := pipeline.New(
		voiceSetup.recognizer,
		replier,
		voiceSetup.synthesizer,
		store,
		metrics,
		cfg.TTSSampleRate,
	)

	registry := httpapi.NewRegistry()
	api := httpapi.New(cfg, turns, store, voiceSetup.synthesizer, metrics, registry)

	cleanup := func() error {
		var errs []string
		if err := store.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:        cfg,
		API:           api,
		Registry:      registry,
		Pipeline:      turns,
		Store:         store,
		Metrics:       metrics,
		VoiceProvider: voiceSetup.provider,
		Cleanup:       cleanup,
	}, nil
}
