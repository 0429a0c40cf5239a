// Package app builds the classification service from configuration. Every
// command (server, CLI, bot) goes through it so they all load the model
// the same way.
package app

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/Brownie44l1/waste-api/internal/classifier"
	"github.com/Brownie44l1/waste-api/internal/config"
	"github.com/Brownie44l1/waste-api/internal/metrics"
	"github.com/Brownie44l1/waste-api/internal/model"
	"github.com/Brownie44l1/waste-api/internal/preprocess"
)

// NewScorer loads the configured backend. Any weight problem is returned
// here, before a single request is served.
func NewScorer(cfg config.ModelConfig) (classifier.Scorer, error) {
	arch := model.DefaultArchitecture()
	arch.NumClasses = len(classifier.DefaultLabels)

	switch cfg.Backend {
	case config.BackendNative, "":
		m, err := model.Open(cfg.WeightsPath, arch)
		if err != nil {
			return nil, err
		}
		return m, nil
	case config.BackendONNX:
		return model.NewONNXScorer(model.ONNXConfig{
			ModelPath:    cfg.ONNXPath,
			MetadataPath: cfg.MetadataPath,
			LibraryPath:  cfg.ONNXRuntime,
		}, arch, classifier.DefaultLabels)
	}
	return nil, fmt.Errorf("unknown model backend %q", cfg.Backend)
}

// NewService loads the model and wraps it in a ready classifier.Service.
func NewService(cfg *config.Config, logger *zap.Logger, stats *metrics.Recorder) (*classifier.Service, error) {
	filter, err := preprocess.ParseFilter(cfg.Model.ResizeFilter)
	if err != nil {
		return nil, err
	}

	scorer, err := NewScorer(cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to load model: %w", err)
	}

	opts := []classifier.Option{
		classifier.WithPipeline(preprocess.New(preprocess.Size, filter)),
		classifier.WithCacheSize(cfg.Cache.Size),
	}
	if logger != nil {
		opts = append(opts, classifier.WithLogger(logger))
	}
	if stats != nil {
		opts = append(opts, classifier.WithStats(stats))
	}

	svc, err := classifier.New(scorer, opts...)
	if err != nil {
		if c, ok := scorer.(interface{ Close() error }); ok {
			c.Close()
		}
		return nil, err
	}
	return svc, nil
}
