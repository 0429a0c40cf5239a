// Package classifier is the single entry point every transport calls:
// decode, preprocess, score, pick a label.
package classifier

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/Brownie44l1/waste-api/internal/metrics"
	"github.com/Brownie44l1/waste-api/internal/model"
	"github.com/Brownie44l1/waste-api/internal/preprocess"
	"github.com/Brownie44l1/waste-api/internal/tensor"
)

// DefaultLabels is the training label order. Index i of the score vector
// belongs to DefaultLabels[i].
var DefaultLabels = []string{"compost", "paper", "recycle", "trash"}

var (
	ErrModelNotLoaded     = model.ErrNotLoaded
	ErrUnprocessableImage = errors.New("unprocessable image")
)

// Scorer produces one raw score per class for a (1, 3, S, S) tensor.
type Scorer interface {
	Scores(x *tensor.Tensor) ([]float32, error)
	NumClasses() int
}

// Classifier is what transports depend on.
type Classifier interface {
	Classify(ctx context.Context, filename string, data []byte) (*Prediction, error)
	Labels() []string
}

type Prediction struct {
	Category   string             `json:"category"`
	Index      int                `json:"index"`
	Filename   string             `json:"filename,omitempty"`
	Confidence float32            `json:"confidence"`
	Scores     map[string]float32 `json:"scores"`
	Cached     bool               `json:"cached,omitempty"`
}

type Option func(*Service)

func WithPipeline(p *preprocess.Pipeline) Option {
	return func(s *Service) {
		s.pipeline = p
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

func WithStats(t *metrics.Recorder) Option {
	return func(s *Service) {
		s.stats = t
	}
}

// WithCacheSize keeps up to n predictions keyed by the SHA-256 of the
// upload. Zero disables the cache.
func WithCacheSize(n int) Option {
	return func(s *Service) {
		s.cacheSize = n
	}
}

type Service struct {
	mu        sync.RWMutex
	scorer    Scorer
	pipeline  *preprocess.Pipeline
	labels    []string
	cacheSize int
	cache     *lru.Cache[string, Prediction]
	logger    *zap.Logger
	stats     *metrics.Recorder
}

// New wraps a loaded scorer. The scorer must be in inference mode and
// produce exactly one score per label.
func New(scorer Scorer, opts ...Option) (*Service, error) {
	if scorer == nil {
		return nil, ErrModelNotLoaded
	}

	s := &Service{
		scorer:   scorer,
		pipeline: preprocess.Default(),
		labels:   append([]string(nil), DefaultLabels...),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if m, ok := scorer.(interface{ Training() bool }); ok && m.Training() {
		return nil, fmt.Errorf("scorer is in training mode; call Eval before serving")
	}
	if n := scorer.NumClasses(); n != len(s.labels) {
		return nil, fmt.Errorf("scorer has %d classes, want %d", n, len(s.labels))
	}
	if s.cacheSize > 0 {
		cache, err := lru.New[string, Prediction](s.cacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create prediction cache: %w", err)
		}
		s.cache = cache
	}
	return s, nil
}

// Labels returns a copy of the label order.
func (s *Service) Labels() []string {
	return append([]string(nil), s.labels...)
}

// Classify decodes data and returns the predicted label. The filename is
// echoed back and never used to guess the format.
func (s *Service) Classify(ctx context.Context, filename string, data []byte) (*Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.scorer == nil {
		return nil, ErrModelNotLoaded
	}

	var key string
	if s.cache != nil {
		sum := sha256.Sum256(data)
		key = hex.EncodeToString(sum[:])
		if p, ok := s.cache.Get(key); ok {
			p.Filename = filename
			p.Cached = true
			return &p, nil
		}
	}

	start := time.Now()
	x, err := s.pipeline.FromBytes(data)
	if err != nil {
		s.observeError(metrics.StageDecode, start)
		return nil, unprocessable(err)
	}

	p, err := s.predict(x, start)
	if err != nil {
		return nil, err
	}
	p.Filename = filename
	if s.cache != nil {
		s.cache.Add(key, *p)
	}

	s.logger.Debug("classified",
		zap.String("filename", filename),
		zap.String("category", p.Category),
		zap.Float32("confidence", p.Confidence),
		zap.Duration("took", time.Since(start)),
	)
	return p, nil
}

// ClassifyImage skips decoding for callers that already hold pixels.
func (s *Service) ClassifyImage(ctx context.Context, filename string, img image.Image) (*Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.scorer == nil {
		return nil, ErrModelNotLoaded
	}

	start := time.Now()
	x, err := s.pipeline.Preprocess(img)
	if err != nil {
		s.observeError(metrics.StageDecode, start)
		return nil, unprocessable(err)
	}
	p, err := s.predict(x, start)
	if err != nil {
		return nil, err
	}
	p.Filename = filename
	return p, nil
}

// ClassifyTensor scores an already preprocessed tensor.
func (s *Service) ClassifyTensor(ctx context.Context, x *tensor.Tensor) (*Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.scorer == nil {
		return nil, ErrModelNotLoaded
	}
	if !tensor.SameShape(x.Shape, s.pipeline.Shape()) {
		return nil, fmt.Errorf("expected input shape %s, got %s",
			tensor.FormatShape(s.pipeline.Shape()), tensor.FormatShape(x.Shape))
	}
	return s.predict(x, time.Now())
}

// InputShape is the tensor shape ClassifyTensor accepts.
func (s *Service) InputShape() []int {
	return s.pipeline.Shape()
}

func (s *Service) predict(x *tensor.Tensor, start time.Time) (*Prediction, error) {
	scores, err := s.scorer.Scores(x)
	if err != nil {
		s.observeError(metrics.StageInference, start)
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	if len(scores) != len(s.labels) {
		s.observeError(metrics.StageInference, start)
		return nil, fmt.Errorf("scorer returned %d scores for %d labels", len(scores), len(s.labels))
	}
	for i, v := range scores {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			s.observeError(metrics.StageInference, start)
			return nil, fmt.Errorf("inference failed: score %d for %s is %v", i, s.labels[i], v)
		}
	}

	idx := model.Argmax(scores)
	probs := model.Softmax(scores)
	p := &Prediction{
		Category:   s.labels[idx],
		Index:      idx,
		Confidence: probs[idx],
		Scores:     make(map[string]float32, len(probs)),
	}
	for i, v := range probs {
		p.Scores[s.labels[i]] = v
	}

	if s.stats != nil {
		s.stats.ObservePrediction(p.Category, time.Since(start))
	}
	return p, nil
}

func (s *Service) observeError(stage string, start time.Time) {
	if s.stats != nil {
		s.stats.ObserveFailure(stage, time.Since(start))
	}
}

// Close releases the scorer. In-flight calls finish first; later calls
// fail with ErrModelNotLoaded.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.scorer == nil {
		return nil
	}
	var err error
	if c, ok := s.scorer.(io.Closer); ok {
		err = c.Close()
	}
	s.scorer = nil
	if s.cache != nil {
		s.cache.Purge()
	}
	return err
}

func unprocessable(err error) error {
	return fmt.Errorf("%w: %w", ErrUnprocessableImage, err)
}
