// Package metrics records classification latency split by outcome: each
// predicted category on success and each failing stage otherwise.
package metrics

import (
	"sync"
	"time"
)

// Failure stages reported by the classifier.
const (
	StageDecode    = "decode"
	StageInference = "inference"
)

// Latency summarises one outcome. Times are in milliseconds.
type Latency struct {
	Count  uint64    `json:"count"`
	EWMAms float64   `json:"ewma_ms"`
	MinMs  float64   `json:"min_ms"`
	MaxMs  float64   `json:"max_ms"`
	LastAt time.Time `json:"last_at"`
}

func (l *Latency) add(ms, alpha float64, at time.Time) {
	if l.Count == 0 {
		l.EWMAms, l.MinMs, l.MaxMs = ms, ms, ms
	} else {
		l.EWMAms = alpha*ms + (1-alpha)*l.EWMAms
		l.MinMs = min(l.MinMs, ms)
		l.MaxMs = max(l.MaxMs, ms)
	}
	l.Count++
	l.LastAt = at
}

// Stats is the /api/stats payload.
type Stats struct {
	Since      time.Time          `json:"since"`
	Total      Latency            `json:"total"`
	Categories map[string]Latency `json:"categories"`
	Failures   map[string]Latency `json:"failures"`
}

// Recorder is safe for concurrent use.
type Recorder struct {
	mu         sync.RWMutex
	alpha      float64
	since      time.Time
	total      Latency
	categories map[string]*Latency
	failures   map[string]*Latency
}

// NewRecorder smooths latency with EWMA factor alpha; values outside
// (0, 1) fall back to 0.2.
func NewRecorder(alpha float64) *Recorder {
	if alpha <= 0 || alpha >= 1 {
		alpha = 0.2
	}
	return &Recorder{
		alpha:      alpha,
		since:      time.Now(),
		categories: map[string]*Latency{},
		failures:   map[string]*Latency{},
	}
}

// ObservePrediction records a request that produced category.
func (r *Recorder) ObservePrediction(category string, d time.Duration) {
	r.observe(r.categories, category, d)
}

// ObserveFailure records a request that failed at stage.
func (r *Recorder) ObserveFailure(stage string, d time.Duration) {
	r.observe(r.failures, stage, d)
}

func (r *Recorder) observe(into map[string]*Latency, key string, d time.Duration) {
	ms := max(float64(d)/float64(time.Millisecond), 0)
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	l := into[key]
	if l == nil {
		l = &Latency{}
		into[key] = l
	}
	l.add(ms, r.alpha, now)
	r.total.add(ms, r.alpha, now)
}

// Category returns the latency of predictions labelled category.
func (r *Recorder) Category(category string) (Latency, bool) {
	return r.lookup(r.categories, category)
}

// Failure returns the latency of requests that failed at stage.
func (r *Recorder) Failure(stage string) (Latency, bool) {
	return r.lookup(r.failures, stage)
}

func (r *Recorder) lookup(from map[string]*Latency, key string) (Latency, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	l := from[key]
	if l == nil {
		return Latency{}, false
	}
	return *l, true
}

func (r *Recorder) Snapshot() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Stats{
		Since:      r.since,
		Total:      r.total,
		Categories: make(map[string]Latency, len(r.categories)),
		Failures:   make(map[string]Latency, len(r.failures)),
	}
	for k, v := range r.categories {
		s.Categories[k] = *v
	}
	for k, v := range r.failures {
		s.Failures[k] = *v
	}
	return s
}
