// Package nn holds the inference-only building blocks of the classifier:
// convolution, rectification, pooling, flattening, dense and dropout layers.
// All layers operate on NCHW float32 tensors.
package nn

import (
	"fmt"
	"runtime"
	"strconv"
	"sync"

	"github.com/Brownie44l1/waste-api/internal/tensor"
)

// Layer is one step of a feed-forward network.
type Layer interface {
	Forward(x *tensor.Tensor) (*tensor.Tensor, error)
}

// Param is a named learnable array owned by a layer.
type Param struct {
	Name  string
	Value *tensor.Tensor
}

// Parameterized layers expose their learnable arrays for weight binding.
type Parameterized interface {
	Params() []Param
}

// ModeSetter is implemented by layers whose behaviour differs between
// training and inference.
type ModeSetter interface {
	SetTraining(training bool)
}

// Sequential chains layers. Parameter names are prefixed with the layer
// index, so the first convolution of a block exposes "0.weight".
type Sequential struct {
	Layers []Layer
}

func NewSequential(layers ...Layer) *Sequential {
	return &Sequential{Layers: layers}
}

func (s *Sequential) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	var err error
	for i, l := range s.Layers {
		x, err = l.Forward(x)
		if err != nil {
			return nil, fmt.Errorf("layer %d (%T): %w", i, l, err)
		}
	}
	return x, nil
}

func (s *Sequential) Params() []Param {
	var out []Param
	for i, l := range s.Layers {
		p, ok := l.(Parameterized)
		if !ok {
			continue
		}
		prefix := strconv.Itoa(i) + "."
		for _, param := range p.Params() {
			out = append(out, Param{Name: prefix + param.Name, Value: param.Value})
		}
	}
	return out
}

func (s *Sequential) SetTraining(training bool) {
	for _, l := range s.Layers {
		if m, ok := l.(ModeSetter); ok {
			m.SetTraining(training)
		}
	}
}

// parallelFor splits [0, n) across GOMAXPROCS goroutines. Each index is
// handled by exactly one goroutine, so results do not depend on scheduling.
func parallelFor(n int, fn func(lo, hi int)) {
	workers := runtime.GOMAXPROCS(0)
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		fn(0, n)
		return
	}
	chunk := (n + workers - 1) / workers
	var wg sync.WaitGroup
	for lo := 0; lo < n; lo += chunk {
		hi := lo + chunk
		if hi > n {
			hi = n
		}
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			fn(lo, hi)
		}(lo, hi)
	}
	wg.Wait()
}

func expectDims(x *tensor.Tensor, dims int) error {
	if x.Dims() != dims {
		return fmt.Errorf("expected %d-d input, got %s", dims, tensor.FormatShape(x.Shape))
	}
	return nil
}
