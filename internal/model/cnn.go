package model

import (
	"fmt"
	"sort"

	"go.uber.org/multierr"

	"github.com/Brownie44l1/waste-api/internal/nn"
	"github.com/Brownie44l1/waste-api/internal/tensor"
	"github.com/Brownie44l1/waste-api/internal/weights"
)

// Architecture fixes the shape of the network.
type Architecture struct {
	InputChannels int
	InputSize     int
	// Channels lists the output width of each conv block.
	Channels   []int
	Hidden     int
	NumClasses int
	Dropout    float64
	// FlattenDim, when set, is the feature width the caller expects. It must
	// agree with the value measured on the feature extractor.
	FlattenDim int
}

// DefaultArchitecture is the four-block network the weights were trained on.
func DefaultArchitecture() Architecture {
	return Architecture{
		InputChannels: 3,
		InputSize:     128,
		Channels:      []int{32, 64, 128, 256},
		Hidden:        512,
		NumClasses:    4,
		Dropout:       0.5,
	}
}

// InputShape is the tensor shape Forward accepts for a single image.
func (a Architecture) InputShape() []int {
	return []int{1, a.InputChannels, a.InputSize, a.InputSize}
}

func (a Architecture) validate() error {
	if a.InputChannels <= 0 || a.InputSize <= 0 || a.Hidden <= 0 || a.NumClasses <= 0 {
		return fmt.Errorf("architecture dimensions must be positive: %+v", a)
	}
	if len(a.Channels) == 0 {
		return fmt.Errorf("architecture needs at least one conv block")
	}
	for _, c := range a.Channels {
		if c <= 0 {
			return fmt.Errorf("conv width must be positive, got %d", c)
		}
	}
	if a.Dropout < 0 || a.Dropout >= 1 {
		return fmt.Errorf("dropout must be in [0, 1), got %v", a.Dropout)
	}
	return nil
}

// CNN is the convolutional classifier: a stack of conv/relu/pool blocks
// followed by flatten, linear, relu, dropout, linear.
//
// After Load the network is read-only and Forward may be called from any
// number of goroutines.
type CNN struct {
	arch       Architecture
	features   *nn.Sequential
	classifier *nn.Sequential
	dropout    *nn.Dropout
	flattenDim int
	loaded     bool
}

// New builds the network with zeroed parameters. The flatten width is
// measured by pushing one zero image through the feature extractor and the
// first dense layer is sized from it.
func New(arch Architecture) (*CNN, error) {
	if err := arch.validate(); err != nil {
		return nil, err
	}

	var layers []nn.Layer
	in := arch.InputChannels
	for _, out := range arch.Channels {
		layers = append(layers,
			nn.NewConv2d(in, out, 3, 1, 1),
			nn.ReLU{},
			nn.NewMaxPool2d(2),
		)
		in = out
	}
	features := nn.NewSequential(layers...)

	dummy, err := features.Forward(tensor.New(arch.InputShape()...))
	if err != nil {
		return nil, fmt.Errorf("feature extractor rejects %s input: %w",
			tensor.FormatShape(arch.InputShape()), err)
	}
	flat := tensor.Volume(dummy.Shape[1:])
	if flat == 0 {
		return nil, fmt.Errorf("feature extractor produced an empty map %s", tensor.FormatShape(dummy.Shape))
	}
	if arch.FlattenDim != 0 && arch.FlattenDim != flat {
		return nil, fmt.Errorf("flatten dimension mismatch: architecture declares %d, feature extractor yields %d",
			arch.FlattenDim, flat)
	}

	dropout := nn.NewDropout(arch.Dropout, 0)
	fc1 := nn.NewLinear(flat, arch.Hidden)
	classifier := nn.NewSequential(
		nn.Flatten{},
		fc1,
		nn.ReLU{},
		dropout,
		nn.NewLinear(arch.Hidden, arch.NumClasses),
	)
	if fc1.In != flat {
		return nil, fmt.Errorf("first dense layer expects %d features, extractor yields %d", fc1.In, flat)
	}

	m := &CNN{
		arch:       arch,
		features:   features,
		classifier: classifier,
		dropout:    dropout,
		flattenDim: flat,
	}
	m.Eval()
	return m, nil
}

// Open builds the network and binds the weights stored at path. The
// returned model is in inference mode.
func Open(path string, arch Architecture) (*CNN, error) {
	f, err := weights.Open(path)
	if err != nil {
		return nil, err
	}
	m, err := New(arch)
	if err != nil {
		return nil, err
	}
	if err := m.Load(f.Tensors); err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	m.Eval()
	return m, nil
}

// FlattenDim is the measured width of the flattened feature map.
func (m *CNN) FlattenDim() int {
	return m.flattenDim
}

func (m *CNN) NumClasses() int {
	return m.arch.NumClasses
}

// Eval switches every mode-dependent layer to inference behaviour.
func (m *CNN) Eval() {
	m.features.SetTraining(false)
	m.classifier.SetTraining(false)
}

// Train switches dropout on. Serving code never calls this.
func (m *CNN) Train() {
	m.features.SetTraining(true)
	m.classifier.SetTraining(true)
}

func (m *CNN) Training() bool {
	return m.dropout.Training()
}

func (m *CNN) Loaded() bool {
	return m.loaded
}

func (m *CNN) params() map[string]*tensor.Tensor {
	out := make(map[string]*tensor.Tensor)
	for _, p := range m.features.Params() {
		out["features."+p.Name] = p.Value
	}
	for _, p := range m.classifier.Params() {
		out["classifier."+p.Name] = p.Value
	}
	return out
}

// ParamNames lists every parameter the network needs, sorted.
func (m *CNN) ParamNames() []string {
	params := m.params()
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load copies stored parameters into the network. Every parameter must be
// present with exactly the declared shape and nothing else may be stored;
// all problems are reported together and the network is left untouched.
func (m *CNN) Load(stored map[string]*tensor.Tensor) error {
	params := m.params()

	var err error
	for _, name := range m.ParamNames() {
		src, ok := stored[name]
		if !ok {
			err = multierr.Append(err, &MissingParameterError{Name: name})
			continue
		}
		if dst := params[name]; !tensor.SameShape(dst.Shape, src.Shape) {
			err = multierr.Append(err, &ShapeMismatchError{Name: name, Want: dst.Shape, Got: src.Shape})
		}
	}
	extra := make([]string, 0)
	for name := range stored {
		if _, ok := params[name]; !ok {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		err = multierr.Append(err, &UnexpectedParameterError{Name: name})
	}
	if err != nil {
		return err
	}

	for name, dst := range params {
		copy(dst.Data, stored[name].Data)
	}
	m.loaded = true
	return nil
}

// StateDict returns copies of every parameter keyed by name.
func (m *CNN) StateDict() map[string]*tensor.Tensor {
	out := make(map[string]*tensor.Tensor)
	for name, p := range m.params() {
		out[name] = p.Clone()
	}
	return out
}

// Forward maps an (N, C, S, S) batch to (N, classes) scores.
func (m *CNN) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if !m.loaded {
		return nil, ErrNotLoaded
	}
	want := m.arch.InputShape()
	if x.Dims() != 4 || !tensor.SameShape(x.Shape[1:], want[1:]) {
		return nil, fmt.Errorf("expected input (N, %d, %d, %d), got %s",
			want[1], want[2], want[3], tensor.FormatShape(x.Shape))
	}

	h, err := m.features.Forward(x)
	if err != nil {
		return nil, fmt.Errorf("features: %w", err)
	}
	out, err := m.classifier.Forward(h)
	if err != nil {
		return nil, fmt.Errorf("classifier: %w", err)
	}
	return out, nil
}

// Scores runs a single-image forward pass.
func (m *CNN) Scores(x *tensor.Tensor) ([]float32, error) {
	if x.Dims() > 0 && x.Shape[0] != 1 {
		return nil, fmt.Errorf("expected batch of 1, got %d", x.Shape[0])
	}
	out, err := m.Forward(x)
	if err != nil {
		return nil, err
	}
	return out.Data, nil
}

// Predict returns the index of the highest score.
func (m *CNN) Predict(x *tensor.Tensor) (int, error) {
	scores, err := m.Scores(x)
	if err != nil {
		return -1, err
	}
	return Argmax(scores), nil
}

func (m *CNN) Close() error {
	return nil
}
