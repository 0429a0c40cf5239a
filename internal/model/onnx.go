package model

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/Brownie44l1/waste-api/internal/tensor"
)

// ONNXConfig locates an exported copy of the network.
type ONNXConfig struct {
	ModelPath    string
	MetadataPath string
	// LibraryPath points at the onnxruntime shared library. Empty uses the
	// platform default lookup.
	LibraryPath string
	InputName   string
	OutputName  string
}

// ONNXScorer runs the exported network through onnxruntime. The session
// owns a single pair of input/output tensors, so runs are serialized.
type ONNXScorer struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	Metadata     Metadata
	arch         Architecture
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

// NewONNXScorer starts onnxruntime, checks the exported shapes and classes
// against arch and classes, and runs one zero image through the session so
// a broken export fails at startup.
func NewONNXScorer(cfg ONNXConfig, arch Architecture, classes []string) (*ONNXScorer, error) {
	metadata, err := LoadMetadata(cfg.MetadataPath)
	if err != nil {
		return nil, err
	}
	if err := metadata.Validate(arch, classes); err != nil {
		return nil, err
	}

	if cfg.LibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.LibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}

	inputShape := ort.NewShape(metadata.InputShape...)
	outputShape := ort.NewShape(metadata.OutputShape...)

	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	inputName, outputName := cfg.InputName, cfg.OutputName
	if inputName == "" {
		inputName = "input"
	}
	if outputName == "" {
		outputName = "output"
	}

	session, err := ort.NewAdvancedSession(cfg.ModelPath,
		[]string{inputName}, []string{outputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	s := &ONNXScorer{
		session:      session,
		Metadata:     metadata,
		arch:         arch,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}

	if _, err := s.Scores(tensor.New(arch.InputShape()...)); err != nil {
		s.Close()
		return nil, fmt.Errorf("startup inference failed: %w", err)
	}
	return s, nil
}

func (s *ONNXScorer) NumClasses() int {
	return len(s.Metadata.Classes)
}

func (s *ONNXScorer) Scores(x *tensor.Tensor) ([]float32, error) {
	want := s.arch.InputShape()
	if !tensor.SameShape(x.Shape, want) {
		return nil, fmt.Errorf("expected input %s, got %s", tensor.FormatShape(want), tensor.FormatShape(x.Shape))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil, ErrNotLoaded
	}

	copy(s.inputTensor.GetData(), x.Data)
	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	return append([]float32(nil), s.outputTensor.GetData()...), nil
}

func (s *ONNXScorer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inputTensor != nil {
		s.inputTensor.Destroy()
		s.inputTensor = nil
	}
	if s.outputTensor != nil {
		s.outputTensor.Destroy()
		s.outputTensor = nil
	}
	if s.session != nil {
		s.session.Destroy()
		s.session = nil
	}
	return ort.DestroyEnvironment()
}
