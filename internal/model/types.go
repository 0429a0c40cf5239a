package model

import (
	"encoding/json"
	"fmt"
	"os"
)

// Metadata describes an exported model: tensor shapes and class order.
type Metadata struct {
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	Classes     []string `json:"classes"`
	ImageSize   int      `json:"image_size"`
}

// PredictionRequest carries an already preprocessed tensor, flattened.
type PredictionRequest struct {
	Image []float32 `json:"image"`
}

func LoadMetadata(path string) (Metadata, error) {
	var metadata Metadata
	metaFile, err := os.ReadFile(path)
	if err != nil {
		return metadata, fmt.Errorf("failed to read metadata: %w", err)
	}
	if err := json.Unmarshal(metaFile, &metadata); err != nil {
		return metadata, fmt.Errorf("failed to parse metadata: %w", err)
	}
	return metadata, nil
}

// Validate checks the metadata against the architecture and label order
// the service is built for.
func (m Metadata) Validate(arch Architecture, classes []string) error {
	want := arch.InputShape()
	if len(m.InputShape) != len(want) {
		return fmt.Errorf("metadata input shape %v, expected %v", m.InputShape, want)
	}
	for i := range want {
		if m.InputShape[i] != int64(want[i]) {
			return fmt.Errorf("metadata input shape %v, expected %v", m.InputShape, want)
		}
	}
	if len(m.OutputShape) != 2 || m.OutputShape[0] != 1 || m.OutputShape[1] != int64(arch.NumClasses) {
		return fmt.Errorf("metadata output shape %v, expected [1 %d]", m.OutputShape, arch.NumClasses)
	}
	if m.ImageSize != 0 && m.ImageSize != arch.InputSize {
		return fmt.Errorf("metadata image size %d, expected %d", m.ImageSize, arch.InputSize)
	}
	if len(m.Classes) != len(classes) {
		return fmt.Errorf("metadata lists %d classes, expected %d", len(m.Classes), len(classes))
	}
	for i := range classes {
		if m.Classes[i] != classes[i] {
			return fmt.Errorf("metadata class %d is %q, expected %q", i, m.Classes[i], classes[i])
		}
	}
	return nil
}
