package model

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMetadataAndValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model_metadata.json")
	body := `{"input_shape":[1,3,128,128],"output_shape":[1,4],"classes":["compost","paper","recycle","trash"],"image_size":128}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	meta, err := LoadMetadata(path)
	if err != nil {
		t.Fatalf("LoadMetadata: %v", err)
	}
	labels := []string{"compost", "paper", "recycle", "trash"}
	if err := meta.Validate(DefaultArchitecture(), labels); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Metadata)
	}{
		{"input shape", func(m *Metadata) { m.InputShape = []int64{1, 3, 48, 48} }},
		{"output shape", func(m *Metadata) { m.OutputShape = []int64{1, 7} }},
		{"image size", func(m *Metadata) { m.ImageSize = 224 }},
		{"class order", func(m *Metadata) { m.Classes = []string{"paper", "compost", "recycle", "trash"} }},
		{"class count", func(m *Metadata) { m.Classes = m.Classes[:3] }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := meta
			m.InputShape = append([]int64(nil), meta.InputShape...)
			m.Classes = append([]string(nil), meta.Classes...)
			tt.mutate(&m)
			if err := m.Validate(DefaultArchitecture(), labels); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadMetadataErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadMetadata(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
	bad := filepath.Join(dir, "bad.json")
	os.WriteFile(bad, []byte("{"), 0o644)
	if _, err := LoadMetadata(bad); err == nil {
		t.Error("expected error for malformed JSON")
	}
}
