package main

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Brownie44l1/waste-api/internal/classifier"
	"github.com/Brownie44l1/waste-api/internal/tensor"
)

type fixedScorer []float32

func (f fixedScorer) Scores(*tensor.Tensor) ([]float32, error) {
	return append([]float32(nil), f...), nil
}

func (f fixedScorer) NumClasses() int { return len(f) }

func TestClassifyFiles(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "box.png")
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 9, 9))); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(good, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	bad := filepath.Join(dir, "readme.png")
	if err := os.WriteFile(bad, []byte("text"), 0o644); err != nil {
		t.Fatal(err)
	}

	svc, err := classifier.New(fixedScorer{0, 3, 1, 0})
	if err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	failed := classifyFiles(context.Background(), svc, []string{good, bad, filepath.Join(dir, "missing.jpg")}, &out, false)
	if failed != 2 {
		t.Errorf("failed = %d, want 2", failed)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines: %q", len(lines), out.String())
	}
	if !strings.Contains(lines[0], "\tpaper\t") {
		t.Errorf("first line = %q", lines[0])
	}
	if !strings.Contains(lines[1], "error:") {
		t.Errorf("second line = %q", lines[1])
	}

	out.Reset()
	classifyFiles(context.Background(), svc, []string{good}, &out, true)
	var pred classifier.Prediction
	if err := json.Unmarshal(out.Bytes(), &pred); err != nil {
		t.Fatalf("json output %q: %v", out.String(), err)
	}
	if pred.Category != "paper" || pred.Filename != "box.png" {
		t.Errorf("prediction = %+v", pred)
	}
}
