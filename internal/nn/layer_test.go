package nn

import (
	"testing"

	"github.com/Brownie44l1/waste-api/internal/tensor"
)

func seq(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(i + 1)
	}
	return out
}

func TestConv2dPaddedSum(t *testing.T) {
	conv := NewConv2d(1, 1, 3, 1, 1)
	for i := range conv.Weight.Data {
		conv.Weight.Data[i] = 1
	}
	conv.Bias.Data[0] = 0.5

	x, _ := tensor.FromData(seq(9), 1, 1, 3, 3)
	y, err := conv.Forward(x)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if !tensor.SameShape(y.Shape, []int{1, 1, 3, 3}) {
		t.Fatalf("unexpected shape %v", y.Shape)
	}

	// 1 2 3
	// 4 5 6
	// 7 8 9
	want := []float32{12, 21, 16, 27, 45, 33, 24, 39, 28}
	for i, v := range want {
		if y.Data[i] != v+0.5 {
			t.Errorf("out[%d] = %v, want %v", i, y.Data[i], v+0.5)
		}
	}
}

func TestConv2dMultiChannel(t *testing.T) {
	conv := NewConv2d(2, 3, 3, 1, 1)
	// output channel o picks input channel o%2 at the kernel centre, scaled by o+1
	for o := 0; o < 3; o++ {
		conv.Weight.Data[(o*2+o%2)*9+4] = float32(o + 1)
	}
	x, _ := tensor.FromData(seq(2*4*4), 1, 2, 4, 4)
	y, err := conv.Forward(x)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if !tensor.SameShape(y.Shape, []int{1, 3, 4, 4}) {
		t.Fatalf("unexpected shape %v", y.Shape)
	}
	for o := 0; o < 3; o++ {
		for i := 0; i < 16; i++ {
			want := float32(o+1) * x.Data[(o%2)*16+i]
			if got := y.Data[o*16+i]; got != want {
				t.Fatalf("channel %d pixel %d = %v, want %v", o, i, got, want)
			}
		}
	}
}

func TestConv2dChannelMismatch(t *testing.T) {
	conv := NewConv2d(3, 4, 3, 1, 1)
	if _, err := conv.Forward(tensor.New(1, 1, 8, 8)); err == nil {
		t.Fatal("expected channel mismatch error")
	}
}

func TestReLU(t *testing.T) {
	x, _ := tensor.FromData([]float32{-2, -0.5, 0, 1.5}, 1, 4)
	y, _ := ReLU{}.Forward(x)
	want := []float32{0, 0, 0, 1.5}
	for i := range want {
		if y.Data[i] != want[i] {
			t.Errorf("relu[%d] = %v, want %v", i, y.Data[i], want[i])
		}
	}
	if x.Data[0] != -2 {
		t.Error("relu must not modify its input")
	}
}

func TestMaxPool2d(t *testing.T) {
	x, _ := tensor.FromData(seq(16), 1, 1, 4, 4)
	y, err := NewMaxPool2d(2).Forward(x)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	want := []float32{6, 8, 14, 16}
	if !tensor.SameShape(y.Shape, []int{1, 1, 2, 2}) {
		t.Fatalf("unexpected shape %v", y.Shape)
	}
	for i := range want {
		if y.Data[i] != want[i] {
			t.Errorf("pool[%d] = %v, want %v", i, y.Data[i], want[i])
		}
	}
}

func TestMaxPool2dOddInputFloors(t *testing.T) {
	y, err := NewMaxPool2d(2).Forward(tensor.New(1, 2, 5, 5))
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if !tensor.SameShape(y.Shape, []int{1, 2, 2, 2}) {
		t.Fatalf("unexpected shape %v", y.Shape)
	}
}

func TestLinear(t *testing.T) {
	l := NewLinear(3, 2)
	copy(l.Weight.Data, []float32{1, 0, -1, 2, 2, 2})
	copy(l.Bias.Data, []float32{0.5, -1})
	x, _ := tensor.FromData([]float32{1, 2, 3}, 1, 3)
	y, err := l.Forward(x)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if y.Data[0] != -1.5 || y.Data[1] != 11 {
		t.Errorf("unexpected output %v", y.Data)
	}
	if _, err := l.Forward(tensor.New(1, 4)); err == nil {
		t.Error("expected feature mismatch error")
	}
}

func TestDropoutInferenceIsIdentity(t *testing.T) {
	d := NewDropout(0.5, 1)
	x := tensor.Full(3, 1, 64)
	y, _ := d.Forward(x)
	for i, v := range y.Data {
		if v != 3 {
			t.Fatalf("inference dropout changed element %d to %v", i, v)
		}
	}
}

func TestDropoutTrainingZeroes(t *testing.T) {
	d := NewDropout(0.5, 1)
	d.SetTraining(true)
	y, _ := d.Forward(tensor.Full(1, 1, 256))
	zeros := 0
	for _, v := range y.Data {
		switch v {
		case 0:
			zeros++
		case 2:
		default:
			t.Fatalf("unexpected value %v", v)
		}
	}
	if zeros == 0 || zeros == 256 {
		t.Errorf("expected a mix of dropped and kept values, got %d zeros", zeros)
	}
}

func TestSequentialParamNamesAndMode(t *testing.T) {
	drop := NewDropout(0.5, 1)
	s := NewSequential(NewConv2d(3, 4, 3, 1, 1), ReLU{}, NewMaxPool2d(2), drop, NewLinear(4, 2))
	var names []string
	for _, p := range s.Params() {
		names = append(names, p.Name)
	}
	want := []string{"0.weight", "0.bias", "4.weight", "4.bias"}
	if len(names) != len(want) {
		t.Fatalf("params = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("param %d = %s, want %s", i, names[i], want[i])
		}
	}

	s.SetTraining(true)
	if !drop.Training() {
		t.Error("SetTraining(true) did not reach dropout")
	}
	s.SetTraining(false)
	if drop.Training() {
		t.Error("SetTraining(false) did not reach dropout")
	}
}
