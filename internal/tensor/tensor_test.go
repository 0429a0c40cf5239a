package tensor

import "testing"

func TestNewAndVolume(t *testing.T) {
	x := New(1, 3, 4, 5)
	if x.Len() != 60 {
		t.Fatalf("expected 60 elements, got %d", x.Len())
	}
	if x.Dims() != 4 {
		t.Fatalf("expected 4 dims, got %d", x.Dims())
	}
	for i, v := range x.Data {
		if v != 0 {
			t.Fatalf("element %d not zero: %v", i, v)
		}
	}
}

func TestFromDataLengthMismatch(t *testing.T) {
	if _, err := FromData(make([]float32, 5), 2, 3); err == nil {
		t.Fatal("expected error for 5 values in a (2, 3) tensor")
	}
}

func TestReshapeSharesData(t *testing.T) {
	x := Full(1, 2, 3)
	y, err := x.Reshape(6)
	if err != nil {
		t.Fatalf("reshape: %v", err)
	}
	y.Data[0] = 7
	if x.Data[0] != 7 {
		t.Error("reshape should share the underlying data")
	}
	if _, err := x.Reshape(4); err == nil {
		t.Error("expected error reshaping 6 values to (4)")
	}
}

func TestFormatShape(t *testing.T) {
	if got := FormatShape([]int{1, 3, 128, 128}); got != "(1, 3, 128, 128)" {
		t.Errorf("unexpected format %q", got)
	}
	if !SameShape([]int{2, 2}, []int{2, 2}) || SameShape([]int{2, 2}, []int{4}) {
		t.Error("SameShape mismatch")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	x := Full(2, 2, 2)
	y := x.Clone()
	y.Data[3] = -1
	if x.Data[3] != 2 {
		t.Error("clone should not share data")
	}
	if !SameShape(x.Shape, y.Shape) {
		t.Errorf("clone shape %v, want %v", y.Shape, x.Shape)
	}
}

func TestDenseViewMatchesFields(t *testing.T) {
	x, _ := FromData([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	d := x.Dense()
	if got := []int(d.Shape()); !SameShape(got, x.Shape) {
		t.Fatalf("dense shape %v, want %v", got, x.Shape)
	}
	v, err := d.At(1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if v.(float32) != 6 {
		t.Errorf("At(1, 2) = %v, want 6", v)
	}

	y, err := FromDense(d)
	if err != nil {
		t.Fatal(err)
	}
	y.Data[0] = 9
	if x.Data[0] != 9 {
		t.Error("FromDense should share the backing array")
	}
}

func TestSameShapeIsStrict(t *testing.T) {
	if SameShape([]int{1, 4}, []int{4}) {
		t.Error("(1, 4) should not match (4)")
	}
}
