package tensor

import (
	"math"
	"testing"
)

func fromFloat32(t *testing.T, data []float32, shape Shape) *RawTensor {
	t.Helper()
	raw, err := FromFloat32(data, shape)
	if err != nil {
		t.Fatalf("FromFloat32: %v", err)
	}
	return raw
}

func checkFloats(t *testing.T, got, want []float32) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if math.Abs(float64(got[i])-float64(want[i])) > 1e-6 {
			t.Errorf("element %d: got %g, want %g", i, got[i], want[i])
		}
	}
}

func TestShape_NumElementsAndValidate(t *testing.T) {
	if got := (Shape{2, 3, 4}).NumElements(); got != 24 {
		t.Errorf("NumElements = %d, want 24", got)
	}
	if err := (Shape{1, 3, 8, 8}).Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
	if err := (Shape{1, 0, 8}).Validate(); err == nil {
		t.Error("expected error for zero dimension")
	}
	if err := (Shape{1, -2}).Validate(); err == nil {
		t.Error("expected error for negative dimension")
	}
}

func TestShape_ComputeStrides(t *testing.T) {
	strides := Shape{2, 3, 4}.ComputeStrides()
	want := []int{12, 4, 1}
	for i := range want {
		if strides[i] != want[i] {
			t.Errorf("stride %d: got %d, want %d", i, strides[i], want[i])
		}
	}
}

func TestBroadcastShapes(t *testing.T) {
	shape, needed, err := BroadcastShapes(Shape{1, 4, 8, 8}, Shape{1, 4, 1, 1})
	if err != nil {
		t.Fatalf("BroadcastShapes: %v", err)
	}
	if !needed {
		t.Error("expected broadcasting to be needed")
	}
	if !shape.Equal(Shape{1, 4, 8, 8}) {
		t.Errorf("broadcast shape = %v", shape)
	}

	shape, needed, err = BroadcastShapes(Shape{2, 3}, Shape{2, 3})
	if err != nil {
		t.Fatalf("BroadcastShapes: %v", err)
	}
	if needed {
		t.Error("equal shapes should not need broadcasting")
	}
	if !shape.Equal(Shape{2, 3}) {
		t.Errorf("broadcast shape = %v", shape)
	}

	if _, _, err := BroadcastShapes(Shape{2, 3}, Shape{2, 4}); err == nil {
		t.Error("expected error for incompatible shapes")
	}
}

func TestFromFloat32_ShapeMismatch(t *testing.T) {
	if _, err := FromFloat32([]float32{1, 2, 3}, Shape{2, 2}); err == nil {
		t.Error("expected error for 3 elements in a 2x2 shape")
	}
}

func TestClone_Independent(t *testing.T) {
	x := fromFloat32(t, []float32{1, 2, 3, 4}, Shape{4})
	y := x.Clone()
	y.AsFloat32()[0] = 99
	if x.AsFloat32()[0] != 1 {
		t.Error("clone shares data with the source")
	}
}

func TestReLUAndLeakyReLU(t *testing.T) {
	x := fromFloat32(t, []float32{-2, -0.5, 0, 1, 3}, Shape{5})

	r, err := ReLU(x)
	if err != nil {
		t.Fatalf("ReLU: %v", err)
	}
	checkFloats(t, r.AsFloat32(), []float32{0, 0, 0, 1, 3})

	l, err := LeakyReLU(x, 0.2)
	if err != nil {
		t.Fatalf("LeakyReLU: %v", err)
	}
	checkFloats(t, l.AsFloat32(), []float32{-0.4, -0.1, 0, 1, 3})
}

func TestPReLU_PerChannel(t *testing.T) {
	// [1,2,1,2]: channel 0 slope 0.5, channel 1 slope 0.1
	x := fromFloat32(t, []float32{-2, 4, -10, 6}, Shape{1, 2, 1, 2})
	slope := fromFloat32(t, []float32{0.5, 0.1}, Shape{2})

	out, err := PReLU(x, slope)
	if err != nil {
		t.Fatalf("PReLU: %v", err)
	}
	checkFloats(t, out.AsFloat32(), []float32{-1, 4, -1, 6})
}

func TestPReLU_SingleSlopeBroadcast(t *testing.T) {
	x := fromFloat32(t, []float32{-4, 2}, Shape{2})
	slope := fromFloat32(t, []float32{0.25}, Shape{1})

	out, err := PReLU(x, slope)
	if err != nil {
		t.Fatalf("PReLU: %v", err)
	}
	checkFloats(t, out.AsFloat32(), []float32{-1, 2})
}

func TestPReLU_SlopeCountMismatch(t *testing.T) {
	x := fromFloat32(t, []float32{1, 2, 3, 4}, Shape{1, 2, 1, 2})
	slope := fromFloat32(t, []float32{0.1, 0.2, 0.3}, Shape{3})
	if _, err := PReLU(x, slope); err == nil {
		t.Error("expected error for 3 slopes over 2 channels")
	}
}

func TestPReLU_PerChannelSlopeNeeds4D(t *testing.T) {
	x := fromFloat32(t, []float32{-1, 2, -3, 4}, Shape{2, 2})
	slope := fromFloat32(t, []float32{0.1, 0.2}, Shape{2})
	if _, err := PReLU(x, slope); err == nil {
		t.Error("expected error for a 2-value slope over 2D input")
	}
}

func TestClip(t *testing.T) {
	x := fromFloat32(t, []float32{-5, -1, 0, 2, 9}, Shape{5})
	out, err := Clip(x, -1, 2)
	if err != nil {
		t.Fatalf("Clip: %v", err)
	}
	checkFloats(t, out.AsFloat32(), []float32{-1, -1, 0, 2, 2})
}

func TestReshape(t *testing.T) {
	x := fromFloat32(t, []float32{1, 2, 3, 4, 5, 6}, Shape{2, 3})

	y, err := Reshape(x, Shape{3, 2})
	if err != nil {
		t.Fatalf("Reshape: %v", err)
	}
	if !y.Shape().Equal(Shape{3, 2}) {
		t.Errorf("shape = %v", y.Shape())
	}
	checkFloats(t, y.AsFloat32(), x.AsFloat32())

	inferred, err := Reshape(x, Shape{-1, 2})
	if err != nil {
		t.Fatalf("Reshape with -1: %v", err)
	}
	if !inferred.Shape().Equal(Shape{3, 2}) {
		t.Errorf("inferred shape = %v", inferred.Shape())
	}

	if _, err := Reshape(x, Shape{4, 2}); err == nil {
		t.Error("expected error for element count mismatch")
	}
	if _, err := Reshape(x, Shape{-1, -1}); err == nil {
		t.Error("expected error for two inferred dimensions")
	}
}

func TestConcat_ChannelAxis(t *testing.T) {
	a := fromFloat32(t, []float32{1, 2, 3, 4}, Shape{1, 1, 2, 2})
	b := fromFloat32(t, []float32{5, 6, 7, 8}, Shape{1, 1, 2, 2})

	out, err := Concat([]*RawTensor{a, b}, 1)
	if err != nil {
		t.Fatalf("Concat: %v", err)
	}
	if !out.Shape().Equal(Shape{1, 2, 2, 2}) {
		t.Errorf("shape = %v", out.Shape())
	}
	checkFloats(t, out.AsFloat32(), []float32{1, 2, 3, 4, 5, 6, 7, 8})
}

func TestConcat_NegativeAxis(t *testing.T) {
	a := fromFloat32(t, []float32{1, 2}, Shape{1, 2})
	b := fromFloat32(t, []float32{3, 4}, Shape{1, 2})

	out, err := Concat([]*RawTensor{a, b}, -1)
	if err != nil {
		t.Fatalf("Concat: %v", err)
	}
	if !out.Shape().Equal(Shape{1, 4}) {
		t.Errorf("shape = %v", out.Shape())
	}
	checkFloats(t, out.AsFloat32(), []float32{1, 2, 3, 4})
}

func TestCast(t *testing.T) {
	x := fromFloat32(t, []float32{1.7, -2.2, 3}, Shape{3})

	i64, err := Cast(x, Int64)
	if err != nil {
		t.Fatalf("Cast: %v", err)
	}
	got := i64.AsInt64()
	want := []int64{1, -2, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("element %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestDepthToSpace_Block2(t *testing.T) {
	// CRD ordering: channel c feeds offset (c/block%block, c%block).
	x := fromFloat32(t, []float32{1, 2, 3, 4}, Shape{1, 4, 1, 1})
	out, err := DepthToSpace(x, 2)
	if err != nil {
		t.Fatalf("DepthToSpace: %v", err)
	}
	if !out.Shape().Equal(Shape{1, 1, 2, 2}) {
		t.Errorf("shape = %v", out.Shape())
	}
	checkFloats(t, out.AsFloat32(), []float32{1, 2, 3, 4})
}

func TestPixelUnshuffle_InvertsDepthToSpace(t *testing.T) {
	data := make([]float32, 32)
	for i := range data {
		data[i] = float32(i)
	}
	x := fromFloat32(t, data, Shape{1, 8, 2, 2})

	up, err := DepthToSpace(x, 2)
	if err != nil {
		t.Fatalf("DepthToSpace: %v", err)
	}
	down, err := PixelUnshuffle(up, 2)
	if err != nil {
		t.Fatalf("PixelUnshuffle: %v", err)
	}
	if !down.Shape().Equal(x.Shape()) {
		t.Errorf("shape = %v", down.Shape())
	}
	checkFloats(t, down.AsFloat32(), data)
}

func TestSpaceToDepth_BlockMajorChannelOrder(t *testing.T) {
	// The ONNX operator groups output channels by block offset, not by
	// source channel: out[(bi*2+bj)*C+ci] takes in[ci] at offset (bi, bj).
	// With 3 channels the two orderings differ from output channel 1 on.
	data := make([]float32, 48)
	for i := range data {
		data[i] = float32(i)
	}
	x := fromFloat32(t, data, Shape{1, 3, 4, 4})

	out, err := SpaceToDepth(x, 2)
	if err != nil {
		t.Fatalf("SpaceToDepth: %v", err)
	}
	if !out.Shape().Equal(Shape{1, 12, 2, 2}) {
		t.Fatalf("shape = %v", out.Shape())
	}

	got := out.AsFloat32()
	want := make([]float32, 48)
	for q := 0; q < 12; q++ {
		ci, r := q%3, q/3
		bi, bj := r/2, r%2
		for h := 0; h < 2; h++ {
			for w := 0; w < 2; w++ {
				want[(q*2+h)*2+w] = float32(ci*16 + (2*h+bi)*4 + (2*w+bj))
			}
		}
	}
	checkFloats(t, got, want)

	// Spot check: output channel 1 is channel 1 at offset (0,0), so the
	// value at flat index 4 is element 16 of the input.
	if got[4] != 16 {
		t.Errorf("element 4 = %g, want 16", got[4])
	}
}

func TestPixelUnshuffle_ChannelMajorOrder(t *testing.T) {
	// Pixel unshuffle keeps the source channel as the outer group:
	// out[ci*4+bi*2+bj] takes in[ci] at offset (bi, bj).
	data := make([]float32, 48)
	for i := range data {
		data[i] = float32(i)
	}
	x := fromFloat32(t, data, Shape{1, 3, 4, 4})

	out, err := PixelUnshuffle(x, 2)
	if err != nil {
		t.Fatalf("PixelUnshuffle: %v", err)
	}
	got := out.AsFloat32()
	want := make([]float32, 48)
	for p := 0; p < 12; p++ {
		ci, r := p/4, p%4
		bi, bj := r/2, r%2
		for h := 0; h < 2; h++ {
			for w := 0; w < 2; w++ {
				want[(p*2+h)*2+w] = float32(ci*16 + (2*h+bi)*4 + (2*w+bj))
			}
		}
	}
	checkFloats(t, got, want)
}

func TestDepthToSpace_BadChannels(t *testing.T) {
	x := fromFloat32(t, []float32{1, 2, 3}, Shape{1, 3, 1, 1})
	if _, err := DepthToSpace(x, 2); err == nil {
		t.Error("expected error for 3 channels with block 2")
	}
}

func TestResizeNearest(t *testing.T) {
	x := fromFloat32(t, []float32{1, 2, 3, 4}, Shape{1, 1, 2, 2})
	out, err := ResizeNearest(x, 2)
	if err != nil {
		t.Fatalf("ResizeNearest: %v", err)
	}
	if !out.Shape().Equal(Shape{1, 1, 4, 4}) {
		t.Errorf("shape = %v", out.Shape())
	}
	checkFloats(t, out.AsFloat32(), []float32{
		1, 1, 2, 2,
		1, 1, 2, 2,
		3, 3, 4, 4,
		3, 3, 4, 4,
	})
}

func TestFloat16Conversion(t *testing.T) {
	cases := []struct {
		bits uint16
		want float32
	}{
		{0x3c00, 1.0},
		{0xc000, -2.0},
		{0x3800, 0.5},
		{0x0000, 0.0},
	}
	for _, c := range cases {
		if got := Float16ToFloat32(c.bits); got != c.want {
			t.Errorf("Float16ToFloat32(%#04x) = %g, want %g", c.bits, got, c.want)
		}
	}

	for _, v := range []float32{0, 1, -2, 0.5, 1024, -0.125} {
		back := Float16ToFloat32(Float32ToFloat16(v))
		if back != v {
			t.Errorf("fp16 round trip of %g gave %g", v, back)
		}
	}

	// Values beyond fp16 range saturate to infinity.
	if got := Float16ToFloat32(Float32ToFloat16(1e10)); !math.IsInf(float64(got), 1) {
		t.Errorf("overflow gave %g, want +Inf", got)
	}
}

func TestBFloat16Conversion(t *testing.T) {
	for _, v := range []float32{0, 1, -2, 3.0, 256} {
		back := BFloat16ToFloat32(Float32ToBFloat16(v))
		if back != v {
			t.Errorf("bf16 round trip of %g gave %g", v, back)
		}
	}
}
