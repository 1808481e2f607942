package cpu

import (
	"testing"

	"github.com/overscale-ml/overscale/internal/tensor"
)

func TestConv2D_BasicForward(t *testing.T) {
	backend := New()

	// Input: [1, 1, 3, 3] single channel image
	input, _ := tensor.NewRaw(tensor.Shape{1, 1, 3, 3}, tensor.Float32, tensor.CPU)
	inputData := input.AsFloat32()
	// 1 2 3
	// 4 5 6
	// 7 8 9
	for i := 0; i < 9; i++ {
		inputData[i] = float32(i + 1)
	}

	// Kernel: [1, 1, 2, 2] diagonal
	kernel, _ := tensor.NewRaw(tensor.Shape{1, 1, 2, 2}, tensor.Float32, tensor.CPU)
	kernelData := kernel.AsFloat32()
	kernelData[0] = 1.0
	kernelData[3] = 1.0

	output := backend.Conv2D(input, kernel, 1, 0)

	// out_h = (3 + 0 - 2) / 1 + 1 = 2
	expectedShape := tensor.Shape{1, 1, 2, 2}
	if !output.Shape().Equal(expectedShape) {
		t.Fatalf("Expected shape %v, got %v", expectedShape, output.Shape())
	}

	// Diagonal sums of each 2x2 patch
	expected := []float32{6, 8, 12, 14}
	outputData := output.AsFloat32()
	for i, exp := range expected {
		if outputData[i] != exp {
			t.Errorf("Output[%d]: expected %.1f, got %.1f", i, exp, outputData[i])
		}
	}
}

func TestConv2D_SamePadding(t *testing.T) {
	backend := New()

	// 3x3 conv with padding 1 keeps spatial dims (the common SR layer shape)
	input, _ := tensor.NewRaw(tensor.Shape{1, 1, 4, 4}, tensor.Float32, tensor.CPU)
	inputData := input.AsFloat32()
	for i := range inputData {
		inputData[i] = 1.0
	}

	kernel, _ := tensor.NewRaw(tensor.Shape{1, 1, 3, 3}, tensor.Float32, tensor.CPU)
	kernelData := kernel.AsFloat32()
	for i := range kernelData {
		kernelData[i] = 1.0
	}

	output := backend.Conv2D(input, kernel, 1, 1)

	expectedShape := tensor.Shape{1, 1, 4, 4}
	if !output.Shape().Equal(expectedShape) {
		t.Fatalf("Expected shape %v, got %v", expectedShape, output.Shape())
	}

	// Corner sees a 2x2 patch, edge a 2x3 patch, interior the full 3x3
	outputData := output.AsFloat32()
	if outputData[0] != 4 {
		t.Errorf("Corner: expected 4, got %.1f", outputData[0])
	}
	if outputData[1] != 6 {
		t.Errorf("Edge: expected 6, got %.1f", outputData[1])
	}
	if outputData[5] != 9 {
		t.Errorf("Interior: expected 9, got %.1f", outputData[5])
	}
}

func TestConv2D_MultiChannel(t *testing.T) {
	backend := New()

	// Input: [1, 2, 2, 2], each channel filled with its index + 1
	input, _ := tensor.NewRaw(tensor.Shape{1, 2, 2, 2}, tensor.Float32, tensor.CPU)
	inputData := input.AsFloat32()
	for c := 0; c < 2; c++ {
		for i := 0; i < 4; i++ {
			inputData[c*4+i] = float32(c + 1)
		}
	}

	// Kernel: [3, 2, 1, 1], out channel o has weight o+1 on every input channel
	kernel, _ := tensor.NewRaw(tensor.Shape{3, 2, 1, 1}, tensor.Float32, tensor.CPU)
	kernelData := kernel.AsFloat32()
	for o := 0; o < 3; o++ {
		kernelData[o*2] = float32(o + 1)
		kernelData[o*2+1] = float32(o + 1)
	}

	output := backend.Conv2D(input, kernel, 1, 0)

	expectedShape := tensor.Shape{1, 3, 2, 2}
	if !output.Shape().Equal(expectedShape) {
		t.Fatalf("Expected shape %v, got %v", expectedShape, output.Shape())
	}

	// Each output channel o: (1 + 2) * (o+1)
	outputData := output.AsFloat32()
	for o := 0; o < 3; o++ {
		want := float32(3 * (o + 1))
		for i := 0; i < 4; i++ {
			if got := outputData[o*4+i]; got != want {
				t.Errorf("Channel %d pos %d: expected %.1f, got %.1f", o, i, got, want)
			}
		}
	}
}

func TestConv2D_Batch(t *testing.T) {
	backend := New()

	input, _ := tensor.NewRaw(tensor.Shape{2, 1, 2, 2}, tensor.Float32, tensor.CPU)
	inputData := input.AsFloat32()
	for i := 0; i < 4; i++ {
		inputData[i] = 1.0   // sample 0
		inputData[4+i] = 2.0 // sample 1
	}

	kernel, _ := tensor.NewRaw(tensor.Shape{1, 1, 2, 2}, tensor.Float32, tensor.CPU)
	kernelData := kernel.AsFloat32()
	for i := range kernelData {
		kernelData[i] = 1.0
	}

	output := backend.Conv2D(input, kernel, 1, 0)

	if !output.Shape().Equal(tensor.Shape{2, 1, 1, 1}) {
		t.Fatalf("Expected shape [2 1 1 1], got %v", output.Shape())
	}
	outputData := output.AsFloat32()
	if outputData[0] != 4 || outputData[1] != 8 {
		t.Errorf("Expected [4 8], got %v", outputData)
	}
}

func TestAdd_Broadcast(t *testing.T) {
	backend := New()

	// [1, 2, 2, 2] + [1, 2, 1, 1] bias-style broadcast
	a, _ := tensor.NewRaw(tensor.Shape{1, 2, 2, 2}, tensor.Float32, tensor.CPU)
	aData := a.AsFloat32()
	for i := range aData {
		aData[i] = float32(i)
	}

	bias, _ := tensor.NewRaw(tensor.Shape{1, 2, 1, 1}, tensor.Float32, tensor.CPU)
	biasData := bias.AsFloat32()
	biasData[0] = 10.0
	biasData[1] = 20.0

	result := backend.Add(a, bias)

	if !result.Shape().Equal(a.Shape()) {
		t.Fatalf("Expected shape %v, got %v", a.Shape(), result.Shape())
	}
	resultData := result.AsFloat32()
	expected := []float32{10, 11, 12, 13, 24, 25, 26, 27}
	for i, exp := range expected {
		if resultData[i] != exp {
			t.Errorf("Result[%d]: expected %.1f, got %.1f", i, exp, resultData[i])
		}
	}
}

func TestElementwiseOps(t *testing.T) {
	backend := New()

	a := mustFromFloat32(t, []float32{1, 2, 3, 4}, tensor.Shape{4})
	b := mustFromFloat32(t, []float32{4, 3, 2, 1}, tensor.Shape{4})

	checkData(t, "add", backend.Add(a, b).AsFloat32(), []float32{5, 5, 5, 5})
	checkData(t, "sub", backend.Sub(a, b).AsFloat32(), []float32{-3, -1, 1, 3})
	checkData(t, "mul", backend.Mul(a, b).AsFloat32(), []float32{4, 6, 6, 4})
	checkData(t, "div", backend.Div(a, b).AsFloat32(), []float32{0.25, 2.0 / 3.0, 1.5, 4})
	checkData(t, "mulscalar", backend.MulScalar(a, 0.2).AsFloat32(), []float32{0.2, 0.4, 0.6, 0.8})
	checkData(t, "addscalar", backend.AddScalar(a, 1).AsFloat32(), []float32{2, 3, 4, 5})
}

func TestLeakyReLU(t *testing.T) {
	backend := New()

	x := mustFromFloat32(t, []float32{-1, -0.5, 0, 0.5, 1}, tensor.Shape{5})
	result := backend.LeakyReLU(x, 0.2)
	checkData(t, "leakyrelu", result.AsFloat32(), []float32{-0.2, -0.1, 0, 0.5, 1})
}

func TestPReLU_PerChannel(t *testing.T) {
	backend := New()

	// Two channels, per-channel slopes 0.1 and 0.5
	x := mustFromFloat32(t, []float32{-1, 1, -2, 2}, tensor.Shape{1, 2, 1, 2})
	slope := mustFromFloat32(t, []float32{0.1, 0.5}, tensor.Shape{2})

	result := backend.PReLU(x, slope)
	checkData(t, "prelu", result.AsFloat32(), []float32{-0.1, 1, -1, 2})
}

func TestDepthToSpace_RoundTrip(t *testing.T) {
	backend := New()

	x := mustFromFloat32(t, []float32{1, 2, 3, 4}, tensor.Shape{1, 4, 1, 1})

	shuffled := backend.DepthToSpace(x, 2)
	if !shuffled.Shape().Equal(tensor.Shape{1, 1, 2, 2}) {
		t.Fatalf("Expected shape [1 1 2 2], got %v", shuffled.Shape())
	}
	// Pixel shuffle ordering: channel index maps to (row, col) within the block
	checkData(t, "depthtospace", shuffled.AsFloat32(), []float32{1, 2, 3, 4})

	back := backend.PixelUnshuffle(shuffled, 2)
	if !back.Shape().Equal(x.Shape()) {
		t.Fatalf("Expected shape %v, got %v", x.Shape(), back.Shape())
	}
	checkData(t, "pixelunshuffle", back.AsFloat32(), x.AsFloat32())
}

func TestResizeNearest(t *testing.T) {
	backend := New()

	x := mustFromFloat32(t, []float32{1, 2, 3, 4}, tensor.Shape{1, 1, 2, 2})
	result := backend.ResizeNearest(x, 2)

	if !result.Shape().Equal(tensor.Shape{1, 1, 4, 4}) {
		t.Fatalf("Expected shape [1 1 4 4], got %v", result.Shape())
	}
	expected := []float32{
		1, 1, 2, 2,
		1, 1, 2, 2,
		3, 3, 4, 4,
		3, 3, 4, 4,
	}
	checkData(t, "resize", result.AsFloat32(), expected)
}

func TestConcat_Channels(t *testing.T) {
	backend := New()

	a := mustFromFloat32(t, []float32{1, 2}, tensor.Shape{1, 1, 1, 2})
	b := mustFromFloat32(t, []float32{3, 4}, tensor.Shape{1, 1, 1, 2})

	result := backend.Concat([]*tensor.RawTensor{a, b}, 1)
	if !result.Shape().Equal(tensor.Shape{1, 2, 1, 2}) {
		t.Fatalf("Expected shape [1 2 1 2], got %v", result.Shape())
	}
	checkData(t, "concat", result.AsFloat32(), []float32{1, 2, 3, 4})
}

func mustFromFloat32(t *testing.T, data []float32, shape tensor.Shape) *tensor.RawTensor {
	t.Helper()
	raw, err := tensor.FromFloat32(data, shape)
	if err != nil {
		t.Fatalf("FromFloat32: %v", err)
	}
	return raw
}

func checkData(t *testing.T, name string, got, want []float32) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: expected %d elements, got %d", name, len(want), len(got))
	}
	for i := range want {
		diff := got[i] - want[i]
		if diff < -1e-6 || diff > 1e-6 {
			t.Errorf("%s[%d]: expected %g, got %g", name, i, want[i], got[i])
		}
	}
}
