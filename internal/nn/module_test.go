package nn

import (
	"strings"
	"testing"

	"github.com/overscale-ml/overscale/internal/backend/cpu"
	"github.com/overscale-ml/overscale/internal/tensor"
)

func float32Tensor(t *testing.T, data []float32, shape tensor.Shape) *tensor.RawTensor {
	t.Helper()
	raw, err := tensor.FromFloat32(data, shape)
	if err != nil {
		t.Fatalf("FromFloat32: %v", err)
	}
	return raw
}

func TestConv2D_LoadAndForward(t *testing.T) {
	backend := cpu.New()

	conv := NewConv2D(1, 1, 1, 1, 0)
	state := map[string]*tensor.RawTensor{
		"head.weight": float32Tensor(t, []float32{2}, tensor.Shape{1, 1, 1, 1}),
		"head.bias":   float32Tensor(t, []float32{0.5}, tensor.Shape{1}),
	}
	if err := conv.LoadState(state, "head"); err != nil {
		t.Fatalf("LoadState: %v", err)
	}

	x := float32Tensor(t, []float32{1, 2, 3, 4}, tensor.Shape{1, 1, 2, 2})
	out := conv.Forward(backend, x)

	expected := []float32{2.5, 4.5, 6.5, 8.5}
	outData := out.AsFloat32()
	for i, exp := range expected {
		if outData[i] != exp {
			t.Errorf("Output[%d]: expected %.1f, got %.1f", i, exp, outData[i])
		}
	}
}

func TestConv2D_ShapeMismatch(t *testing.T) {
	conv := NewConv2D(3, 64, 3, 1, 1)
	state := map[string]*tensor.RawTensor{
		"conv_first.weight": float32Tensor(t, make([]float32, 64*3), tensor.Shape{64, 3, 1, 1}),
		"conv_first.bias":   float32Tensor(t, make([]float32, 64), tensor.Shape{64}),
	}

	err := conv.LoadState(state, "conv_first")
	if err == nil {
		t.Fatal("Expected shape mismatch error")
	}
	if !strings.Contains(err.Error(), "conv_first.weight") {
		t.Errorf("Error should name the tensor, got: %v", err)
	}
}

func TestConv2D_MissingParameter(t *testing.T) {
	conv := NewConv2D(1, 1, 1, 1, 0)
	err := conv.LoadState(map[string]*tensor.RawTensor{}, "conv_last")
	if err == nil {
		t.Fatal("Expected missing parameter error")
	}
	if !strings.Contains(err.Error(), "conv_last.weight") {
		t.Errorf("Error should name the missing key, got: %v", err)
	}
}

func TestPReLU_LoadAndForward(t *testing.T) {
	backend := cpu.New()

	act := NewPReLU(2)
	state := map[string]*tensor.RawTensor{
		"body.1.weight": float32Tensor(t, []float32{0.1, 0.5}, tensor.Shape{2}),
	}
	if err := act.LoadState(state, "body.1"); err != nil {
		t.Fatalf("LoadState: %v", err)
	}

	x := float32Tensor(t, []float32{-1, 1, -2, 2}, tensor.Shape{1, 2, 1, 2})
	out := act.Forward(backend, x)

	expected := []float32{-0.1, 1, -1, 2}
	outData := out.AsFloat32()
	for i, exp := range expected {
		if outData[i] != exp {
			t.Errorf("Output[%d]: expected %.2f, got %.2f", i, exp, outData[i])
		}
	}
}

func TestSequential_ForwardAndState(t *testing.T) {
	backend := cpu.New()

	seq := NewSequential().
		Add("0", NewConv2D(1, 1, 1, 1, 0)).
		Add("", NewLeakyReLU(0.2))

	state := map[string]*tensor.RawTensor{
		"body.0.weight": float32Tensor(t, []float32{1}, tensor.Shape{1, 1, 1, 1}),
		"body.0.bias":   float32Tensor(t, []float32{0}, tensor.Shape{1}),
	}
	if err := seq.LoadState(state, "body"); err != nil {
		t.Fatalf("LoadState: %v", err)
	}

	x := float32Tensor(t, []float32{-1, 1}, tensor.Shape{1, 1, 1, 2})
	out := seq.Forward(backend, x)

	expected := []float32{-0.2, 1}
	outData := out.AsFloat32()
	for i, exp := range expected {
		if outData[i] != exp {
			t.Errorf("Output[%d]: expected %.1f, got %.1f", i, exp, outData[i])
		}
	}
}

func TestSequential_Parameters(t *testing.T) {
	seq := NewSequential().
		Add("0", NewConv2D(1, 1, 1, 1, 0)).
		Add("2", NewConv2D(1, 1, 1, 1, 0))

	state := map[string]*tensor.RawTensor{
		"body.0.weight": float32Tensor(t, []float32{1}, tensor.Shape{1, 1, 1, 1}),
		"body.0.bias":   float32Tensor(t, []float32{0}, tensor.Shape{1}),
		"body.2.weight": float32Tensor(t, []float32{1}, tensor.Shape{1, 1, 1, 1}),
		"body.2.bias":   float32Tensor(t, []float32{0}, tensor.Shape{1}),
	}
	if err := seq.LoadState(state, "body"); err != nil {
		t.Fatalf("LoadState: %v", err)
	}

	seen := map[string]bool{}
	seq.Parameters("body", func(path string, p *tensor.RawTensor) {
		seen[path] = true
	})

	for key := range state {
		if !seen[key] {
			t.Errorf("Parameters did not visit %q", key)
		}
	}
}

func TestPixelShuffle_RoundTrip(t *testing.T) {
	backend := cpu.New()

	x := float32Tensor(t, []float32{1, 2, 3, 4}, tensor.Shape{1, 4, 1, 1})
	shuffled := NewPixelShuffle(2).Forward(backend, x)
	if !shuffled.Shape().Equal(tensor.Shape{1, 1, 2, 2}) {
		t.Fatalf("Expected shape [1 1 2 2], got %v", shuffled.Shape())
	}

	back := NewPixelUnshuffle(2, 1).Forward(backend, shuffled)
	if !back.Shape().Equal(x.Shape()) {
		t.Fatalf("Expected shape %v, got %v", x.Shape(), back.Shape())
	}
	backData := back.AsFloat32()
	for i, exp := range x.AsFloat32() {
		if backData[i] != exp {
			t.Errorf("RoundTrip[%d]: expected %.0f, got %.0f", i, exp, backData[i])
		}
	}
}
