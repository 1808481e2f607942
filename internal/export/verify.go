package export

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/overscale-ml/overscale/internal/nn"
	"github.com/overscale-ml/overscale/internal/onnx"
	"github.com/overscale-ml/overscale/internal/tensor"
)

// Verification tolerances: exact re-execution for float32 exports, weight
// rounding headroom for float16.
const (
	ToleranceFP32 = 1e-5
	ToleranceFP16 = 1e-2
)

// verifySeed makes verification inputs reproducible across runs.
const verifySeed = 42

// VerifyInput builds the seeded random tensor used to compare the exported
// model against the reference forward pass.
func VerifyInput(shape tensor.Shape) (*tensor.RawTensor, error) {
	rng := rand.New(rand.NewSource(verifySeed))
	data := make([]float32, shape.NumElements())
	for i := range data {
		data[i] = rng.Float32()
	}
	return tensor.FromFloat32(data, shape)
}

// Verify parses the written model back, executes it on the given input and
// compares it element-wise against the reference forward pass of the
// network.
func Verify(path string, net nn.Module, bk tensor.Backend, input *tensor.RawTensor, tolerance float64) error {
	model, err := onnx.Load(path, onnx.LoadOptions{Backend: bk})
	if err != nil {
		return fmt.Errorf("reload exported model: %w", err)
	}

	got, err := model.Forward(input)
	if err != nil {
		return fmt.Errorf("execute exported model: %w", err)
	}
	want := net.Forward(bk, input)

	if !got.Shape().Equal(want.Shape()) {
		return fmt.Errorf("output shape mismatch: exported %v, reference %v", got.Shape(), want.Shape())
	}

	gotData := got.AsFloat32()
	wantData := want.AsFloat32()
	var maxDiff float64
	for i := range wantData {
		diff := math.Abs(float64(gotData[i]) - float64(wantData[i]))
		if diff > maxDiff {
			maxDiff = diff
		}
	}
	if maxDiff > tolerance {
		return fmt.Errorf("output mismatch: max abs diff %g exceeds tolerance %g", maxDiff, tolerance)
	}
	return nil
}
