package loader

import (
	"fmt"

	"github.com/overscale-ml/overscale/internal/tensor"
)

// Checkpoint is a loaded generator state dict with its file metadata.
// Tensor keys are normalized network parameter paths; all floating-point
// weights are float32.
type Checkpoint struct {
	Tensors  map[string]*tensor.RawTensor
	Metadata map[string]string
}

// LoadCheckpoint reads a safetensors checkpoint and normalizes its key
// layout. Every tensor is loaded eagerly; SR checkpoints are tens of MB.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	reader, err := NewSafeTensorsReader(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = reader.Close()
	}()

	raw := map[string]*tensor.RawTensor{}
	for _, name := range reader.TensorNames() {
		t, err := reader.LoadTensor(name)
		if err != nil {
			return nil, fmt.Errorf("load tensor %q: %w", name, err)
		}
		// Floating-point weights were widened on load; anything left over
		// (integer counters and the like) has no place in a generator graph.
		if t.DType() != tensor.Float32 {
			return nil, fmt.Errorf("tensor %q has unsupported dtype %v, expected a floating-point weight", name, t.DType())
		}
		raw[name] = t
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("checkpoint %s contains no tensors", path)
	}

	return &Checkpoint{
		Tensors:  NormalizeStateDict(raw),
		Metadata: reader.Metadata(),
	}, nil
}
