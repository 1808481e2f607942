// Package cpu implements the pure-Go CPU backend used for reference
// inference and export verification.
package cpu

import (
	"fmt"

	"github.com/overscale-ml/overscale/internal/parallel"
	"github.com/overscale-ml/overscale/internal/tensor"
)

// Backend implements tensor operations on CPU.
type Backend struct {
	device tensor.Device
	par    parallel.Config
}

// New creates a new CPU backend using all available CPUs.
func New() *Backend {
	return &Backend{
		device: tensor.CPU,
		par:    parallel.DefaultConfig(),
	}
}

// NewWithWorkers creates a CPU backend with a capped worker count.
// workers <= 0 means "auto".
func NewWithWorkers(workers int) *Backend {
	return &Backend{
		device: tensor.CPU,
		par:    parallel.WithWorkers(workers),
	}
}

// Name returns the backend name.
func (cpu *Backend) Name() string {
	return "CPU"
}

// Device returns the compute device.
func (cpu *Backend) Device() tensor.Device {
	return cpu.device
}

// Add performs element-wise addition with NumPy-style broadcasting.
func (cpu *Backend) Add(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binaryOp("add", a, b, func(x, y float32) float32 { return x + y })
}

// Sub performs element-wise subtraction with broadcasting.
func (cpu *Backend) Sub(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binaryOp("sub", a, b, func(x, y float32) float32 { return x - y })
}

// Mul performs element-wise multiplication with broadcasting.
func (cpu *Backend) Mul(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binaryOp("mul", a, b, func(x, y float32) float32 { return x * y })
}

// Div performs element-wise division with broadcasting.
func (cpu *Backend) Div(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binaryOp("div", a, b, func(x, y float32) float32 { return x / y })
}

// MulScalar multiplies every element by a scalar.
func (cpu *Backend) MulScalar(x *tensor.RawTensor, scalar float32) *tensor.RawTensor {
	return cpu.unaryOp("mulscalar", x, func(v float32) float32 { return v * scalar })
}

// AddScalar adds a scalar to every element.
func (cpu *Backend) AddScalar(x *tensor.RawTensor, scalar float32) *tensor.RawTensor {
	return cpu.unaryOp("addscalar", x, func(v float32) float32 { return v + scalar })
}

// LeakyReLU applies leaky ReLU with the given negative slope.
func (cpu *Backend) LeakyReLU(x *tensor.RawTensor, alpha float32) *tensor.RawTensor {
	result, err := tensor.LeakyReLU(x, alpha)
	if err != nil {
		panic(fmt.Sprintf("leakyrelu: %v", err))
	}
	return result
}

// PReLU applies parametric ReLU with a per-channel slope tensor.
func (cpu *Backend) PReLU(x, slope *tensor.RawTensor) *tensor.RawTensor {
	result, err := tensor.PReLU(x, slope)
	if err != nil {
		panic(fmt.Sprintf("prelu: %v", err))
	}
	return result
}

// Concat concatenates tensors along a dimension.
func (cpu *Backend) Concat(tensors []*tensor.RawTensor, dim int) *tensor.RawTensor {
	result, err := tensor.Concat(tensors, dim)
	if err != nil {
		panic(fmt.Sprintf("concat: %v", err))
	}
	return result
}

// ResizeNearest upsamples spatially by an integer factor.
func (cpu *Backend) ResizeNearest(x *tensor.RawTensor, scale int) *tensor.RawTensor {
	result, err := tensor.ResizeNearest(x, scale)
	if err != nil {
		panic(fmt.Sprintf("resize: %v", err))
	}
	return result
}

// DepthToSpace performs pixel shuffle.
func (cpu *Backend) DepthToSpace(x *tensor.RawTensor, block int) *tensor.RawTensor {
	result, err := tensor.DepthToSpace(x, block)
	if err != nil {
		panic(fmt.Sprintf("depthtospace: %v", err))
	}
	return result
}

// PixelUnshuffle folds spatial blocks into channels, inverting DepthToSpace.
func (cpu *Backend) PixelUnshuffle(x *tensor.RawTensor, block int) *tensor.RawTensor {
	result, err := tensor.PixelUnshuffle(x, block)
	if err != nil {
		panic(fmt.Sprintf("pixelunshuffle: %v", err))
	}
	return result
}

// unaryOp applies f element-wise to a float32 tensor.
func (cpu *Backend) unaryOp(name string, x *tensor.RawTensor, f func(float32) float32) *tensor.RawTensor {
	if x.DType() != tensor.Float32 {
		panic(fmt.Sprintf("%s: unsupported dtype %v", name, x.DType()))
	}
	result, err := tensor.NewRaw(x.Shape(), x.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("%s: %v", name, err))
	}
	in := x.AsFloat32()
	out := result.AsFloat32()
	for i := range in {
		out[i] = f(in[i])
	}
	return result
}

// binaryOp applies f element-wise with broadcasting.
func (cpu *Backend) binaryOp(name string, a, b *tensor.RawTensor, f func(x, y float32) float32) *tensor.RawTensor {
	if a.DType() != tensor.Float32 || b.DType() != tensor.Float32 {
		panic(fmt.Sprintf("%s: unsupported dtypes %v, %v", name, a.DType(), b.DType()))
	}

	outShape, needsBroadcast, err := tensor.BroadcastShapes(a.Shape(), b.Shape())
	if err != nil {
		panic(fmt.Sprintf("%s: %v", name, err))
	}

	result, err := tensor.NewRaw(outShape, a.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("%s: failed to create result tensor: %v", name, err))
	}

	av := a.AsFloat32()
	bv := b.AsFloat32()
	out := result.AsFloat32()

	if !needsBroadcast && a.Shape().Equal(b.Shape()) {
		// Fast path: aligned shapes.
		for i := range out {
			out[i] = f(av[i], bv[i])
		}
		return result
	}

	// Slow path: stride-walk both operands against the broadcast shape.
	aStrides := broadcastStrides(a.Shape(), outShape)
	bStrides := broadcastStrides(b.Shape(), outShape)
	ndim := len(outShape)
	idx := make([]int, ndim)
	for i := range out {
		aFlat, bFlat := 0, 0
		for j := 0; j < ndim; j++ {
			aFlat += idx[j] * aStrides[j]
			bFlat += idx[j] * bStrides[j]
		}
		out[i] = f(av[aFlat], bv[bFlat])

		// Advance the multi-dimensional index.
		for j := ndim - 1; j >= 0; j-- {
			idx[j]++
			if idx[j] < outShape[j] {
				break
			}
			idx[j] = 0
		}
	}
	return result
}

// broadcastStrides computes the effective strides of src when broadcast to
// the target shape: size-1 (or missing) dimensions get stride 0.
func broadcastStrides(src, target tensor.Shape) []int {
	strides := make([]int, len(target))
	srcStrides := src.ComputeStrides()
	diff := len(target) - len(src)
	for i := range target {
		si := i - diff
		if si < 0 || src[si] == 1 {
			strides[i] = 0
		} else {
			strides[i] = srcStrides[si]
		}
	}
	return strides
}
