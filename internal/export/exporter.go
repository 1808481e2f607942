package export

import (
	"fmt"

	"github.com/overscale-ml/overscale/internal/arch"
	"github.com/overscale-ml/overscale/internal/onnx"
	"github.com/overscale-ml/overscale/internal/tensor"
)

// Options controls an export run.
type Options struct {
	Opset       int
	Dynamo      bool         // trace a forward pass instead of walking the module tree
	FP16        bool         // additionally write a float16 sibling file
	StaticShape tensor.Shape // [N,C,H,W] for static exports, nil for dynamic
	Optimize    bool
	Verify      bool
	GraphName   string
	Metadata    map[string]string
}

// Result reports the files an export produced.
type Result struct {
	Path     string
	FP16Path string
}

// traceSideLength is the spatial size of the sample input used by the
// tracing exporter for dynamic-shape models. Divisible by the largest
// pixel-unshuffle block.
const traceSideLength = 32

// Export converts the network to ONNX at path.
func Export(net arch.Network, bk tensor.Backend, path string, opts Options) (*Result, error) {
	model, err := buildModel(net, bk, opts)
	if err != nil {
		return nil, err
	}

	if opts.Optimize {
		if err := Optimize(model); err != nil {
			return nil, fmt.Errorf("optimize: %w", err)
		}
	}

	if err := onnx.WriteFile(path, model); err != nil {
		return nil, fmt.Errorf("write model: %w", err)
	}

	var verifyInput *tensor.RawTensor
	if opts.Verify {
		verifyInput, err = VerifyInput(sampleShape(net, opts))
		if err != nil {
			return nil, fmt.Errorf("verify input: %w", err)
		}
		if err := Verify(path, net, bk, verifyInput, ToleranceFP32); err != nil {
			return nil, fmt.Errorf("verify: %w", err)
		}
	}

	result := &Result{Path: path}
	if opts.FP16 {
		halfModel, err := ToFloat16(model)
		if err != nil {
			return nil, fmt.Errorf("fp16 conversion: %w", err)
		}
		halfPath := FP16Path(path)
		if err := onnx.WriteFile(halfPath, halfModel); err != nil {
			return nil, fmt.Errorf("write fp16 model: %w", err)
		}
		if opts.Verify {
			if err := Verify(halfPath, net, bk, verifyInput, ToleranceFP16); err != nil {
				return nil, fmt.Errorf("verify fp16: %w", err)
			}
		}
		result.FP16Path = halfPath
	}
	return result, nil
}

func buildModel(net arch.Network, bk tensor.Backend, opts Options) (*onnx.ModelProto, error) {
	b := NewBuilder(opts.Opset)
	inDims, outDims := ioDims(net, opts.StaticShape)

	var last string
	if opts.Dynamo {
		sample, err := VerifyInput(sampleShape(net, opts))
		if err != nil {
			return nil, fmt.Errorf("trace input: %w", err)
		}
		params := map[string]*tensor.RawTensor{}
		net.Parameters("", func(path string, p *tensor.RawTensor) {
			params[path] = p
		})
		tb := newTracingBackend(bk, b, sample, params)
		result := net.Forward(tb, sample)
		last, err = tb.outputValue(result)
		if err != nil {
			return nil, fmt.Errorf("trace: %w", err)
		}
	} else {
		last = net.Emit(b, inputName)
	}

	name := opts.GraphName
	if name == "" {
		name = "generator"
	}
	return b.Finish(name, last, inDims, outDims, opts.Metadata), nil
}

// ioDims declares the graph I/O shapes: the configured static shape, or
// symbolic batch/height/width dims for dynamic exports.
func ioDims(net arch.Network, static tensor.Shape) (in, out []Dim) {
	scale := int64(net.Scale())
	if len(static) == 4 {
		in = []Dim{
			{Value: int64(static[0])},
			{Value: int64(static[1])},
			{Value: int64(static[2])},
			{Value: int64(static[3])},
		}
		out = []Dim{
			{Value: int64(static[0])},
			{Value: int64(net.OutputChannels())},
			{Value: int64(static[2]) * scale},
			{Value: int64(static[3]) * scale},
		}
		return in, out
	}
	in = []Dim{
		{Param: "batch"},
		{Value: int64(net.InputChannels())},
		{Param: "height"},
		{Param: "width"},
	}
	out = []Dim{
		{Param: "batch"},
		{Value: int64(net.OutputChannels())},
		{Param: "out_height"},
		{Param: "out_width"},
	}
	return in, out
}

// sampleShape is the concrete input shape used for tracing and verification.
func sampleShape(net arch.Network, opts Options) tensor.Shape {
	if len(opts.StaticShape) == 4 {
		return opts.StaticShape.Clone()
	}
	return tensor.Shape{1, net.InputChannels(), traceSideLength, traceSideLength}
}
