package tensor

// Backend defines the compute interface the network layers run on.
// The converter ships a CPU implementation; the tracing exporter wraps any
// Backend to record the operation stream of a forward pass.
type Backend interface {
	// Element-wise binary operations (with NumPy-style broadcasting)
	Add(a, b *RawTensor) *RawTensor
	Sub(a, b *RawTensor) *RawTensor
	Mul(a, b *RawTensor) *RawTensor
	Div(a, b *RawTensor) *RawTensor

	// Scalar operations
	MulScalar(x *RawTensor, scalar float32) *RawTensor
	AddScalar(x *RawTensor, scalar float32) *RawTensor

	// Convolution: input [N,C,H,W], kernel [C_out,C_in,K_h,K_w]
	Conv2D(input, kernel *RawTensor, stride, padding int) *RawTensor

	// Activations
	LeakyReLU(x *RawTensor, alpha float32) *RawTensor
	PReLU(x, slope *RawTensor) *RawTensor

	// Manipulation
	Concat(tensors []*RawTensor, dim int) *RawTensor

	// Pixel rearrangement and resampling
	ResizeNearest(x *RawTensor, scale int) *RawTensor
	DepthToSpace(x *RawTensor, block int) *RawTensor
	PixelUnshuffle(x *RawTensor, block int) *RawTensor

	// Metadata
	Name() string
	Device() Device
}
