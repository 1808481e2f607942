package operators

import (
	"fmt"

	"github.com/overscale-ml/overscale/internal/tensor"
)

// OpHandler processes an ONNX node and returns output tensors.
type OpHandler func(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error)

// Context provides the backend for operator execution.
type Context struct {
	Backend tensor.Backend
}

// Registry maps ONNX operator types to handler functions.
type Registry struct {
	handlers map[string]OpHandler
}

// NewRegistry creates a registry with all supported operators.
func NewRegistry() *Registry {
	r := &Registry{
		handlers: make(map[string]OpHandler),
	}
	r.registerMathOps()
	r.registerActivations()
	r.registerShapeOps()
	r.registerUtilityOps()
	return r
}

// Register adds a custom operator handler.
func (r *Registry) Register(opType string, handler OpHandler) {
	r.handlers[opType] = handler
}

// Get returns the handler for an operator type.
func (r *Registry) Get(opType string) (OpHandler, bool) {
	h, ok := r.handlers[opType]
	return h, ok
}

// Execute runs an operator with the given inputs.
func (r *Registry) Execute(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	handler, ok := r.handlers[node.OpType]
	if !ok {
		return nil, fmt.Errorf("unsupported operator: %s", node.OpType)
	}
	return handler(ctx, node, inputs)
}

// SupportedOps returns all supported operator types.
func (r *Registry) SupportedOps() []string {
	ops := make([]string, 0, len(r.handlers))
	for op := range r.handlers {
		ops = append(ops, op)
	}
	return ops
}
