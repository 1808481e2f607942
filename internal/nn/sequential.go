package nn

import (
	"fmt"

	"github.com/overscale-ml/overscale/internal/tensor"
)

// Sequential chains child modules in order. Each child has a state-dict name
// segment; stateless children may use an empty name if nothing binds under it.
type Sequential struct {
	names    []string
	children []Module
}

// NewSequential creates an empty container.
func NewSequential() *Sequential {
	return &Sequential{}
}

// Add appends a named child and returns the container for chaining.
func (m *Sequential) Add(name string, child Module) *Sequential {
	m.names = append(m.names, name)
	m.children = append(m.children, child)
	return m
}

// Len returns the number of children.
func (m *Sequential) Len() int {
	return len(m.children)
}

func (m *Sequential) Forward(bk tensor.Backend, x *tensor.RawTensor) *tensor.RawTensor {
	for _, child := range m.children {
		x = child.Forward(bk, x)
	}
	return x
}

func (m *Sequential) Emit(g GraphBuilder, input string) string {
	for _, child := range m.children {
		input = child.Emit(g, input)
	}
	return input
}

func (m *Sequential) LoadState(state map[string]*tensor.RawTensor, prefix string) error {
	for i, child := range m.children {
		childPrefix := prefix
		if m.names[i] != "" {
			childPrefix = joinPath(prefix, m.names[i])
		}
		if err := child.LoadState(state, childPrefix); err != nil {
			return fmt.Errorf("child %d: %w", i, err)
		}
	}
	return nil
}

func (m *Sequential) Parameters(prefix string, visit func(path string, p *tensor.RawTensor)) {
	for i, child := range m.children {
		childPrefix := prefix
		if m.names[i] != "" {
			childPrefix = joinPath(prefix, m.names[i])
		}
		child.Parameters(childPrefix, visit)
	}
}
