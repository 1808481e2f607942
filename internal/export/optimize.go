package export

import (
	"fmt"

	"github.com/overscale-ml/overscale/internal/onnx"
)

// Optimize runs the graph cleanup passes in place: Identity elimination,
// dead initializer pruning and topological node ordering.
func Optimize(model *onnx.ModelProto) error {
	if model.Graph == nil {
		return fmt.Errorf("model has no graph")
	}
	graph := model.Graph
	eliminateIdentity(graph)
	pruneInitializers(graph)
	sortNodes(graph)
	return nil
}

// eliminateIdentity removes Identity nodes by rewiring their consumers to
// the Identity's input. An Identity feeding a graph output instead renames
// its producer's output, keeping the declared output name stable.
func eliminateIdentity(graph *onnx.GraphProto) {
	outputNames := map[string]bool{}
	for i := range graph.Outputs {
		outputNames[graph.Outputs[i].Name] = true
	}

	rename := map[string]string{}
	kept := graph.Nodes[:0]
	for i := range graph.Nodes {
		node := graph.Nodes[i]
		if node.OpType != "Identity" || len(node.Inputs) != 1 || len(node.Outputs) != 1 {
			kept = append(kept, node)
			continue
		}
		src, dst := node.Inputs[0], node.Outputs[0]
		if resolved, ok := rename[src]; ok {
			src = resolved
		}
		if outputNames[dst] {
			// Rename the producing value instead of dropping the output.
			rename[src] = dst
			continue
		}
		rename[dst] = src
	}
	graph.Nodes = kept

	for i := range graph.Nodes {
		node := &graph.Nodes[i]
		for j, in := range node.Inputs {
			if resolved, ok := rename[in]; ok {
				node.Inputs[j] = resolved
			}
		}
		for j, out := range node.Outputs {
			if resolved, ok := rename[out]; ok {
				node.Outputs[j] = resolved
			}
		}
	}
}

// pruneInitializers drops initializers no node references.
func pruneInitializers(graph *onnx.GraphProto) {
	used := map[string]bool{}
	for i := range graph.Nodes {
		for _, in := range graph.Nodes[i].Inputs {
			used[in] = true
		}
	}
	kept := graph.Initializers[:0]
	for i := range graph.Initializers {
		if used[graph.Initializers[i].Name] {
			kept = append(kept, graph.Initializers[i])
		}
	}
	graph.Initializers = kept
}

// sortNodes reorders nodes so every value is produced before it is
// consumed.
func sortNodes(graph *onnx.GraphProto) {
	nodes := graph.Nodes
	outputToNode := map[string]int{}
	for i := range nodes {
		for _, out := range nodes[i].Outputs {
			outputToNode[out] = i
		}
	}

	visited := make([]bool, len(nodes))
	sorted := make([]onnx.NodeProto, 0, len(nodes))
	var visit func(i int)
	visit = func(i int) {
		if visited[i] {
			return
		}
		visited[i] = true
		for _, in := range nodes[i].Inputs {
			if dep, ok := outputToNode[in]; ok {
				visit(dep)
			}
		}
		sorted = append(sorted, nodes[i])
	}
	for i := range nodes {
		visit(i)
	}
	graph.Nodes = sorted
}
