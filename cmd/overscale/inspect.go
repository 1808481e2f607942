package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/overscale-ml/overscale/internal/loader"
	"github.com/overscale-ml/overscale/internal/onnx"
)

func NewInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <model.onnx|checkpoint.safetensors>",
		Short: "summarize an ONNX model or a safetensors checkpoint",
		Example: `
  overscale inspect out/model.onnx
  overscale inspect weights/net_g.safetensors
		`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			switch strings.ToLower(filepath.Ext(path)) {
			case ".onnx":
				return inspectONNX(cmd, path)
			case ".safetensors":
				return inspectSafeTensors(cmd, path)
			default:
				return errors.New("inspect: expected a .onnx or .safetensors file")
			}
		},
	}
	return cmd
}

func inspectONNX(cmd *cobra.Command, path string) error {
	info, err := onnx.GetModelInfo(path)
	if err != nil {
		return fmt.Errorf("inspect %s: %w", path, err)
	}

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.AppendHeader(table.Row{"Field", "Value"})
	t.AppendRow(table.Row{"graph", info.GraphName})
	t.AppendRow(table.Row{"producer", info.ProducerName + " " + info.ProducerVersion})
	t.AppendRow(table.Row{"ir version", info.IRVersion})
	t.AppendRow(table.Row{"opset", info.OpsetVersion})
	t.AppendRow(table.Row{"inputs", strings.Join(info.InputNames, ", ")})
	t.AppendRow(table.Row{"outputs", strings.Join(info.OutputNames, ", ")})
	t.AppendRow(table.Row{"nodes", info.NumNodes})
	t.AppendRow(table.Row{"initializers", info.NumInitializers})
	t.AppendRow(table.Row{"parameters", info.NumParameters})
	t.Render()

	ops := make([]string, 0, len(info.OpCounts))
	for op := range info.OpCounts {
		ops = append(ops, op)
	}
	sort.Strings(ops)

	ot := table.NewWriter()
	ot.SetOutputMirror(cmd.OutOrStdout())
	ot.AppendHeader(table.Row{"Op", "Count"})
	for _, op := range ops {
		ot.AppendRow(table.Row{op, info.OpCounts[op]})
	}
	ot.Render()
	return nil
}

func inspectSafeTensors(cmd *cobra.Command, path string) error {
	reader, err := loader.NewSafeTensorsReader(path)
	if err != nil {
		return fmt.Errorf("inspect %s: %w", path, err)
	}
	defer reader.Close()

	names := reader.TensorNames()
	sort.Strings(names)

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.AppendHeader(table.Row{"Tensor", "DType", "Shape", "Bytes"})
	var totalBytes int64
	for _, name := range names {
		info, err := reader.TensorInfo(name)
		if err != nil {
			return err
		}
		size := info.DataOffsets[1] - info.DataOffsets[0]
		totalBytes += size
		t.AppendRow(table.Row{name, string(info.DType), shapeString(info.Shape), size})
	}
	t.AppendFooter(table.Row{fmt.Sprintf("%d tensors", len(names)), "", "", totalBytes})
	t.Render()

	if meta := reader.Metadata(); len(meta) > 0 {
		keys := make([]string, 0, len(meta))
		for k := range meta {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		mt := table.NewWriter()
		mt.SetOutputMirror(cmd.OutOrStdout())
		mt.AppendHeader(table.Row{"Metadata", "Value"})
		for _, k := range keys {
			mt.AppendRow(table.Row{k, meta[k]})
		}
		mt.Render()
	}
	return nil
}

func shapeString(shape []int) string {
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = fmt.Sprint(d)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
