// Command overscale converts super-resolution safetensors checkpoints to
// ONNX per a YAML conversion document.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/overscale-ml/overscale/pkg/version"
)

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "overscale",
		Short:        "convert super-resolution checkpoints to ONNX",
		Version:      version.Get().String(),
		SilenceUsage: true,
	}
	cmd.AddCommand(
		NewConvertCmd(),
		NewValidateCmd(),
		NewInspectCmd(),
		NewVersionCmd(),
	)
	return cmd
}
