package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/overscale-ml/overscale/internal/onnx"
	"github.com/overscale-ml/overscale/pkg/version"
)

func NewVersionCmd() *cobra.Command {
	showOps := false
	cmd := &cobra.Command{
		Use:   "version",
		Short: "print build information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version.Get().String())
			if showOps {
				fmt.Fprintln(cmd.OutOrStdout(), "supported ops:")
				for _, op := range onnx.ListSupportedOps() {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", op)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showOps, "ops", false, "also list the ONNX operators the verifier can execute")
	return cmd
}
