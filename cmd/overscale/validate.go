package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/overscale-ml/overscale/internal/config"
)

func NewValidateCmd() *cobra.Command {
	configPath := ""
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "check a configuration file without converting",
		Example: `
  overscale validate -c 4x_esrgan.yml
		`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: ok\n", configPath)
			fmt.Fprintf(out, "  name: %s\n", cfg.Name)
			fmt.Fprintf(out, "  network: %s (scale %d)\n", cfg.Network.Type, cfg.Scale)
			fmt.Fprintf(out, "  checkpoint: %s\n", cfg.Path.PretrainNetworkG)
			if cfg.ONNX.UseStaticShapes {
				fmt.Fprintf(out, "  export: opset %d, static shape %s\n", cfg.ONNX.Opset, cfg.ONNX.Shape)
			} else {
				fmt.Fprintf(out, "  export: opset %d, dynamic shapes\n", cfg.ONNX.Opset)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "conversion config file")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}
