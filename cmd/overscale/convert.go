package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/overscale-ml/overscale/internal/config"
	"github.com/overscale-ml/overscale/internal/convert"
	"github.com/overscale-ml/overscale/internal/export"
	"github.com/overscale-ml/overscale/pkg/version"
)

func NewConvertCmd() *cobra.Command {
	configPath := ""
	output := ""
	cmd := &cobra.Command{
		Use:   "convert",
		Short: "run a conversion per the configuration file",
		Example: `
  overscale convert -c 4x_esrgan.yml
  overscale convert -c 4x_esrgan.yml -o out/model.onnx
		`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			export.SetProducerVersion(version.Get().GitVersion)
			result, err := convert.Run(convert.Options{
				Config:     cfg,
				OutputPath: output,
				Logger:     slog.New(slog.NewTextHandler(os.Stderr, nil)),
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), result.Path)
			if result.FP16Path != "" {
				fmt.Fprintln(cmd.OutOrStdout(), result.FP16Path)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "conversion config file")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output ONNX path (default <name>.onnx)")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}
