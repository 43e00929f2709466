// giftctl is an operator tool for the gift pipeline: it quotes meshes with the
// configured slicer and prints bound job graphs without a running service.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"giftforge/internal/config"
	"giftforge/internal/slicer"
)

// version is set at build time via -ldflags.
var version = "dev"

type rootFlags struct {
	pipelineConfig string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:           "giftctl",
		Short:         "Operate the gift generation pipeline",
		Long:          "giftctl slices meshes into quotes and inspects workflow templates\nusing the same environment configuration as the service.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
	}
	cmd.PersistentFlags().StringVar(&flags.pipelineConfig, "pipeline-config", config.GetEnv("PIPELINE_CONFIG", ""), "pipeline YAML with stage profiles and materials")

	cmd.AddCommand(newSliceCmd(flags))
	cmd.AddCommand(newQuoteCmd(flags))
	cmd.AddCommand(newBindCmd(flags))
	return cmd
}

// materials loads the material profiles over the environment cost model.
func (f *rootFlags) materials(base slicer.CostModel) (*slicer.Materials, error) {
	pf, err := config.LoadPipelineFile(f.pipelineConfig)
	if err != nil {
		return nil, err
	}
	return slicer.NewMaterials(base, pf.Materials, pf.DefaultMaterial)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
