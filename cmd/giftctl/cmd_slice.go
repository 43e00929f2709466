package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"giftforge/internal/slicer"
	"giftforge/internal/slicer/dockerrun"
)

func newSliceCmd(root *rootFlags) *cobra.Command {
	var material string
	cmd := &cobra.Command{
		Use:   "slice <mesh.stl>",
		Short: "Slice a mesh locally and print its quote",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := slicer.LoadConfigFromEnv()
			materials, err := root.materials(cfg.Cost)
			if err != nil {
				return err
			}

			var runner slicer.Runner = slicer.ExecRunner{}
			if cfg.Runtime == slicer.RuntimeDocker {
				dcfg := dockerrun.LoadConfigFromEnv()
				dcfg.Image = cfg.Image
				if runner, err = dockerrun.New(dcfg); err != nil {
					return err
				}
			}
			est, err := slicer.NewEstimator(runner, cfg, slicer.WithMaterials(materials))
			if err != nil {
				return err
			}

			// Estimate removes its input, so slice a staged copy.
			src, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer src.Close()
			staged, err := est.Stage(src, "cli")
			if err != nil {
				return err
			}

			report, err := est.Estimate(cmd.Context(), staged, slicer.SliceConfig{Material: material})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Material:   %s\n", report.Material)
			fmt.Fprintf(out, "Volume:     %.2f cm3\n", report.VolumeCM3)
			fmt.Fprintf(out, "Weight:     %.1f g\n", report.WeightGrams)
			fmt.Fprintf(out, "Print time: %s\n", report.PrintTime)
			fmt.Fprintf(out, "Price:      %.2f\n", report.Price)
			return nil
		},
	}
	cmd.Flags().StringVar(&material, "material", "", "material profile, default profile when empty")
	return cmd
}
