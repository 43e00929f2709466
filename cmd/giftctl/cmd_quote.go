package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"giftforge/internal/slicer"
)

func newQuoteCmd(root *rootFlags) *cobra.Command {
	var (
		volume   float64
		material string
	)
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Price a print from its filament volume",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if volume < 0 {
				return fmt.Errorf("--volume must not be negative")
			}
			materials, err := root.materials(slicer.LoadConfigFromEnv().Cost)
			if err != nil {
				return err
			}
			model, ok := materials.Lookup(material)
			if !ok {
				return fmt.Errorf("unknown material %q (have %v)", material, materials.Names())
			}
			weight := model.Weight(volume)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Volume:   %.2f cm3\n", volume)
			fmt.Fprintf(out, "Weight:   %.1f g\n", weight)
			fmt.Fprintf(out, "Price:    %.2f\n", model.Price(weight))
			return nil
		},
	}
	f := cmd.Flags()
	f.Float64Var(&volume, "volume", 0, "filament volume in cm3 (required)")
	f.StringVar(&material, "material", "", "material profile, default profile when empty")
	_ = cmd.MarkFlagRequired("volume")
	return cmd
}
