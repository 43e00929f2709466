package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"giftforge/internal/config"
	"giftforge/internal/workflow"
)

func newBindCmd(root *rootFlags) *cobra.Command {
	var (
		stage  string
		params workflow.Params
	)
	cmd := &cobra.Command{
		Use:   "bind <template.json>",
		Short: "Print a template with request values bound into its slots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pf, err := config.LoadPipelineFile(root.pipelineConfig)
			if err != nil {
				return err
			}
			profile, err := stageProfile(stage, pf)
			if err != nil {
				return err
			}
			tmpl, err := workflow.LoadTemplate(args[0])
			if err != nil {
				return err
			}
			graph := tmpl.Bind(profile.Bindings(params))

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(graph)
		},
	}
	f := cmd.Flags()
	f.StringVar(&stage, "stage", "image", "stage profile: image or mesh")
	f.StringVar(&params.Prompt, "prompt", "", "visual prompt")
	f.StringVar(&params.Image, "image", "", "input image file name")
	f.Float64Var(&params.Guidance, "guidance", 0, "sampler guidance")
	f.IntVar(&params.Steps, "steps", 0, "sampler steps")
	f.IntVar(&params.Width, "width", 0, "image width")
	f.IntVar(&params.Height, "height", 0, "image height")
	return cmd
}

func stageProfile(name string, pf *config.PipelineFile) (workflow.StageProfile, error) {
	var p workflow.StageProfile
	switch name {
	case "image":
		p = workflow.ImageStage()
	case "mesh":
		p = workflow.MeshStage()
	default:
		return p, fmt.Errorf("unknown stage %q, want image or mesh", name)
	}
	return p.WithOverrides(pf.Stages[name]), nil
}
