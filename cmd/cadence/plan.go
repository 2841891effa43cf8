package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cuemby/cadence/pkg/analysis"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Print the best batch composition for each target",
	Long: `Plan runs the batch planner against the configured targets as they are
right now and prints the composition each scheduler would start with.

Examples:
  # Plan every target
  cadence plan -c cadence.yaml

  # Plan one target with more cores per worker
  cadence plan -c cadence.yaml --target joesguns --cores 4`,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringSlice("target", nil, "Targets to plan (default: every configured target)")
	planCmd.Flags().Int("cores", 1, "Cores assumed for each worker")
}

func runPlan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	names, _ := cmd.Flags().GetStringSlice("target")
	cores, _ := cmd.Flags().GetInt("cores")

	specs, err := targetSpecs(cfg, names)
	if err != nil {
		return err
	}

	world := cfg.World()
	opts := cfg.SchedulerConfig().PlanOptions(cores)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TARGET\tCOMPOSITION\tSCORE\tSTRIDE\tPREDICTED\tMEMORY\tPEAK\tYIELD")
	for _, spec := range specs {
		model := world.Model(spec.Name)
		if model == nil || model.MaxMoney() <= 0 {
			fmt.Fprintf(w, "%s\t-\t-\t-\t-\t-\t-\t-\n", spec.Name)
			continue
		}

		targetOpts := opts
		if spec.MinHacks > 0 {
			targetOpts.MinCount = spec.MinHacks
		}
		a := analysis.Plan(model, targetOpts)
		fmt.Fprintf(w, "%s\t%s\t%.4g\t%s\t%s\t%.2f\t%.2f\t%.0f (%.1f%%)\n",
			spec.Name,
			a.Composition,
			a.Score,
			a.Composition.Stride,
			a.PredictedTime,
			a.Memory,
			a.PeakMemory,
			a.Yield,
			a.YieldFraction*100,
		)
	}
	return w.Flush()
}
