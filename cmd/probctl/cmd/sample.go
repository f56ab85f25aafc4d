package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/ksachdeva/probability/pkg/mcmc"
	"github.com/ksachdeva/probability/pkg/stats"
)

var (
	localTarget   string
	localDims     int
	localStepSize float64
	localBurnin   int64
	localThinning int64
	localNumDraws int
	localSeed     int64
	localShowAll  bool
)

// sampleCmd runs a chain locally, without a daemon
var sampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Run a sampling chain locally",
	Long: `Run a chain in-process and print summary statistics of the
surfaced draws. Useful for exploring targets and discard settings
before submitting a run to the daemon.

Example:
  probctl sample --target banana --dims 2 --draws 5000 --burnin 1000 --thinning 2`,
	RunE: runSample,
}

func init() {
	rootCmd.AddCommand(sampleCmd)

	sampleCmd.Flags().StringVar(&localTarget, "target", "std-normal", "Target distribution name")
	sampleCmd.Flags().IntVar(&localDims, "dims", 1, "State dimensionality")
	sampleCmd.Flags().Float64Var(&localStepSize, "step-size", 0.5, "Proposal step size")
	sampleCmd.Flags().Int64Var(&localBurnin, "burnin", 0, "Steps to discard before the first draw")
	sampleCmd.Flags().Int64Var(&localThinning, "thinning", 0, "Steps discarded between consecutive draws")
	sampleCmd.Flags().IntVar(&localNumDraws, "draws", 1000, "Number of draws to collect")
	sampleCmd.Flags().Int64Var(&localSeed, "seed", time.Now().UnixNano(), "RNG seed")
	sampleCmd.Flags().BoolVar(&localShowAll, "show-draws", false, "Print every draw instead of a summary")
}

type sampleSummary struct {
	Target     string    `json:"target" yaml:"target"`
	Dims       int       `json:"dims" yaml:"dims"`
	Draws      int       `json:"draws" yaml:"draws"`
	TotalSteps uint64    `json:"total_steps" yaml:"total_steps"`
	Accepted   int       `json:"accepted" yaml:"accepted"`
	AcceptRate float64   `json:"accept_rate" yaml:"accept_rate"`
	Mean       []float64 `json:"mean" yaml:"mean"`
	Variance   []float64 `json:"variance" yaml:"variance"`
	Elapsed    string    `json:"elapsed" yaml:"elapsed"`
}

func runSample(cmd *cobra.Command, args []string) error {
	target, err := mcmc.TargetByName(localTarget)
	if err != nil {
		return err
	}

	inner, err := mcmc.NewRandomWalkMetropolis(target, localStepSize, localSeed)
	if err != nil {
		return err
	}

	discarding, err := mcmc.NewSampleDiscardingKernel(inner, localBurnin, localThinning)
	if err != nil {
		return err
	}

	mean := stats.NewMean()
	variance := stats.NewVariance()
	kernel, err := mcmc.NewWithReductionsKernel(discarding, mean, variance)
	if err != nil {
		return err
	}

	initial := make(mcmc.State, localDims)
	accepted := 0
	var totalSteps uint64

	start := time.Now()
	_, _, err = mcmc.RunChainFunc(context.Background(), kernel, initial, localNumDraws,
		func(i int, state mcmc.State, results mcmc.KernelResults) error {
			leaf, ok := mcmc.LeafResults(results).(mcmc.RandomWalkResults)
			if !ok {
				return fmt.Errorf("unexpected leaf results type %T", mcmc.LeafResults(results))
			}
			if leaf.Accepted {
				accepted++
			}
			totalSteps = leaf.Steps

			if localShowAll {
				fmt.Printf("%6d  %s  logp=%.4f\n", i, formatState(state), leaf.TargetLogProb)
			}
			return nil
		})
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	summary := sampleSummary{
		Target:     localTarget,
		Dims:       localDims,
		Draws:      localNumDraws,
		TotalSteps: totalSteps,
		Accepted:   accepted,
		AcceptRate: float64(accepted) / float64(localNumDraws),
		Mean:       mean.Finalize(),
		Variance:   variance.Finalize(),
		Elapsed:    elapsed.String(),
	}

	if IsJSONOutput() || IsYAMLOutput() {
		return printStructured(summary)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Property", "Value")
	table.Append([]string{"Target", fmt.Sprintf("%s (%d dims)", summary.Target, summary.Dims)})
	table.Append([]string{"Draws", fmt.Sprintf("%d", summary.Draws)})
	table.Append([]string{"Chain Steps", fmt.Sprintf("%d", summary.TotalSteps)})
	table.Append([]string{"Accepted", fmt.Sprintf("%d (%.2f%%)", summary.Accepted, 100*summary.AcceptRate)})
	table.Append([]string{"Mean", formatState(summary.Mean)})
	table.Append([]string{"Variance", formatState(summary.Variance)})
	table.Append([]string{"Elapsed", summary.Elapsed})
	table.Render()
	return nil
}
