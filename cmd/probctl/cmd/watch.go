package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ksachdeva/probability/pkg/models"
)

var watchInterval time.Duration

// watchCmd polls a run until it reaches a terminal state
var watchCmd = &cobra.Command{
	Use:   "watch <run-id>",
	Short: "Watch a run until it finishes",
	Long: `Poll the daemon for a run's progress and print updates until the
run completes, fails or is canceled.

Example:
  probctl watch 2f9c573a-... --interval 2s`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().DurationVar(&watchInterval, "interval", 2*time.Second, "Polling interval")
}

func runWatch(cmd *cobra.Command, args []string) error {
	runID := args[0]

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	var lastProgress = -1
	for {
		run, err := fetchRun(runID)
		if err != nil {
			return err
		}

		if run.Progress != lastProgress {
			lastProgress = run.Progress
			fmt.Printf("%s  %-9s  %d/%d draws  accept %.2f%%\n",
				time.Now().Format("15:04:05"), run.Status,
				run.Progress, run.Spec.NumResults, 100*run.AcceptanceRate)
		}

		if models.IsTerminalState(run.Status) {
			switch run.Status {
			case models.RunStatusCompleted:
				fmt.Printf("Run %s completed\n", run.ID)
			case models.RunStatusFailed:
				fmt.Printf("Run %s failed: %s\n", run.ID, run.Error)
			case models.RunStatusCanceled:
				fmt.Printf("Run %s canceled\n", run.ID)
			}
			return nil
		}

		select {
		case <-ticker.C:
		case sig := <-sigChan:
			fmt.Printf("\nReceived signal %v, stopping watch (run keeps going)\n", sig)
			return nil
		}
	}
}
