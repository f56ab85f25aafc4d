package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ksachdeva/probability/pkg/mcmc"
)

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "List the built-in target distributions",
	RunE: func(cmd *cobra.Command, args []string) error {
		if IsJSONOutput() || IsYAMLOutput() {
			return printStructured(map[string][]string{"targets": mcmc.TargetNames()})
		}
		for _, name := range mcmc.TargetNames() {
			fmt.Println(name)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(targetsCmd)
}
