package main

import (
	"os"

	"github.com/ksachdeva/probability/cmd/probctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
