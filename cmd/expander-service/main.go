package main

import (
	"fmt"
	"os"

	"expander-service/cmd/expander-service/commands"
)

// Version information - set during build
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.SetVersionInfo(version, commit, date)

	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "expander-service: %v\n", err)
		os.Exit(1)
	}
}
