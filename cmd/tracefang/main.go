// Package main provides the entry point for the tracefang CLI tool.
package main

import (
	"fmt"
	"os"

	"github.com/Sumatoshi-tech/tracefang/cmd/tracefang/commands"
)

func main() {
	root := commands.NewRootCommand()

	err := root.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
