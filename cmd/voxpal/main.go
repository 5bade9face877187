// Package main is the entry point for the voxpal device runtime.
//
// Usage:
//
//	voxpal [flags] <command>
//
// Commands:
//
//	run       - Run the device runtime (default)
//	activate  - Register and activate the device, then exit
package main

import (
	"fmt"
	"os"

	"github.com/voxpal/voxpal/cmd/voxpal/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
