// Package main is the entry point for the ministack user-space IPv4 stack.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/ministack/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
