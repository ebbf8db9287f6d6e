// The main package for the swimcrawl executable.
package main

import (
	"github.com/himanalot/swimmer-elo/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
