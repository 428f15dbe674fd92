// The main package for the chartcrawler executable.
package main

import (
	"github.com/hotcharts/chartcrawler/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
