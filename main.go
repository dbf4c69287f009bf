// The main package for the leadcrawler executable.
package main

import (
	"github.com/JakeFAU/forum-lead-crawler/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
