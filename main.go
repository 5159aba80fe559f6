// The main package for the scrapequeue executable.
package main

import (
	"github.com/JakeFAU/scrape-queue/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
