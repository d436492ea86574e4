// The main package for the batchsearch executable.
package main

import (
	"github.com/JakeFAU/batchsearch/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
