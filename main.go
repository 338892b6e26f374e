// The main package for the mangashelf executable.
package main

import (
	"os"

	"github.com/JakeFAU/mangashelf/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	os.Exit(cmd.Execute())
}
