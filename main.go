// The main package for the leadsniffer executable.
package main

import (
	"github.com/JakeFAU/leadsniffer/cmd"
)

// main defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
