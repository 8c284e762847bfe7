// Command fixloop is the command line entry point of the repair loop and its
// supporting services.
package main

import (
	"os"

	"github.com/avi3tal/fixloop/internal/sandbox"
)

func main() {
	// fixloop starts itself again to run each Lua program
	if sandbox.IsChild() {
		os.Exit(sandbox.ServeChild())
	}
	Execute()
}
