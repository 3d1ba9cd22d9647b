// Command probe is the entry point for the VXLAN traffic-mirroring
// probe.
package main

import (
	"fmt"
	"os"

	"github.com/cloudmirror/probe/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
