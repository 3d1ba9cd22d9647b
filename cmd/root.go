// Package cmd implements the probe's CLI commands using cobra, mirroring
// the teacher's cmd/root.go persistent-flags-and-Execute() structure,
// generalized down from the teacher's daemon/task/reload/stop command
// family to the probe's single-lifecycle shape (spec.md §9: "run until
// SIGTERM").
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFile string

// rootCmd is the base command invoked when the binary is called
// without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "probe",
	Short: "VXLAN traffic-mirroring probe",
	Long: `probe ingests VXLAN-mirrored traffic, tracks per-flow byte/packet
counters across a bounded-memory worker pool, enriches source and
destination addresses against EC2 instance inventory, and emits
periodic top-N flow reports plus rate-based alerts.`,
	Version: version,
}

// Execute runs rootCmd; child commands attach themselves to it in their
// own init functions. Called once from main.main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"optional YAML config overlay (non-secret defaults only; environment variables take precedence)")
}

// exitWithError prints msg/err to stderr and exits 1, matching
// spec.md §7's "fatal startup error" policy: no panic on the hot path.
func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}
