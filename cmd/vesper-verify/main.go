// Command vesper-verify is a thin operational CLI around the
// verification framework: it loads a YAML config, registers demo
// handlers, and drives the Differential Harness or prints live
// metrics/confidence snapshots. It is not the spec's out-of-scope CLI
// surface — that refers to the upstream spec compiler's own CLI; this
// is an ambient convenience for operating an embedding program.
//
// Grounded on the teacher's cmd/chaos-runner: a cobra root command with
// persistent --config/--verbose flags and one subcommand per file.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
	version = "dev"
)

var rootCmd = &cobra.Command{
	Use:     "vesper-verify",
	Short:   "Dual-path verification framework for oracle/candidate migrations",
	Long:    `vesper-verify routes requests between a trusted oracle and a candidate implementation, compares their outputs, tracks confidence, and gates migration from oracle-only to direct-only traffic.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./vesper.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(metricsCmd)
	rootCmd.AddCommand(confidenceCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
