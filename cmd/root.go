// Package cmd implements the go-forge CLI.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagConfig    string
	flagRootFS    string
	flagDisableUI bool
)

var rootCmd = &cobra.Command{
	Use:   "go-forge",
	Short: "From-source operating system assembler",
	Long: `go-forge plans and executes the builds needed to bring a set of
target builds to built status, driving a dependency graph of build and
download jobs with load-adaptive parallelism.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "forge.ini", "configuration file")
	rootCmd.PersistentFlags().StringVar(&flagRootFS, "rootfs", "", "override the store root filesystem path")
	rootCmd.PersistentFlags().BoolVar(&flagDisableUI, "no-ui", false, "disable the terminal UI")
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
