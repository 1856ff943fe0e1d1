package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"go-forge/config"
	"go-forge/store"
)

var flagInstalled bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List built packages in the store",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&flagInstalled, "installed", false, "list installed packages only")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(flagConfig)
	if err != nil {
		return err
	}
	if flagRootFS != "" {
		cfg.RootFSPath = flagRootFS
	}

	reader := store.NewReader(cfg.RootFSPath)

	if flagInstalled {
		installed, err := reader.InstalledPackages()
		if err != nil {
			return err
		}
		for _, name := range sortedKeys(installed) {
			pkg := installed[name]
			fmt.Printf("%s %s\n", pkg.Name, pkg.Version)
		}
		return nil
	}

	built, err := reader.BuiltPackages()
	if err != nil {
		return err
	}
	for _, name := range sortedKeys(built) {
		latest := built[name][store.LatestKey]
		versions := 0
		for version := range built[name] {
			if version != store.LatestKey {
				versions++
			}
		}
		fmt.Printf("%s %s (%d versions)\n", name, latest.Version, versions)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
