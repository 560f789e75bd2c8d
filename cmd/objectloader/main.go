package main

import (
	"os"

	"github.com/specklesystems/objectloader2/cmd"
	"github.com/specklesystems/objectloader2/cmd/load"
	"github.com/specklesystems/objectloader2/cmd/migrate"
)

func main() {
	rootCmd := cmd.NewRootCommand()

	loadCmd := load.NewLoadCommand()
	rootCmd.AddCommand(loadCmd)

	migrateCmd := migrate.NewMigrateCommand()
	rootCmd.AddCommand(migrateCmd)

	versionCmd := cmd.NewVersionCommand()
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
