// Package cmd contains all the commands included in the binary file.
package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// NewRootCommand enables all children commands to read flags from CLI flags, environment variables prefixed with OBJECTLOADER, or config.yaml (in that order).
func NewRootCommand() *cobra.Command {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix("OBJECTLOADER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	configPaths := []string{"/etc/objectloader", "$HOME/.objectloader", "."}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	return &cobra.Command{
		Use:   "objectloader",
		Short: "Load Speckle object graphs through a local cache",
		Long: `Load Speckle object graphs through a local cache.

objectloader resolves a root object, then streams every object it references,
reading from the local cache first and downloading what is missing in batches.`,
		SilenceUsage: true,
	}
}
