package migrate

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/specklesystems/objectloader2/cmd/util"
)

// bindRunFlagsFunc binds the cobra cmd flags to the equivalent config value being managed
// by viper. This bridges the config between cobra flags and viper flags.
func bindRunFlagsFunc(flags *pflag.FlagSet) func(*cobra.Command, []string) {
	return func(command *cobra.Command, args []string) {
		util.MustBindPFlag(cacheEngineFlag, flags.Lookup(cacheEngineFlag))
		util.MustBindEnv(cacheEngineFlag, "OBJECTLOADER_CACHE_ENGINE")
		util.MustBindPFlag(cacheURIFlag, flags.Lookup(cacheURIFlag))
		util.MustBindEnv(cacheURIFlag, "OBJECTLOADER_CACHE_URI")
		util.MustBindPFlag(cacheUsernameFlag, flags.Lookup(cacheUsernameFlag))
		util.MustBindEnv(cacheUsernameFlag, "OBJECTLOADER_CACHE_USERNAME")
		util.MustBindPFlag(cachePasswordFlag, flags.Lookup(cachePasswordFlag))
		util.MustBindEnv(cachePasswordFlag, "OBJECTLOADER_CACHE_PASSWORD")
		util.MustBindPFlag(versionFlag, flags.Lookup(versionFlag))
		util.MustBindPFlag(timeoutFlag, flags.Lookup(timeoutFlag))
		util.MustBindPFlag(verboseMigrationFlag, flags.Lookup(verboseMigrationFlag))
		util.MustBindPFlag(logFormatFlag, flags.Lookup(logFormatFlag))
		util.MustBindEnv(logFormatFlag, "OBJECTLOADER_LOG_FORMAT")
		util.MustBindPFlag(logLevelFlag, flags.Lookup(logLevelFlag))
		util.MustBindEnv(logLevelFlag, "OBJECTLOADER_LOG_LEVEL")
		util.MustBindPFlag(logTimestampFormatFlag, flags.Lookup(logTimestampFormatFlag))
		util.MustBindEnv(logTimestampFormatFlag, "OBJECTLOADER_LOG_TIMESTAMP_FORMAT")
	}
}
