package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cachehub/mirror/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "mirrord",
	Short: "mirrord - caching mirror for package ecosystems",
	Long: `mirrord caches and re-serves upstream artifacts for PyPI, npm, Go
modules, OCI registries, APT, and YUM repositories behind a single binary,
with upstream failover, scheduled sync, cache prewarming, and an HTTP
control API.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"mirrord version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("settings", "", "Path to a settings.json file merged over the built-in defaults")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(prewarmCmd)
	rootCmd.AddCommand(migrateCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func settingsPath(cmd *cobra.Command) string {
	p, _ := cmd.Flags().GetString("settings")
	if p == "" {
		p, _ = cmd.Root().PersistentFlags().GetString("settings")
	}
	return p
}
