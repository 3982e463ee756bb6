// Package cli provides the command-line interface for boorupan.
package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version and Commit are set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

const defaultConfigDir = ".boorupan"

// configDir is the directory holding config.yaml.
var configDir = defaultConfigDir

// env binds persistent flags and BOORUPAN_* variables.
var env = newEnv()

var rootCmd = &cobra.Command{
	Use:   "boorupan",
	Short: "Aggregate booru feeds and keep favorites in sync",
	Long:  "boorupan merges listings from several booru sites into one ranked feed and keeps a favorites collection synchronized with a remote sync service.",
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		if dir := env.GetString("config"); dir != "" {
			configDir = dir
		}
	},
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("boorupan %s (%s)\n", Version, Commit)
	},
}

func newEnv() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("BOORUPAN")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("config", defaultConfigDir, "config directory")
	pf.String("server", "", "sync server base url")
	pf.String("token", "", "sync bearer token")
	pf.String("log-level", "", "log level (debug, info, warn, error)")
	pf.String("storage", "", "storage backend (sqlite, badger)")
	for _, name := range []string{"config", "server", "token", "log-level", "storage"} {
		_ = env.BindPFlag(name, pf.Lookup(name))
	}

	rootCmd.AddCommand(versionCmd, initCmd, doctorCmd, feedCmd, favCmd, syncCmd, sitesCmd, explainCmd, statsCmd, devServerCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
