// ABOUTME: Entry point for coven-joinlink
// ABOUTME: Cobra root command, config/data path resolution and logger setup

package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const banner = `
                                      _       _       _ _       _
  ___ _____   _____ _ __             (_) ___ (_)_ __ | (_)_ __ | | __
 / __/ _ \ \ / / _ \ '_ \ _____      | |/ _ \| | '_ \| | | '_ \| |/ /
| (_| (_) \ V /  __/ | | |_____|     | | (_) | | | | | | | | | |   <
 \___\___/ \_/ \___|_| |_|          _/ |\___/|_|_| |_|_|_|_| |_|_|\_\
                                   |__/
`

// Set at build time with -ldflags "-X main.version=...".
var version = "dev"

var configFlag string

var rootCmd = &cobra.Command{
	Use:   "coven-joinlink",
	Short: "Matrix bot that hands out join links for invite-only rooms",
	Long: `coven-joinlink creates public gateway rooms for invite-only Matrix rooms.
Anyone joining a gateway is invited to the linked room and removed from the
gateway. Running without a subcommand starts the bot.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runBot(cmd.Context(), configPath())
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the bot",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runBot(cmd.Context(), configPath())
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Interactively write a configuration file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runInit(cmd.InOrStdin(), configPath())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "coven-joinlink %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "config file (default: $JOINLINK_CONFIG or $XDG_CONFIG_HOME/coven/joinlink.toml)")
	rootCmd.AddCommand(runCmd, initCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func configPath() string {
	if configFlag != "" {
		return configFlag
	}
	return getConfigPath()
}

// getConfigPath returns the path to the config file.
// Priority: JOINLINK_CONFIG env var > XDG_CONFIG_HOME/coven/joinlink.toml > ~/.config/coven/joinlink.toml
func getConfigPath() string {
	if envPath := os.Getenv("JOINLINK_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "joinlink.toml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "coven", "joinlink.toml")
}

// getDataPath returns the data directory used when the config sets none.
// Priority: XDG_DATA_HOME/coven/joinlink > ~/.local/share/coven/joinlink
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "coven", "joinlink")
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}

	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
