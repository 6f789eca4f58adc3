package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"skyport/internal/adapter/gateway"
	"skyport/internal/adapter/tui/uxerror"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "skyport",
	Short: "Move an Instagram archive to Bluesky",
	Long: `skyport drives the Instagram-to-Bluesky migration tool: it launches the
tool, follows its output and shows live progress, warnings and a final report.

Run 'skyport run --archive PATH --user HANDLE' to start a migration, or
'skyport serve' to expose the local bridge used by the desktop front end.`,
	Version:       gateway.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: $SKYPORT_CONFIG or ./skyport.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(encryptCmd)
	rootCmd.AddCommand(doctorCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError(err)
		os.Exit(exitCode(err))
	}
}

// configPath resolves the config file: --config, then SKYPORT_CONFIG, then
// ./skyport.yaml.
func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if p := os.Getenv("SKYPORT_CONFIG"); p != "" {
		return p
	}
	return "skyport.yaml"
}

// runFailedError reports a migration that ran but did not complete.
type runFailedError struct {
	message string
	code    int
}

func (e *runFailedError) Error() string { return e.message }

func printError(err error) {
	var failed *runFailedError
	if errors.As(err, &failed) {
		fmt.Fprintln(os.Stderr, uxerror.HumanizeMessage(failed.message).Render())
		return
	}
	fmt.Fprintln(os.Stderr, uxerror.Humanize(err).Render())
}

func exitCode(err error) int {
	var failed *runFailedError
	if errors.As(err, &failed) && failed.code > 0 {
		return failed.code
	}
	return 1
}
