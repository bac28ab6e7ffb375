package main

import (
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"snsgrab/pkg/ui"
)

var (
	// Version information
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile    string
	logLevel      string
	useTUI        bool
	quiet         bool
	verbose       bool
	notifications bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "snsgrab",
	Short: "Harvest and download media from Instagram profiles and Twitter searches",
	Long: `snsgrab walks an Instagram profile or a Twitter search in a headless
browser, resolves every post, and downloads its images and videos.

Every run ends with a snapshot of what could not be fetched or downloaded.
Resume commands pick up exactly those items:

  snsgrab instagram "Jane Doe" janedoe --until-date 2021-01-01
  snsgrab instagram-resume "Jane Doe"`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if quiet {
			ui.Output = io.Discard
		}
		// the logo would be drawn under the alternate screen
		if useTUI || quiet {
			return
		}
		if cmd.Name() != "help" && cmd.Name() != "version" {
			ui.PrintLogo()
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.Red("Error: "+err.Error()))
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is ./.snsgrab.yaml or ~/.config/snsgrab/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&useTUI, "tui", false, "use interactive terminal UI with real-time progress")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress all output except errors")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "print every item and all logs")
	rootCmd.PersistentFlags().BoolVar(&notifications, "notify", false, "send a desktop notification when a run ends")

	rootCmd.SetVersionTemplate(`snsgrab {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
