package main

import (
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"snsgrab/pkg/config"
	"snsgrab/pkg/ui"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage snsgrab configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables (SNSGRAB_*)
  - Configuration file
  - Default values (lowest priority)`,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration to a file",
	Long: `Write every option with its default value to .snsgrab.yaml, or to the
path given with --config.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configFile
		if path == "" {
			path = ".snsgrab.yaml"
		}
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("configuration file already exists: %s", path)
		}
		if err := config.DefaultConfig().Save(path); err != nil {
			return err
		}
		ui.PrintSuccess("Configuration file created: " + path)
		fmt.Println("\nNext steps:")
		fmt.Println("1. Edit the file")
		fmt.Println("2. Run 'snsgrab config validate' to check it")
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long: `Show the configuration after merging every source. Passwords in store
connection strings are masked.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile, nil)
		if err != nil {
			return err
		}
		display := *cfg
		display.Store.MongoURI = maskURL(display.Store.MongoURI)
		display.Store.DSN = maskURL(display.Store.DSN)

		data, err := yaml.Marshal(&display)
		if err != nil {
			return fmt.Errorf("failed to format configuration: %w", err)
		}
		ui.PrintHighlight("Current Configuration")
		fmt.Println()
		fmt.Print(string(data))
		return nil
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile, nil)
		if err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}
		ui.PrintSuccess("Configuration is valid")
		fmt.Println("\nConfiguration summary:")
		fmt.Printf("  Output directory: %s\n", cfg.Output.BaseDirectory)
		fmt.Printf("  Concurrent downloads: %d\n", cfg.Download.ConcurrentDownloads)
		fmt.Printf("  Max retries: %d\n", cfg.Download.MaxRetries)
		if cfg.RateLimit.RequestsPerMinute > 0 {
			fmt.Printf("  Rate limit: %d requests/minute\n", cfg.RateLimit.RequestsPerMinute)
		} else {
			fmt.Println("  Rate limit: off")
		}
		fmt.Printf("  Store: %s\n", cfg.Store.Driver)
		fmt.Printf("  Log level: %s\n", cfg.Logging.Level)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(initCmd, showCmd, validateCmd)
}

// maskURL hides the password of a connection URL
func maskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
