package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"snsgrab/pkg/auth"
	"snsgrab/pkg/instagram"
	"snsgrab/pkg/twitter"
	"snsgrab/pkg/ui"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage stored browser sessions",
	Long: `Manage the browser sessions used to harvest while logged in.

Sessions are stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation
  - Environment variables (SNSGRAB_<PLATFORM>_COOKIES, read only)

Never share your cookies or config files!`,
}

var loginCmd = &cobra.Command{
	Use:   "login <instagram|twitter> [account]",
	Short: "Store the session cookies of an account",
	Long: `Store the cookies of a logged-in browser session.

You will be prompted for the account name (if not given) and the Cookie
request header copied from your browser's developer tools. The header is
hidden as you type.`,
	Example: `  snsgrab auth login instagram
  snsgrab auth login twitter myhandle`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runLogin,
}

var removeCmd = &cobra.Command{
	Use:     "remove <instagram|twitter> <account>",
	Aliases: []string{"logout"},
	Short:   "Remove a stored session",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := auth.NewManager("")
		if err != nil {
			return fmt.Errorf("failed to initialize credential manager: %w", err)
		}
		if err := manager.Delete(args[0], args[1]); err != nil {
			return fmt.Errorf("failed to remove session: %w", err)
		}
		ui.PrintSuccess("Session removed: " + auth.Key(args[0], args[1]))
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored sessions",
	Long:  `List all stored sessions with masked cookie values.`,
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(loginCmd, removeCmd, listCmd)
}

func checkPlatform(p string) error {
	switch p {
	case instagram.Name, twitter.Name:
		return nil
	}
	return fmt.Errorf("unknown platform %q, expected instagram or twitter", p)
}

func runLogin(cmd *cobra.Command, args []string) error {
	platform := strings.ToLower(args[0])
	if err := checkPlatform(platform); err != nil {
		return err
	}
	manager, err := auth.NewManager("")
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	reader := bufio.NewReader(os.Stdin)
	auth.ShowCookieExtractionGuide(os.Stdout, platform)

	fmt.Print("Ready to enter your cookies? (Y/n): ")
	ready, _ := reader.ReadString('\n')
	if strings.ToLower(strings.TrimSpace(ready)) == "n" {
		fmt.Printf("\nRun 'snsgrab auth login %s' when you're ready.\n", platform)
		return nil
	}
	fmt.Println()

	var account string
	if len(args) > 1 {
		account = args[1]
	}
	if account == "" {
		fmt.Printf("%s account: ", platform)
		input, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read account: %w", err)
		}
		account = strings.TrimPrefix(strings.TrimSpace(input), "@")
	}
	if account == "" {
		return fmt.Errorf("account is required")
	}

	if existing, _ := manager.Retrieve(platform, account); existing != nil {
		fmt.Printf("\nSession '%s' already exists. Replace it? (y/N): ", existing.Key())
		input, _ := reader.ReadString('\n')
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(input)), "y") {
			return nil
		}
	}

	var cookies map[string]string
	for {
		fmt.Print("\nCookie header (hidden): ")
		header, err := readPassword()
		if err != nil {
			return fmt.Errorf("failed to read cookies: %w", err)
		}
		if strings.EqualFold(header, "help") {
			fmt.Println()
			auth.ShowQuickExtractGuide(os.Stdout, platform)
			continue
		}
		cookies, err = auth.ParseCookieHeader(header)
		if err == nil {
			candidate := &auth.Session{Platform: platform, Account: account, Cookies: cookies}
			err = candidate.Validate()
		}
		if err == nil {
			break
		}
		fmt.Printf("\n%s\n", ui.Red(err.Error()))
		fmt.Print("Try again? (Y/n): ")
		again, _ := reader.ReadString('\n')
		if strings.ToLower(strings.TrimSpace(again)) == "n" {
			return err
		}
	}

	fmt.Print("\n\nUser Agent (press Enter to use default): ")
	userAgent, _ := reader.ReadString('\n')

	session := &auth.Session{
		Platform:     platform,
		Account:      account,
		Cookies:      cookies,
		UserAgent:    strings.TrimSpace(userAgent),
		LastModified: time.Now(),
	}
	if err := manager.Store(session); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}

	ui.PrintSuccess("Session saved: " + session.Key())
	fmt.Println("\nUse it with:")
	fmt.Printf("   $ snsgrab %s ... --account %s\n", platform, account)
	fmt.Println("\nNever share your cookies or config files!")
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager("")
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}
	sessions, err := manager.List()
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(sessions) == 0 {
		ui.PrintInfo("No stored sessions", "use 'snsgrab auth login <platform>' to add one")
		return nil
	}

	ui.PrintHighlight("Stored Sessions")
	fmt.Println()
	for i, s := range sessions {
		masked := auth.SanitizeSession(s)
		fmt.Printf("%d. %s\n", i+1, masked.Key())
		for _, c := range masked.HTTPCookies() {
			fmt.Printf("   %s: %s\n", c.Name, c.Value)
		}
		if masked.UserAgent != "" {
			fmt.Printf("   User Agent: %s\n", masked.UserAgent)
		}
		if !masked.LastModified.IsZero() {
			fmt.Printf("   Last Modified: %s\n", masked.LastModified.Format("2006-01-02 15:04:05"))
		}
		fmt.Println()
	}
	return nil
}

// readPassword reads a line without echo
func readPassword() (string, error) {
	b, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}
