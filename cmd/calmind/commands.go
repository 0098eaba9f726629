package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/calmind-app/calmind/internal/config"
)

// sessionView mirrors the daemon's session snapshot for display.
type sessionView struct {
	State         string `json:"state"`
	Email         string `json:"email"`
	CompanionName string `json:"companion_name"`
	History       []struct {
		Sender    string `json:"sender"`
		Body      string `json:"body"`
		CreatedAt string `json:"created_at"`
	} `json:"history"`
	PendingReply bool `json:"pending_reply"`
	Unsynced     bool `json:"unsynced"`
}

func fetchSession(ctx context.Context, client *apiClient) (sessionView, error) {
	resp, err := client.get(ctx, "/session")
	if err != nil {
		return sessionView{}, err
	}
	var snap sessionView
	if err := decodeJSON(resp, &snap); err != nil {
		return sessionView{}, err
	}
	return snap, nil
}

func printTurn(sender, name, body string) {
	label := "you"
	if sender == "companion" {
		label = name
	}
	fmt.Printf("%s %s\n", colorize(colorBold, label+":"), body)
}

// --- signin ---

var signinCmd = &cobra.Command{
	Use:   "signin",
	Short: "Sign in with your email",
	Long: `Sign in with your email. The same email always reaches the same
conversation; a new email starts onboarding.

Examples:
  calmind signin --email you@example.com
  calmind signin --email you@example.com --name Nova`,
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		name, _ := cmd.Flags().GetString("name")

		if email == "" {
			return fmt.Errorf("--email is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/session/identity", map[string]string{
			"email":          email,
			"companion_name": name,
		})
		if err != nil {
			return err
		}

		var snap sessionView
		if err := decodeJSON(resp, &snap); err != nil {
			return err
		}

		switch snap.State {
		case "awaiting_companion_name":
			printSuccess("Signed in as %s", snap.Email)
			fmt.Println("What would you like to call your companion?")
			fmt.Println("  calmind name <name>")
		case "active":
			printSuccess("Signed in as %s", snap.Email)
			if n := len(snap.History); n > 0 {
				last := snap.History[n-1]
				printTurn(last.Sender, snap.CompanionName, last.Body)
			}
		}
		if snap.Unsynced {
			printWarning("storage unreachable, continuing locally")
		}
		return nil
	},
}

func init() {
	signinCmd.Flags().String("email", "", "email address to sign in with")
	signinCmd.Flags().String("name", "", "companion name (skips the naming step)")
}

// --- name ---

var nameCmd = &cobra.Command{
	Use:   "name <name>",
	Short: "Name your companion and start the conversation",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := strings.Join(args, " ")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/session/name", map[string]string{"name": name})
		if err != nil {
			return err
		}
		var snap sessionView
		if err := decodeJSON(resp, &snap); err != nil {
			return err
		}

		beginResp, err := client.post(cmd.Context(), "/session/begin", nil)
		if err != nil {
			return err
		}
		if err := decodeJSON(beginResp, &snap); err != nil {
			return err
		}

		printSuccess("Your companion is %s", snap.CompanionName)
		if n := len(snap.History); n > 0 {
			last := snap.History[n-1]
			printTurn(last.Sender, snap.CompanionName, last.Body)
		}
		return nil
	},
}

// --- say ---

var sayCmd = &cobra.Command{
	Use:   "say <text>",
	Short: "Send a message to your companion",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/messages", map[string]string{"text": text})
		if err != nil {
			return err
		}
		var snap sessionView
		if err := decodeJSON(resp, &snap); err != nil {
			return err
		}

		if n := len(snap.History); n > 0 {
			last := snap.History[n-1]
			if last.Sender == "companion" {
				printTurn(last.Sender, snap.CompanionName, last.Body)
			}
		}
		if snap.Unsynced {
			printWarning("storage unreachable, message kept locally")
		}
		return nil
	},
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the conversation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		snap, err := fetchSession(cmd.Context(), client)
		if err != nil {
			return err
		}

		history := snap.History
		if limit > 0 && len(history) > limit {
			history = history[len(history)-limit:]
		}

		if len(history) == 0 {
			fmt.Println("No messages yet.")
			return nil
		}
		for _, m := range history {
			printTurn(m.Sender, snap.CompanionName, m.Body)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().Int("limit", 0, "show only the last N messages")
}

// --- rename ---

var renameCmd = &cobra.Command{
	Use:   "rename <name>",
	Short: "Rename your companion",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := strings.Join(args, " ")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/companion/name", map[string]string{"name": name})
		if err != nil {
			return err
		}
		var snap sessionView
		if err := decodeJSON(resp, &snap); err != nil {
			return err
		}

		printSuccess("Your companion is now %s", snap.CompanionName)
		return nil
	},
}

// --- clear ---

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the local view (stored history is kept)",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/session/clear", nil)
		if err != nil {
			return err
		}
		var snap sessionView
		if err := decodeJSON(resp, &snap); err != nil {
			return err
		}

		printSuccess("Screen cleared. Your history is still stored; sign in again to see it.")
		return nil
	},
}

// --- forget ---

var forgetCmd = &cobra.Command{
	Use:   "forget",
	Short: "Permanently delete your stored conversation",
	Long: `Permanently delete your stored conversation. This cannot be undone.

You must type the confirmation phrase:
  calmind forget --confirm "erase everything"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetString("confirm")
		if confirm == "" {
			printWarning("This permanently deletes your stored conversation.")
			fmt.Println(`Run: calmind forget --confirm "erase everything"`)
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/messages", map[string]string{"confirm": confirm})
		if err != nil {
			return err
		}
		var result struct {
			Deleted int64 `json:"deleted"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Deleted %d stored messages", result.Deleted)
		return nil
	},
}

func init() {
	forgetCmd.Flags().String("confirm", "", "confirmation phrase")
}

// --- signout ---

var signoutCmd = &cobra.Command{
	Use:   "signout",
	Short: "Sign out and clear the local cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/session/signout", nil)
		if err != nil {
			return err
		}
		var snap sessionView
		if err := decodeJSON(resp, &snap); err != nil {
			return err
		}

		printSuccess("Signed out")
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
