package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Store the auth token for server connections",
	Long: `Token prompts for a bearer token (obtained from the account service)
and writes it to the configured token file. The token is read without
echoing to the terminal.`,
	RunE: runToken,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	tokenFile := cfg.Auth.TokenFile
	if tokenFile == "" {
		tokenFile = filepath.Join(cfg.Storage.DataDir, "token.json")
	}

	fmt.Print("Token: ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("read token: %w", err)
	}
	if len(raw) == 0 {
		return fmt.Errorf("empty token")
	}

	if err := os.MkdirAll(filepath.Dir(tokenFile), 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}

	payload, err := json.Marshal(map[string]string{"token": string(raw)})
	if err != nil {
		return err
	}
	if err := os.WriteFile(tokenFile, payload, 0o600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}

	fmt.Printf("Token saved to %s\n", tokenFile)
	return nil
}
