package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var brokerURL string

	rootCmd := &cobra.Command{
		Use:   "cli",
		Short: "Operate the local build task broker",
	}
	rootCmd.PersistentFlags().StringVar(&brokerURL, "broker", envOr("BROKER_URL", "http://localhost:8080"), "broker base URL")

	rootCmd.AddCommand(
		submitCmd(&brokerURL),
		claimCmd(&brokerURL),
		statusCmd(&brokerURL),
		apiCmd(),
		verifyCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
