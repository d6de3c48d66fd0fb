package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	serverURL string
	sender    string
	secret    string
)

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:          "swapctl",
		Short:        "Operator CLI for the swap relay",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("SWAPRELAY_SERVER", "http://localhost:3000"), "Relay API base URL")
	rootCmd.PersistentFlags().StringVar(&sender, "sender", os.Getenv("SWAPRELAY_CALLER_SENDER"), "Caller address")
	rootCmd.PersistentFlags().StringVar(&secret, "secret", os.Getenv("SWAPRELAY_CALLER_SECRET"), "Caller HMAC secret")

	rootCmd.AddCommand(
		putSwapCmd(),
		setPalomaCmd(),
		updateCompassCmd(),
		updateRefundWalletCmd(),
		updateFeeCmd(),
		updateJobIDCmd(),
		jobIDCmd(),
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
