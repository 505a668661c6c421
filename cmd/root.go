package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "facegate",
	Short: "Password plus face login for web accounts",
	Long: `facegate registers accounts with an email, a password and a face
descriptor, and signs users in by checking the password first and then
comparing a live camera capture against the enrolled face.

Run "facegate serve" for the HTTP API and browser client, or use the
enroll/verify commands with image files.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
