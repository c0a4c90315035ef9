package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "carewatch",
	Short: "Tracks staff and patients on camera and flags patients left without attention",
	Long: `carewatch follows people across frames, re-identifies patients by appearance,
detects staff to patient interactions and ranks patients by time since their last one.`,
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
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config (defaults to $CAREWATCH_CONFIG)")
}

func initConfig() {
	// .env file is optional
	_ = godotenv.Load()
	if configPath == "" {
		configPath = os.Getenv("CAREWATCH_CONFIG")
	}
}
