// Package main is the entry point for the encounter server
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "rpg-encounters",
	Short: "RPG encounter turn-order server",
	Long: `rpg-encounters tracks initiative and turn order for tabletop encounters and
pushes every change to the campaign's players as it happens.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(campaignCmd)
}
