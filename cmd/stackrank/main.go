package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "stackrank",
		Short: "Ranking and feed assembly for the card curation platform",
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")

	root.AddCommand(recomputeCmd())
	root.AddCommand(feedCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(runCmd())

	return root
}

func recomputeCmd() *cobra.Command {
	var (
		itemType  string
		sinceDays int
		dryRun    bool
		jsonOut   bool
	)

	cmd := &cobra.Command{
		Use:   "recompute",
		Short: "Recompute ranking scores for all eligible items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecompute(itemType, sinceDays, dryRun, jsonOut)
		},
	}

	cmd.Flags().StringVar(&itemType, "type", "", "limit to one item type (card|collection, stack accepted)")
	cmd.Flags().IntVar(&sinceDays, "since-days", 0, "only items changed in the last N days")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "compute and report without persisting")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output as JSON")
	return cmd
}

func feedCmd() *cobra.Command {
	var (
		itemType string
		mix      string
		limit    int
		offset   int
		jsonOut  bool
	)

	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Assemble and print the mixed feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFeed(itemType, mix, limit, offset, jsonOut)
		},
	}

	cmd.Flags().StringVar(&itemType, "type", "both", "feed type (card|collection|both, stack accepted)")
	cmd.Flags().StringVar(&mix, "mix", "", "type mix ratio, e.g. cards:0.6,stacks:0.4 (default: from config)")
	cmd.Flags().IntVar(&limit, "limit", 0, "page size (default: from config)")
	cmd.Flags().IntVar(&offset, "offset", 0, "page offset")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output as JSON")
	return cmd
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func runCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start daemon with periodic recompute and HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}
