package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for prodcrawl.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prodcrawl",
		Short: "Discover product page URLs on e-commerce sites",
		Long: `prodcrawl crawls e-commerce sites breadth-first from their homepages and
records every link that looks like a product page, grouped by domain.

Pages are fetched over plain HTTP by default. Shops that build their
catalog with JavaScript can be rendered in headless Chromium with
--render=headless, or only when the static page has no links with
--render=auto.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags that apply to all commands
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().Bool("log-json", false, "Write logs to stderr as JSON lines")

	cmd.AddCommand(NewCrawlCmd())
	cmd.AddCommand(NewHistoryCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}
