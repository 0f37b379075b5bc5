package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scraper",
		Short: "Headless-browser scraping service.",
		Long: `scraper drives one shared headless Chrome to fetch fully rendered pages
and extract organic search results, behind a small HTTP API.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", "path to a YAML config file")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newConfigCmd())
	return cmd
}
