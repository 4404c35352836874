package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/alphaledger/internal/cli"
	"github.com/cloo-solutions/alphaledger/internal/cli/admin"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "alphaledgerd",
		Short: "AlphaLedger daemon and CLI",
		Long:  "AlphaLedger indexes financial disclosures, tracks forward-looking assumptions and explains price moves",
	}

	cli.AddHelpJSONFlag(rootCmd)
	rootCmd.AddCommand(admin.ServeCmd())
	rootCmd.AddCommand(admin.MigrateCmd())
	rootCmd.AddCommand(admin.SourceCmd())
	rootCmd.AddCommand(admin.SearchCmd())
	rootCmd.AddCommand(admin.AssumptionCmd())
	rootCmd.AddCommand(admin.AttributionCmd())

	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	handled, err := cli.HandleHelpJSON(os.Stdout, rootCmd, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if handled {
		return
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
