package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "sheetflow",
		Short: "Sheetflow - spreadsheet AI batch processor",
		Long: `Sheetflow processes marked-up spreadsheets with AI workers.
It locates the work region by its markers, sends each unprocessed input
cell to the bound AI tool, and writes responses and statuses back to the
sheet, so interrupted runs resume where they left off.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
