package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	logLevelFlag     string
	mcpTransportFlag string

	rootCmd = &cobra.Command{
		Use:   "evermem",
		Short: "Semantic long-term memory service with an MCP tool surface",
	}
)

func main() {
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "info", "Log level: debug|info|warn|error")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the memory service: tool server, debug HTTP and maintenance loops",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
	serveCmd.Flags().StringVar(&mcpTransportFlag, "transport", "", "Override MEMORY_MCP_TRANSPORT (stdio|http)")
	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
