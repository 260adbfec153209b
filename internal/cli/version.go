package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"s3mcp/internal/protocol"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the s3mcp version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Println("s3mcp v" + protocol.Version)
	},
}
