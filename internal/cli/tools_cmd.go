package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools exposed by a running server",
	RunE:  runTools,
}

var toolsEndpoint string

func init() {
	toolsCmd.Flags().StringVar(&toolsEndpoint, "endpoint", "", "MCP endpoint URL (default derived from config)")
}

func runTools(cmd *cobra.Command, _ []string) error {
	endpoint, err := resolveEndpoint(toolsEndpoint)
	if err != nil {
		return err
	}

	client := newRPCClient(endpoint)
	result, err := client.call("tools/list", map[string]interface{}{})
	if err != nil {
		return err
	}

	if globalFlags.JSON {
		fmt.Println(string(result))
		return nil
	}

	var parsed struct {
		Tools []struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return fmt.Errorf("decode tools/list result: %w", err)
	}
	for _, tool := range parsed.Tools {
		fmt.Printf("%-28s %s\n", tool.Name, tool.Description)
	}
	return nil
}
